package scorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

const testArtifact = `version: "2026-03-01.1"
anomaly_threshold: 0.6
response_time_threshold_ms: 500
pattern_novelty_weight: 0.1
keyword_weights:
  timeout: 0.4
  refused: 0.4
  panic: 0.8
level_weights:
  ERROR: 0.3
  FATAL: 0.5
`

func writeArtifact(t *testing.T, dir, version, body string) string {
	t.Helper()
	path := filepath.Join(dir, artifactPrefix+version+artifactExt)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

type fakeStore struct {
	unscored    []model.LogEntry
	predictions map[int64]*model.Prediction
}

func newFakeStore() *fakeStore {
	return &fakeStore{predictions: make(map[int64]*model.Prediction)}
}

func (f *fakeStore) UnscoredEntries(_ context.Context, modelVersion string, limit int) ([]model.LogEntry, error) {
	var out []model.LogEntry
	for _, e := range f.unscored {
		p, ok := f.predictions[e.ID]
		if ok && p.ModelVersion == modelVersion {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPrediction(_ context.Context, p *model.Prediction) error {
	f.predictions[p.LogEntryID] = p
	return nil
}

func newTestScorer(t *testing.T, store Store) *Scorer {
	t.Helper()
	dir := t.TempDir()
	writeArtifact(t, dir, "2026-03-01.1", testArtifact)
	s := New(store, Config{ArtifactDir: dir})
	if s.Degraded() {
		t.Fatal("scorer degraded after loading a valid artifact")
	}
	return s
}

func TestLoadArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "2026-03-01.1", testArtifact)

	a, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if a.Version != "2026-03-01.1" || a.AnomalyThreshold != 0.6 {
		t.Errorf("artifact = %+v", a)
	}
	if a.KeywordWeights["panic"] != 0.8 {
		t.Errorf("keyword weights = %v", a.KeywordWeights)
	}
}

func TestLoadArtifactRejectsBadContent(t *testing.T) {
	dir := t.TempDir()

	for name, body := range map[string]string{
		"no-version":    "anomaly_threshold: 0.5\n",
		"bad-threshold": "version: v1\nanomaly_threshold: 1.5\n",
		"not-yaml":      "{{{{",
	} {
		path := writeArtifact(t, dir, name, body)
		if _, err := LoadArtifact(path); lenserr.CodeOf(err) != lenserr.CodeScoringUnavailable {
			t.Errorf("%s: err = %v, want SCORING_UNAVAILABLE", name, err)
		}
	}
}

func TestLatestArtifactPathPicksHighestVersion(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "2026-01-01.1", testArtifact)
	writeArtifact(t, dir, "2026-03-01.2", testArtifact)
	writeArtifact(t, dir, "2026-02-15.1", testArtifact)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := LatestArtifactPath(dir)
	if err != nil {
		t.Fatalf("LatestArtifactPath: %v", err)
	}
	if filepath.Base(path) != "model-2026-03-01.2.yaml" {
		t.Errorf("latest = %s", path)
	}
}

func TestLatestArtifactPathEmptyDir(t *testing.T) {
	_, err := LatestArtifactPath(t.TempDir())
	if lenserr.CodeOf(err) != lenserr.CodeScoringUnavailable {
		t.Errorf("empty dir err = %v, want SCORING_UNAVAILABLE", err)
	}
}

func TestScoreKeywordAndLevelWeights(t *testing.T) {
	s := newTestScorer(t, newFakeStore())

	p, err := s.Score(&model.LogEntry{ID: 1, Level: "ERROR", Message: "connection timeout upstream"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// timeout 0.4 + ERROR 0.3 + novelty 0.1 = 0.8, over the 0.6 threshold.
	if !p.IsAnomaly {
		t.Errorf("IsAnomaly = false, score %v", p.AnomalyScore)
	}
	if p.AnomalyScore < 0.75 || p.AnomalyScore > 0.85 {
		t.Errorf("AnomalyScore = %v, want ~0.8", p.AnomalyScore)
	}
	if p.PredictedLevel != "ERROR" || p.LevelConfidence != 1.0 {
		t.Errorf("predicted level = %s (%v)", p.PredictedLevel, p.LevelConfidence)
	}
	if p.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want high", p.Severity)
	}
	if p.ModelVersion != "2026-03-01.1" {
		t.Errorf("model version = %s", p.ModelVersion)
	}
}

func TestScoreQuietEntryNotAnomalous(t *testing.T) {
	s := newTestScorer(t, newFakeStore())

	// Repeat so the template is no longer novel.
	s.Score(&model.LogEntry{ID: 1, Level: "INFO", Message: "request served in 12ms"})
	p, err := s.Score(&model.LogEntry{ID: 2, Level: "INFO", Message: "request served in 12ms"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if p.IsAnomaly {
		t.Errorf("quiet INFO entry flagged anomalous: %+v", p)
	}
	if p.Severity != model.SeverityLow {
		t.Errorf("severity = %s, want low", p.Severity)
	}
}

func TestScoreResponseTimeOverage(t *testing.T) {
	s := newTestScorer(t, newFakeStore())

	fast, slow := 100.0, 5000.0
	p1, err := s.Score(&model.LogEntry{ID: 1, Level: "INFO", Message: "handled request alpha", ResponseTimeMS: &fast})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	p2, err := s.Score(&model.LogEntry{ID: 2, Level: "INFO", Message: "handled request alpha", ResponseTimeMS: &slow})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if p2.AnomalyScore <= p1.AnomalyScore {
		t.Errorf("slow entry score %v not above fast entry score %v", p2.AnomalyScore, p1.AnomalyScore)
	}
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	s := newTestScorer(t, newFakeStore())

	p, err := s.Score(&model.LogEntry{ID: 1, Level: "FATAL", Message: "panic: timeout refused"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if p.AnomalyScore != 1.0 {
		t.Errorf("stacked weights score = %v, want clamped 1.0", p.AnomalyScore)
	}
	if p.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want critical", p.Severity)
	}
}

func TestScoreDegradedMode(t *testing.T) {
	s := New(newFakeStore(), Config{ArtifactDir: t.TempDir()})
	if !s.Degraded() {
		t.Fatal("scorer should be degraded with an empty artifact dir")
	}
	if v := s.ModelVersion(); v != "" {
		t.Errorf("ModelVersion = %q, want empty", v)
	}
	_, err := s.Score(&model.LogEntry{ID: 1, Level: "INFO", Message: "m"})
	if lenserr.CodeOf(err) != lenserr.CodeScoringUnavailable {
		t.Errorf("degraded Score err = %v, want SCORING_UNAVAILABLE", err)
	}
	if err := s.ScoreBatch(context.Background()); lenserr.CodeOf(err) != lenserr.CodeScoringUnavailable {
		t.Errorf("degraded ScoreBatch err = %v, want SCORING_UNAVAILABLE", err)
	}
}

func TestScoreBatchUpsertsPredictions(t *testing.T) {
	store := newFakeStore()
	store.unscored = []model.LogEntry{
		{ID: 1, Level: "ERROR", Message: "connection refused by backend"},
		{ID: 2, Level: "INFO", Message: "health check ok"},
	}
	s := newTestScorer(t, store)

	if err := s.ScoreBatch(context.Background()); err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	if len(store.predictions) != 2 {
		t.Fatalf("predictions = %d, want 2", len(store.predictions))
	}
	if !store.predictions[1].IsAnomaly {
		t.Errorf("entry 1 not anomalous: %+v", store.predictions[1])
	}

	// A second pass has nothing left to score for this version.
	if err := s.ScoreBatch(context.Background()); err != nil {
		t.Fatalf("ScoreBatch(2): %v", err)
	}
}

func TestReloadOnVersionBumpEnablesRescoring(t *testing.T) {
	store := newFakeStore()
	store.unscored = []model.LogEntry{{ID: 1, Level: "INFO", Message: "steady state"}}

	dir := t.TempDir()
	writeArtifact(t, dir, "v1", testArtifact)
	s := New(store, Config{ArtifactDir: dir})
	if err := s.ScoreBatch(context.Background()); err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	first := store.predictions[1]

	writeArtifact(t, dir, "v2", "version: v2\nanomaly_threshold: 0.6\n")
	s.ReloadArtifact()
	if s.ModelVersion() != "v2" {
		t.Fatalf("ModelVersion = %q, want v2", s.ModelVersion())
	}
	if err := s.ScoreBatch(context.Background()); err != nil {
		t.Fatalf("ScoreBatch(v2): %v", err)
	}
	second := store.predictions[1]
	if second.ModelVersion != "v2" {
		t.Errorf("prediction not replaced: %+v", second)
	}
	if second.PredictedAt.Before(first.PredictedAt) {
		t.Errorf("replacement predicted_at went backwards")
	}
	if len(store.predictions) != 1 {
		t.Errorf("predictions = %d, want exactly 1 per entry", len(store.predictions))
	}
}

func TestPatternMinerNovelty(t *testing.T) {
	m := NewPatternMiner()

	if prior := m.Observe("user 1001 logged in"); prior != 0 {
		t.Errorf("first observation prior = %d, want 0", prior)
	}
	if prior := m.Observe("user 2002 logged in"); prior != 1 {
		t.Errorf("second observation prior = %d, want 1 (same template)", prior)
	}

	m.Observe("")
	m.Observe("   ")
	if _, total := m.Stats(); total != 2 {
		t.Errorf("total = %d, want 2 (blank messages skipped)", total)
	}

	patterns := m.TopPatterns(10)
	if len(patterns) == 0 || patterns[0].Count != 2 {
		t.Errorf("patterns = %+v", patterns)
	}

	m.Reset()
	if count, total := m.Stats(); count != 0 || total != 0 {
		t.Errorf("after reset: %d patterns, %d total", count, total)
	}
}

func TestWatchArtifactsTriggersReload(t *testing.T) {
	dir := t.TempDir()
	reloaded := make(chan struct{}, 4)

	stop, err := WatchArtifacts(dir, func() { reloaded <- struct{}{} })
	if err != nil {
		t.Fatalf("WatchArtifacts: %v", err)
	}
	defer stop()

	writeArtifact(t, dir, "v9", testArtifact)

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked after artifact write")
	}
}
