// Package scorer attaches anomaly/severity predictions to stored log
// entries. Scoring is asynchronous to ingest: a background loop polls for
// entries the current model version has not scored and upserts one prediction
// per entry. A missing or unreadable model artifact puts the scorer into a
// degraded mode where entries simply stay unscored.
package scorer

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// Store is the persistence surface the scoring loop needs.
type Store interface {
	UnscoredEntries(ctx context.Context, modelVersion string, limit int) ([]model.LogEntry, error)
	UpsertPrediction(ctx context.Context, p *model.Prediction) error
}

// Config holds the scoring loop tunables.
type Config struct {
	ArtifactDir  string
	PollInterval time.Duration
	BatchSize    int
}

// Scorer scores entries against the currently loaded model artifact.
type Scorer struct {
	store Store
	conf  Config

	mu       sync.RWMutex
	artifact *Artifact

	patterns  *PatternMiner
	stopWatch func()
}

// New creates a scorer and attempts an initial artifact load. A failed load
// is not an error: the scorer starts degraded and retries via ReloadArtifact
// (called by the fsnotify watcher and each poll tick).
func New(store Store, conf Config) *Scorer {
	if conf.PollInterval <= 0 {
		conf.PollInterval = model.DefaultScoreInterval
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = model.DefaultScoreBatchSize
	}
	s := &Scorer{
		store:    store,
		conf:     conf,
		patterns: NewPatternMiner(),
	}
	s.ReloadArtifact()

	if conf.ArtifactDir != "" {
		stop, err := WatchArtifacts(conf.ArtifactDir, s.ReloadArtifact)
		if err != nil {
			log.Printf("scorer: artifact watch unavailable, relying on poll reloads: %v", err)
		} else {
			s.stopWatch = stop
		}
	}
	return s
}

// ReloadArtifact loads the newest artifact from the artifact directory. On a
// version change the pattern miner resets so novelty is judged per model era.
func (s *Scorer) ReloadArtifact() {
	if s.conf.ArtifactDir == "" {
		return
	}
	path, err := LatestArtifactPath(s.conf.ArtifactDir)
	if err != nil {
		s.setArtifact(nil)
		return
	}
	a, err := LoadArtifact(path)
	if err != nil {
		log.Printf("scorer: artifact %s unreadable, staying degraded: %v", path, err)
		s.setArtifact(nil)
		return
	}
	s.setArtifact(a)
}

func (s *Scorer) setArtifact(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevVersion := ""
	if s.artifact != nil {
		prevVersion = s.artifact.Version
	}
	s.artifact = a
	if a != nil && a.Version != prevVersion {
		s.patterns.Reset()
		log.Printf("scorer: model version %s active", a.Version)
	}
}

func (s *Scorer) current() *Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// ModelVersion returns the active model version, or "" when degraded.
func (s *Scorer) ModelVersion() string {
	if a := s.current(); a != nil {
		return a.Version
	}
	return ""
}

// Degraded reports whether no usable artifact is loaded.
func (s *Scorer) Degraded() bool { return s.current() == nil }

// Patterns exposes the template miner for diagnostics endpoints.
func (s *Scorer) Patterns() *PatternMiner { return s.patterns }

// Run polls for unscored entries until ctx is cancelled. Scoring failures are
// logged and retried on the next tick; they never propagate to ingestion.
func (s *Scorer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.conf.PollInterval)
	defer ticker.Stop()
	defer func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.Degraded() {
				// Cheap retry in case the watcher missed the artifact.
				s.ReloadArtifact()
				if s.Degraded() {
					continue
				}
			}
			if err := s.ScoreBatch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("scorer: batch failed: %v", err)
			}
		}
	}
}

// ScoreBatch scores up to BatchSize entries the active model has not seen.
func (s *Scorer) ScoreBatch(ctx context.Context) error {
	version := s.ModelVersion()
	if version == "" {
		return lenserr.ScoringUnavailable("scorer.batch", nil)
	}

	entries, err := s.store.UnscoredEntries(ctx, version, s.conf.BatchSize)
	if err != nil {
		return err
	}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := s.Score(&entries[i])
		if err != nil {
			return err
		}
		if err := s.store.UpsertPrediction(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Score produces the prediction for one entry using the active artifact.
// Returns SCORING_UNAVAILABLE while degraded.
func (s *Scorer) Score(e *model.LogEntry) (*model.Prediction, error) {
	a := s.current()
	if a == nil {
		return nil, lenserr.ScoringUnavailable("scorer.score", nil)
	}

	score := 0.0
	message := strings.ToLower(e.Message)
	for keyword, weight := range a.KeywordWeights {
		if strings.Contains(message, strings.ToLower(keyword)) {
			score += weight
		}
	}
	if w, ok := a.LevelWeights[e.Level]; ok {
		score += w
	}
	if a.ResponseTimeThresholdMS > 0 && e.ResponseTimeMS != nil &&
		*e.ResponseTimeMS > a.ResponseTimeThresholdMS {
		// Saturating overage term: 2x threshold contributes the full 0.25.
		over := (*e.ResponseTimeMS - a.ResponseTimeThresholdMS) / a.ResponseTimeThresholdMS
		score += 0.25 * math.Min(over, 1.0)
	}
	if prior := s.patterns.Observe(e.Message); prior == 0 {
		score += a.PatternNoveltyWeight
	}
	score = clamp01(score)

	isAnomaly := score >= a.AnomalyThreshold
	confidence := clamp01(math.Abs(score-a.AnomalyThreshold)/a.AnomalyThreshold + 0.5)

	predictedLevel, levelConfidence := predictLevel(e, score)

	return &model.Prediction{
		LogEntryID:        e.ID,
		PredictedLevel:    predictedLevel,
		LevelConfidence:   levelConfidence,
		IsAnomaly:         isAnomaly,
		AnomalyScore:      score,
		AnomalyConfidence: confidence,
		Severity:          severityFor(e.Level, score),
		ModelVersion:      a.Version,
		PredictedAt:       time.Now().UTC(),
	}, nil
}

// predictLevel keeps a trusted ingest level and infers one from the score
// otherwise.
func predictLevel(e *model.LogEntry, score float64) (string, float64) {
	if e.Level != model.LevelUnknown && model.ValidLevel(e.Level) {
		return e.Level, 1.0
	}
	switch {
	case score >= 0.75:
		return model.LevelError, 0.6
	case score >= 0.5:
		return model.LevelWarn, 0.5
	default:
		return model.LevelInfo, 0.4
	}
}

// severityFor maps level and anomaly score onto business severity.
func severityFor(level string, score float64) string {
	switch {
	case level == model.LevelFatal || score >= 0.9:
		return model.SeverityCritical
	case level == model.LevelError || score >= 0.6:
		return model.SeverityHigh
	case level == model.LevelWarn || score >= 0.3:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
