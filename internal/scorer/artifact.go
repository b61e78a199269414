package scorer

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/loglens/loglens/internal/lenserr"
)

// artifactPrefix and artifactExt frame the artifact filename convention:
// model-<version>.yaml, immutable once written. A version bump is a new file.
const (
	artifactPrefix = "model-"
	artifactExt    = ".yaml"
)

// Artifact is the versioned scoring model produced by the external training
// pipeline. Keyword weights and thresholds drive the anomaly score; the
// novelty weight prices previously-unseen message templates.
type Artifact struct {
	Version                 string             `yaml:"version"`
	AnomalyThreshold        float64            `yaml:"anomaly_threshold"`
	ResponseTimeThresholdMS float64            `yaml:"response_time_threshold_ms"`
	PatternNoveltyWeight    float64            `yaml:"pattern_novelty_weight"`
	KeywordWeights          map[string]float64 `yaml:"keyword_weights"`
	LevelWeights            map[string]float64 `yaml:"level_weights"`
}

// LoadArtifact reads and validates one artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lenserr.ScoringUnavailable("scorer.load_artifact", err)
	}

	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, lenserr.ScoringUnavailable("scorer.load_artifact", err)
	}
	if a.Version == "" {
		return nil, lenserr.ScoringUnavailable("scorer.load_artifact",
			fmt.Errorf("%s: artifact has no version", path))
	}
	if a.AnomalyThreshold <= 0 || a.AnomalyThreshold > 1 {
		return nil, lenserr.ScoringUnavailable("scorer.load_artifact",
			fmt.Errorf("%s: anomaly_threshold %v outside (0,1]", path, a.AnomalyThreshold))
	}
	for kw, w := range a.KeywordWeights {
		if w < 0 || w > 1 {
			return nil, lenserr.ScoringUnavailable("scorer.load_artifact",
				fmt.Errorf("%s: keyword %q weight %v outside [0,1]", path, kw, w))
		}
	}
	return &a, nil
}

// LatestArtifactPath finds the artifact with the highest version in dir.
// Versions order lexically, which holds for the date-stamped convention the
// training pipeline uses.
func LatestArtifactPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", lenserr.ScoringUnavailable("scorer.latest_artifact", err)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		versions = append(versions, name)
	}
	if len(versions) == 0 {
		return "", lenserr.ScoringUnavailable("scorer.latest_artifact",
			fmt.Errorf("no %s*%s artifacts in %s", artifactPrefix, artifactExt, dir))
	}
	sort.Strings(versions)
	return filepath.Join(dir, versions[len(versions)-1]), nil
}

// WatchArtifacts watches dir with fsnotify and invokes reload whenever an
// artifact file appears or changes. It returns a stop function. The watcher
// never fails the caller: a dead watcher only means version bumps need a
// restart to be noticed.
func WatchArtifacts(dir string, reload func()) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				name := filepath.Base(event.Name)
				if strings.HasPrefix(name, artifactPrefix) && strings.HasSuffix(name, artifactExt) {
					reload()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("scorer: artifact watcher error: %v", werr)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
