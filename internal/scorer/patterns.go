package scorer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jaeyo/go-drain3/pkg/drain3"
)

// Pattern is one mined message template with its frequency.
type Pattern struct {
	Template   string
	Count      int64
	Percentage float64
}

// PatternMiner wraps the drain3 template miner behind a small, locked
// surface. All drain3 calls live in this file; the scorer only asks whether a
// message's template is novel and how often it has been seen.
type PatternMiner struct {
	mu        sync.Mutex
	miner     *drain3.TemplateMiner
	counts    map[int64]int64
	templates map[int64]string
	totalLogs int64
}

// NewPatternMiner creates an empty miner.
func NewPatternMiner() *PatternMiner {
	return &PatternMiner{
		miner:     newTemplateMiner(),
		counts:    make(map[int64]int64),
		templates: make(map[int64]string),
	}
}

// newTemplateMiner builds a drain3 miner over the default parse tree with
// in-memory persistence. NewDrain rejects only out-of-range options, so the
// defaults always construct.
func newTemplateMiner() *drain3.TemplateMiner {
	d, err := drain3.NewDrain()
	if err != nil {
		panic(err)
	}
	return drain3.NewTemplateMiner(d, drain3.NewMemoryPersistence())
}

// Observe feeds one message into the miner and reports how many messages had
// matched the same template before this one. A return of 0 means the template
// is novel.
func (m *PatternMiner) Observe(message string) (priorCount int64) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, cluster, template, _, err := m.miner.AddLogMessage(context.Background(), trimmed)
	if err != nil || cluster == nil {
		return 0
	}
	prior := m.counts[cluster.ClusterId]
	m.counts[cluster.ClusterId]++
	m.templates[cluster.ClusterId] = template
	m.totalLogs++
	return prior
}

// TopPatterns returns up to limit templates sorted by frequency descending.
func (m *PatternMiner) TopPatterns(limit int) []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	patterns := make([]Pattern, 0, len(m.counts))
	for id, count := range m.counts {
		p := Pattern{Template: m.templates[id], Count: count}
		if m.totalLogs > 0 {
			p.Percentage = float64(count) / float64(m.totalLogs) * 100
		}
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Template < patterns[j].Template
	})
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns
}

// Stats returns (distinct patterns, total observed messages).
func (m *PatternMiner) Stats() (patternCount int, totalLogs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts), m.totalLogs
}

// Reset drops all mined state, used when a new model version deploys so
// novelty is judged against the new model's era.
func (m *PatternMiner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.miner = newTemplateMiner()
	m.counts = make(map[int64]int64)
	m.templates = make(map[int64]string)
	m.totalLogs = 0
}
