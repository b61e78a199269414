// Package retention sweeps entries older than the retention window out of the
// store. A sweep walks a fixed state machine and deletes in batches, child
// rows before parents, so an interrupted sweep leaves no orphaned predictions
// and the next sweep simply resumes from the remaining expired entries.
package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// Sweep states, in the order a sweep passes through them.
const (
	StateIdle                = "IDLE"
	StateScanning            = "SCANNING"
	StateDeletingPredictions = "DELETING_PREDICTIONS"
	StateDeletingEntries     = "DELETING_ENTRIES"
	StateReclaiming          = "RECLAIMING"
)

// Store is the deletion surface a sweep drives.
type Store interface {
	ExpiredEntryIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	DeletePredictionsFor(ctx context.Context, entryIDs []int64) (int64, error)
	DeleteEntries(ctx context.Context, entryIDs []int64) (int64, error)
	Reclaim(ctx context.Context) error
}

// Index receives deletion notifications so lookup structures stay consistent
// with the store.
type Index interface {
	OnDelete(ids []int64)
}

// Config tunes the retention manager. RetentionDays <= 0 disables sweeping.
type Config struct {
	RetentionDays int
	Period        time.Duration
	BatchSize     int
}

// SweepResult summarizes one completed sweep.
type SweepResult struct {
	SweepID            string    `json:"sweep_id"`
	Cutoff             time.Time `json:"cutoff"`
	EntriesDeleted     int64     `json:"entries_deleted"`
	PredictionsDeleted int64     `json:"predictions_deleted"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Manager runs retention sweeps, at most one at a time.
type Manager struct {
	store Store
	index Index
	conf  Config

	lease sync.Mutex

	mu    sync.RWMutex
	state string
	last  *SweepResult
}

// New creates a retention manager. Returns nil when retention is disabled so
// callers can skip wiring it entirely.
func New(store Store, index Index, conf Config) *Manager {
	if conf.RetentionDays <= 0 {
		return nil
	}
	if conf.Period <= 0 {
		conf.Period = model.DefaultRetentionPeriod
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = model.DefaultRetentionBatch
	}
	return &Manager{store: store, index: index, conf: conf, state: StateIdle}
}

// State reports the current sweep state.
func (m *Manager) State() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastSweep returns the most recent completed sweep, or nil.
func (m *Manager) LastSweep() *SweepResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Manager) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run sweeps once at startup to catch up after downtime, then on every period
// tick until ctx is cancelled. Sweep failures are logged and retried next
// tick.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Printf("retention: startup sweep failed: %v", err)
	}

	ticker := time.NewTicker(m.conf.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("retention: sweep failed: %v", err)
			}
		}
	}
}

// RunOnce performs a single sweep. A sweep already in flight yields
// RETENTION_CONFLICT rather than queueing behind it.
func (m *Manager) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !m.lease.TryLock() {
		return nil, lenserr.RetentionConflict("retention.sweep")
	}
	defer m.lease.Unlock()
	defer m.setState(StateIdle)

	res := &SweepResult{
		SweepID:   uuid.NewString(),
		Cutoff:    time.Now().UTC().Add(-time.Duration(m.conf.RetentionDays) * 24 * time.Hour),
		StartedAt: time.Now().UTC(),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.setState(StateScanning)
		ids, err := m.store.ExpiredEntryIDs(ctx, res.Cutoff, m.conf.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		m.setState(StateDeletingPredictions)
		np, err := m.store.DeletePredictionsFor(ctx, ids)
		if err != nil {
			return nil, err
		}
		res.PredictionsDeleted += np

		m.setState(StateDeletingEntries)
		ne, err := m.store.DeleteEntries(ctx, ids)
		if err != nil {
			return nil, err
		}
		res.EntriesDeleted += ne

		if m.index != nil {
			m.index.OnDelete(ids)
		}
	}

	if res.EntriesDeleted > 0 {
		m.setState(StateReclaiming)
		if err := m.store.Reclaim(ctx); err != nil {
			return nil, err
		}
	}

	res.FinishedAt = time.Now().UTC()
	m.mu.Lock()
	m.last = res
	m.mu.Unlock()

	if res.EntriesDeleted > 0 {
		log.Printf("retention: sweep %s deleted %d entries, %d predictions (older than %d days)",
			res.SweepID, res.EntriesDeleted, res.PredictionsDeleted, m.conf.RetentionDays)
	}
	return res, nil
}
