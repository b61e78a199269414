package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
)

// UpsertPrediction replaces the prediction for an entry transactionally
// (delete-then-insert), preserving the one-prediction-per-entry invariant
// under re-scoring with a new model version.
func (s *Store) UpsertPrediction(ctx context.Context, p *Prediction) error {
	if p == nil {
		return lenserr.Validation("store.upsert_prediction", "nil prediction")
	}
	for _, v := range []float64{p.LevelConfidence, p.AnomalyScore, p.AnomalyConfidence} {
		if v < 0 || v > 1 {
			return lenserr.Validation("store.upsert_prediction",
				fmt.Sprintf("score %v outside [0,1]", v))
		}
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lenserr.StoreUnavailable("store.upsert_prediction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM predictions WHERE log_entry_id = ?`, p.LogEntryID); err != nil {
		return lenserr.StoreUnavailable("store.upsert_prediction", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO predictions
		 (log_entry_id, predicted_level, level_confidence, is_anomaly,
		  anomaly_score, anomaly_confidence, severity, model_version, predicted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.LogEntryID, p.PredictedLevel, p.LevelConfidence, p.IsAnomaly,
		p.AnomalyScore, p.AnomalyConfidence, p.Severity, p.ModelVersion,
		p.PredictedAt.UTC(),
	); err != nil {
		return lenserr.StoreUnavailable("store.upsert_prediction", err)
	}

	if err := tx.Commit(); err != nil {
		return lenserr.StoreUnavailable("store.upsert_prediction", err)
	}
	committed = true
	return nil
}

// PredictionFor returns the prediction for an entry, or NOT_FOUND when the
// entry is still unscored.
func (s *Store) PredictionFor(ctx context.Context, entryID int64) (*Prediction, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var p Prediction
	err = s.db.QueryRowContext(ctx,
		`SELECT log_entry_id, predicted_level, level_confidence, is_anomaly,
		        anomaly_score, anomaly_confidence, severity, model_version, predicted_at
		 FROM predictions WHERE log_entry_id = ?`, entryID).
		Scan(&p.LogEntryID, &p.PredictedLevel, &p.LevelConfidence, &p.IsAnomaly,
			&p.AnomalyScore, &p.AnomalyConfidence, &p.Severity, &p.ModelVersion, &p.PredictedAt)
	if err == sql.ErrNoRows {
		return nil, lenserr.NotFound("store.prediction_for", strconv.FormatInt(entryID, 10))
	}
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.prediction_for", err)
	}
	p.PredictedAt = p.PredictedAt.UTC()
	return &p, nil
}

// UnscoredEntries returns entries with no prediction from the given model
// version, oldest first. With an empty modelVersion it returns entries with
// no prediction at all; with a version set it also returns entries scored by
// an older model, which drives re-scoring after a version bump.
func (s *Store) UnscoredEntries(ctx context.Context, modelVersion string, limit int) ([]LogEntry, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 256
	}

	where := `p.log_entry_id IS NULL`
	args := []interface{}{}
	if modelVersion != "" {
		where = `(p.log_entry_id IS NULL OR p.model_version <> ?)`
		args = append(args, modelVersion)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM log_entries e
		LEFT JOIN predictions p ON p.log_entry_id = e.id
		WHERE %s
		ORDER BY e.id ASC
		LIMIT ?`, prefixColumns("e"), where)

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.unscored", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// prefixColumns qualifies the entry column list with a table alias for joins.
func prefixColumns(alias string) string {
	return fmt.Sprintf(entryColumnsTmpl, alias+".")
}

// ExpiredEntryIDs returns up to limit ids of entries strictly older than
// cutoff, ascending. The retention manager snapshots this set before any
// delete so a sweep is bounded to entries that were expired when it started.
func (s *Store) ExpiredEntryIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10000
	}

	// Strictly older than: entries exactly at the cutoff are retained.
	rows, err := s.db.QueryContext(qctx,
		`SELECT id FROM log_entries WHERE timestamp < ? ORDER BY id ASC LIMIT ?`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.expired_ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePredictionsFor removes the predictions owned by the given entries.
// It must complete before DeleteEntries for the same ids.
func (s *Store) DeletePredictionsFor(ctx context.Context, entryIDs []int64) (int64, error) {
	return s.deleteByIDs(ctx, "predictions", "log_entry_id", entryIDs)
}

// DeleteEntries removes the given entries. Callers must have deleted the
// dependent predictions first.
func (s *Store) DeleteEntries(ctx context.Context, entryIDs []int64) (int64, error) {
	return s.deleteByIDs(ctx, "log_entries", "id", entryIDs)
}

// deleteByIDs runs one batched DELETE statement inside a transaction; the
// batch either fully commits or fully rolls back.
func (s *Store) deleteByIDs(ctx context.Context, table, column string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, lenserr.StoreUnavailable("store.delete", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s IN (%s)`, table, column, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return 0, lenserr.StoreUnavailable("store.delete", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, lenserr.StoreUnavailable("store.delete", err)
	}
	committed = true

	n, _ := res.RowsAffected()
	return n, nil
}

// OrphanedPredictionCount counts predictions whose owning entry no longer
// exists. It should always be zero; retention tests assert on it.
func (s *Store) OrphanedPredictionCount(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM predictions p
		 LEFT JOIN log_entries e ON e.id = p.log_entry_id
		 WHERE e.id IS NULL`).Scan(&n)
	if err != nil {
		return 0, lenserr.StoreUnavailable("store.orphaned_predictions", err)
	}
	return n, nil
}
