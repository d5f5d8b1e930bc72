package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// AppendTriggerRun appends a run with a monotonically increasing per-tool sequence.
func (s *LibSQLStore) AppendTriggerRun(ctx context.Context, run *TriggerRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone may start a deferred transaction, which
	// lets concurrent writers interleave the sequence read and insert.
	// Force lock acquisition with a write-intent noop.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM trigger_runs WHERE tool_id = ?`, run.ToolID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	run.Sequence = seq

	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(run.Payload) > 0 {
		payload = string(run.Payload)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trigger_runs (tool_id, trigger_id, status, error, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ToolID, run.TriggerID, run.Status, nullStr(run.Error), payload, run.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert trigger run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trigger run: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListTriggerRuns(ctx context.Context, toolID string, filter TriggerRunFilter) ([]*TriggerRun, error) {
	where := []string{"tool_id = ?"}
	args := []any{toolID}

	if filter.TriggerID != "" {
		where = append(where, "trigger_id = ?")
		args = append(args, filter.TriggerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, tool_id, trigger_id, status, error, payload, timestamp, sequence
	 FROM trigger_runs WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sequence DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*TriggerRun
	for rows.Next() {
		r := &TriggerRun{}
		var errMsg, payload sql.NullString
		if err := rows.Scan(&r.ID, &r.ToolID, &r.TriggerID, &r.Status, &errMsg, &payload, &r.Timestamp, &r.Sequence); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		if payload.Valid && payload.String != "" {
			r.Payload = []byte(payload.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TriggerStatsFor replays a tool's run log and summarizes each trigger's
// tail: total runs, consecutive failures, and the most recent outcome.
// Returns an error if sequence gaps are detected.
func TriggerStatsFor(ctx context.Context, s Store, toolID string) (map[string]*TriggerStats, error) {
	runs, err := s.ListTriggerRuns(ctx, toolID, TriggerRunFilter{})
	if err != nil {
		return nil, fmt.Errorf("list runs for stats: %w", err)
	}

	stats := make(map[string]*TriggerStats)
	if len(runs) == 0 {
		return stats, nil
	}

	// Runs arrive newest-first; walk oldest-first to validate contiguity
	// and fold outcomes in order.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	for i, r := range runs {
		expected := int64(i + 1)
		if r.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run log for tool %s: expected %d, got %d", toolID, expected, r.Sequence)
		}
	}

	for _, r := range runs {
		st, ok := stats[r.TriggerID]
		if !ok {
			st = &TriggerStats{TriggerID: r.TriggerID}
			stats[r.TriggerID] = st
		}
		st.TotalRuns++
		ts := r.Timestamp
		st.LastRunAt = &ts
		st.LastStatus = r.Status
		st.LastError = r.Error

		switch r.Status {
		case RunStatusFailed:
			st.ConsecutiveFailures++
		case RunStatusSucceeded:
			st.ConsecutiveFailures = 0
		}
	}
	return stats, nil
}
