package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// historyTimeLayout is fixed width so created_at compares correctly as TEXT.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z"

var errNoDeviceID = errors.New("state history: device id is required")

// SQLiteStateHistoryRepository keeps state changes in the state_history
// table, with the changed attribute list and full state as JSON columns.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange inserts entry. Source defaults to broadcast and
// CreatedAt to now.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, entry StateHistoryEntry) error {
	if entry.DeviceID == "" {
		return errNoDeviceID
	}
	if entry.Source == "" {
		entry.Source = StateHistorySourceBroadcast
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	changed := entry.Changed
	if changed == nil {
		changed = []string{}
	}

	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("state history: encoding changed: %w", err)
	}
	stateJSON, err := json.Marshal(entry.State)
	if err != nil {
		return fmt.Errorf("state history: encoding state: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (device_id, account_id, changed, state, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.DeviceID, entry.AccountID, string(changedJSON), string(stateJSON), entry.Source,
		entry.CreatedAt.UTC().Format(historyTimeLayout),
	); err != nil {
		return fmt.Errorf("state history: insert %s: %w", entry.DeviceID, err)
	}
	return nil
}

// GetHistory returns the entries matching q, newest first. Since and Source
// are applied before the limit.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error) {
	if q.DeviceID == "" {
		return nil, errNoDeviceID
	}

	where := []string{"device_id = ?"}
	args := []any{q.DeviceID}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC().Format(historyTimeLayout))
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	limit := q.limit()
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, account_id, changed, state, source, created_at
		 FROM state_history
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("state history: query %s: %w", q.DeviceID, err)
	}
	defer rows.Close()

	out := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state history: query %s: %w", q.DeviceID, err)
	}
	return out, nil
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var e StateHistoryEntry
	var changed, state []byte
	var createdAt string
	if err := rows.Scan(&e.ID, &e.DeviceID, &e.AccountID, &changed, &state, &e.Source, &createdAt); err != nil {
		return e, fmt.Errorf("state history: scan: %w", err)
	}
	if err := json.Unmarshal(changed, &e.Changed); err != nil {
		return e, fmt.Errorf("state history: entry %d changed: %w", e.ID, err)
	}
	if err := json.Unmarshal(state, &e.State); err != nil {
		return e, fmt.Errorf("state history: entry %d state: %w", e.ID, err)
	}
	var err error
	if e.CreatedAt, err = time.Parse(historyTimeLayout, createdAt); err != nil {
		return e, fmt.Errorf("state history: entry %d created_at: %w", e.ID, err)
	}
	return e, nil
}

// PruneHistory deletes entries older than olderThan and reports how many went.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("state history: retention %v is not positive", olderThan)
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("state history: prune: %w", err)
	}
	return res.RowsAffected()
}
