package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotStore persists the last known devices of each account so a
// restart can serve them before the first cloud sync completes.
type SnapshotStore interface {
	Save(ctx context.Context, accountID string, devices []Device) error
	Load(ctx context.Context, accountID string) ([]Device, error)
	Delete(ctx context.Context, accountID string) error
}

// SQLiteSnapshotStore implements SnapshotStore on the device_snapshots table.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore creates a snapshot store on an open database.
func NewSQLiteSnapshotStore(db *sql.DB) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db}
}

// Save replaces the stored devices of an account in one transaction.
// The online flag is not persisted.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, accountID string, devices []Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_snapshots WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("clearing snapshots: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range devices {
		d := &devices[i]
		state := d.State.Clone()
		state.Online = false
		stateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshalling state for %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_snapshots (id, account_id, name, model, series, color, state, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, accountID, d.Name, d.Model, d.Series, d.Color, string(stateJSON), now,
		); err != nil {
			return fmt.Errorf("inserting snapshot %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshots: %w", err)
	}
	return nil
}

// Load returns the stored devices of an account ordered by ID.
func (s *SQLiteSnapshotStore) Load(ctx context.Context, accountID string) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model, series, color, state, updated_at
		 FROM device_snapshots WHERE account_id = ? ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var stateJSON, updatedAt string
		if err := rows.Scan(&d.ID, &d.Name, &d.Model, &d.Series, &d.Color, &stateJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state for %s: %w", d.ID, err)
		}
		d.AccountID = accountID
		d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return devices, nil
}

// Delete removes every stored device of an account.
func (s *SQLiteSnapshotStore) Delete(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM device_snapshots WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("deleting snapshots: %w", err)
	}
	return nil
}
