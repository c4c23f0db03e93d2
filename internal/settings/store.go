package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
)

// Store persists accounts in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store on a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

const accountColumns = `id, api_key, refresh_token, local_control, created_at, updated_at`

// ListAccounts returns every account ordered by ID.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns a single account.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts acc. An empty ID is replaced with a new UUID.
func (s *Store) CreateAccount(ctx context.Context, acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}

	ts := s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.APIKey, acc.RefreshToken, boolToInt(acc.LocalControl), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAccountExists, acc.ID)
		}
		return fmt.Errorf("inserting account %s: %w", acc.ID, err)
	}
	acc.CreatedAt, _ = time.Parse(time.RFC3339, ts) //nolint:errcheck // Format is controlled
	acc.UpdatedAt = acc.CreatedAt
	return nil
}

// UpdateAccount replaces the credentials and local-control flag of acc.
func (s *Store) UpdateAccount(ctx context.Context, acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET api_key = ?, refresh_token = ?, local_control = ?, updated_at = ? WHERE id = ?`,
		acc.APIKey, acc.RefreshToken, boolToInt(acc.LocalControl), ts, acc.ID)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", acc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrAccountNotFound
	}
	acc.UpdatedAt, _ = time.Parse(time.RFC3339, ts) //nolint:errcheck // Format is controlled
	return nil
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrAccountNotFound
	}
	return nil
}

// SeedFromConfig inserts configured accounts that are not stored yet and
// returns how many were added. Existing accounts are left untouched so
// edits made at runtime survive a restart.
func (s *Store) SeedFromConfig(ctx context.Context, seeds []config.AccountConfig) (int, error) {
	added := 0
	for _, seed := range seeds {
		acc := Account{
			ID:           seed.ID,
			APIKey:       seed.APIKey,
			RefreshToken: seed.RefreshToken,
			LocalControl: seed.LocalControl,
		}
		err := s.CreateAccount(ctx, &acc)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrAccountExists):
		default:
			return added, fmt.Errorf("seeding account %q: %w", seed.ID, err)
		}
	}
	return added, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var acc Account
	var local int
	var createdAt, updatedAt string
	if err := row.Scan(&acc.ID, &acc.APIKey, &acc.RefreshToken, &local, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, err
		}
		return acc, fmt.Errorf("scanning account: %w", err)
	}
	acc.LocalControl = local != 0
	acc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	acc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return acc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
