package settings

import (
	"fmt"
	"log/slog"
	"time"
)

// Account is one Atomberg developer account.
type Account struct {
	ID           string    `json:"id"`
	APIKey       string    `json:"-"`
	RefreshToken string    `json:"-"`
	LocalControl bool      `json:"local_control"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks that the credentials are present.
func (a *Account) Validate() error {
	if a.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidAccount)
	}
	if a.RefreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", ErrInvalidAccount)
	}
	return nil
}

// LogValue keeps credentials out of structured logs.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID),
		slog.Bool("local_control", a.LocalControl),
	)
}

// String redacts credentials.
func (a Account) String() string {
	return fmt.Sprintf("Account{ID:%s LocalControl:%t}", a.ID, a.LocalControl)
}
