package device

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourceBroadcast = "broadcast"
	StateHistorySourceCloud     = "cloud"
	StateHistorySourceCommand   = "command"
	StateHistorySourceSweep     = "sweep"
)

// StateHistoryEntry is a single recorded state change.
//
// Each entry stores the full merged state at the time of the change, so
// the local database keeps an audit trail even when InfluxDB is disabled.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	AccountID string    `json:"account_id"`
	Changed   []string  `json:"changed"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryQuery selects entries of one device, newest first. Zero Since and
// empty Source match everything; Limit is clamped to 1..MaxHistoryLimit
// with DefaultHistoryLimit for zero.
type HistoryQuery struct {
	DeviceID string
	Since    time.Time
	Source   string
	Limit    int
}

func (q HistoryQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return q.Limit
}

// IsHistorySource reports whether s is one of the StateHistorySource values.
func IsHistorySource(s string) bool {
	switch s {
	case StateHistorySourceBroadcast, StateHistorySourceCloud, StateHistorySourceCommand, StateHistorySourceSweep:
		return true
	}
	return false
}

// StateHistoryRepository stores and retrieves device state change history.
// Implementations are safe for concurrent use and store UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange persists one entry. ID and CreatedAt are assigned
	// by the repository when zero.
	RecordStateChange(ctx context.Context, entry StateHistoryEntry) error

	// GetHistory returns the entries matching q.
	GetHistory(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error)
}
