// Package settings stores Atomberg accounts in SQLite.
//
// Accounts carry the developer API key and refresh token. Neither is ever
// serialised to JSON or written to logs: Account implements slog.LogValuer
// and fmt.Stringer with the credentials omitted.
package settings
