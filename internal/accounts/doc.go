// Package accounts manages Atomberg accounts at runtime.
//
// A Service owns the link between the stored accounts (settings.Store)
// and their running coordinators (coordinator.Manager). New or rotated
// credentials are checked with a cloud connection test first, so a
// rejected key is reported as cloud.ErrAuth and an unreachable service as
// cloud.ErrTransport before anything is written.
package accounts
