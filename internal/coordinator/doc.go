// Package coordinator keeps the devices of one Atomberg account in sync.
//
// A Coordinator owns the account's device.Registry and merges two sources
// into it:
//
//   - the cloud, polled on start and then every refresh interval
//   - local broadcasts, pushed by the shared broadcast.Session
//
// Only broadcasts mark a fan online; a periodic sweep marks fans offline
// once they have been silent for longer than the availability timeout.
//
// Lifecycle:
//
//	uninitialized --first sync--> active <--refresh ok / failed--> degraded
//	any --Stop--> stopped
//
// Commands are sent over UDP when local control is enabled and the fan is
// online with a known address, otherwise through the cloud. The registry
// is only updated after the send is confirmed.
//
// Manager groups the coordinators of all accounts for the API and relay.
package coordinator
