// Package device holds the Device Registry: the per-account catalogue of
// Atomberg fans and the merge logic between the two sources of truth.
//
// # Sources
//
//   - Cloud snapshots (UpsertFromSnapshot) replace static attributes and
//     overwrite the cloud-reported state. They never touch Online.
//   - Local broadcasts are applied as incremental patches (PatchState) and
//     liveness marks (MarkSeen).
//   - SweepAvailability flips devices offline once their last broadcast is
//     older than the availability timeout.
//
// Online is owned exclusively by MarkSeen and SweepAvailability. Every
// other attribute is last-writer-wins in arrival order.
//
// # Capabilities
//
// Brightness and light mode exist only on series that support them
// (see CapabilitiesFor). Patching them on other series returns
// ErrUnsupportedAttribute.
//
// # Persistence
//
// SQLiteSnapshotStore keeps the last known devices so a restart can serve
// cached (offline) devices before the cloud answers.
// SQLiteStateHistoryRepository records every change for the history API.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// one read-write mutex and every read returns a deep copy.
package device
