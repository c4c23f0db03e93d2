package device

import (
	"fmt"
	"net"
	"slices"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory catalogue of one account's fans.
//
// It owns the merge between cloud snapshots (bulk replace) and local
// broadcasts (incremental patch). A single RWMutex serialises both so a
// refresh can never interleave with a patch on the same record.
//
// All public methods are thread-safe and return deep copies.
type Registry struct {
	accountID string
	mu        sync.RWMutex
	devices   map[string]*Device
	logger    Logger
	now       func() time.Time
}

// NewRegistry creates an empty registry for an account.
func NewRegistry(accountID string) *Registry {
	return &Registry{
		accountID: accountID,
		devices:   make(map[string]*Device),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AccountID returns the owning account.
func (r *Registry) AccountID() string {
	return r.accountID
}

// UpsertFromSnapshot applies a cloud snapshot.
//
// Static attributes are replaced and cloud-reported state overwrites the
// stored values. Online, LastSeen and IP are never touched. Attributes the
// series cannot carry are ignored.
//
// Returns:
//   - created: true when the device was not known before
//   - changed: attribute names whose value changed (nil for a new device)
//   - error: ErrInvalidDevice or ErrInvalidValue
func (r *Registry) UpsertFromSnapshot(s Snapshot) (created bool, changed []string, err error) {
	if err := ValidateSnapshot(s); err != nil {
		return false, nil, err
	}

	caps := CapabilitiesFor(s.Series)
	patch, dropped := s.State.Without(caps)
	if len(dropped) > 0 {
		r.logger.Debug("ignoring unsupported cloud attributes",
			"device_id", s.ID, "series", s.Series, "attributes", dropped)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[s.ID]
	if !ok {
		d := &Device{
			ID:        s.ID,
			AccountID: r.accountID,
			Name:      s.Name,
			Model:     s.Model,
			Series:    s.Series,
			Color:     s.Color,
			UpdatedAt: r.now().UTC(),
		}
		patch.apply(&d.State)
		r.devices[s.ID] = d
		r.logger.Info("device added", "device_id", s.ID, "name", s.Name, "series", s.Series)
		return true, nil, nil
	}

	updated := existing.DeepCopy()
	updated.Name = s.Name
	updated.Model = s.Model
	updated.Color = s.Color
	if updated.Series != s.Series {
		updated.Series = s.Series
		// Capability set follows the new series.
		if !caps.Brightness && updated.State.Brightness != nil {
			updated.State.Brightness = nil
			changed = append(changed, AttrBrightness)
		}
		if !caps.ColorEffect && updated.State.LightMode != nil {
			updated.State.LightMode = nil
			changed = append(changed, AttrLightMode)
		}
	}
	changed = append(changed, patch.apply(&updated.State)...)
	if len(changed) > 0 {
		updated.UpdatedAt = r.now().UTC()
	}
	r.devices[s.ID] = updated
	return false, changed, nil
}

// Restore inserts previously persisted devices that are not yet known.
// Restored devices always start offline.
func (r *Registry) Restore(devices []Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range devices {
		d := devices[i].DeepCopy()
		if _, ok := r.devices[d.ID]; ok || d.ID == "" {
			continue
		}
		d.AccountID = r.accountID
		d.State.Online = false
		r.devices[d.ID] = d
		n++
	}
	return n
}

// PatchState merges a partial update into a device's state.
//
// Keys are only ever overwritten or added. The returned slice holds the
// names of attributes whose value changed; it is empty when the patch was
// a no-op, so applying the same patch twice reports no change.
//
// Returns ErrDeviceNotFound for unknown ids, ErrUnsupportedAttribute when
// the patch sets a field the series lacks and ErrInvalidValue for
// out-of-range values.
func (r *Registry) PatchState(id string, p Patch) ([]string, error) {
	if err := ValidatePatch(p); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err := ValidateCapabilities(p, d.Capabilities()); err != nil {
		return nil, fmt.Errorf("%w (device %s, series %s)", err, id, d.Series)
	}

	updated := d.DeepCopy()
	changed := p.apply(&updated.State)
	if len(changed) == 0 {
		return nil, nil
	}
	updated.UpdatedAt = r.now().UTC()
	r.devices[id] = updated

	r.logger.Debug("device state patched", "device_id", id, "changed", changed)
	return changed, nil
}

// MarkSeen records a broadcast from the device at ts. A nil ip keeps the
// previous address. Returns true when the device flipped to online.
func (r *Registry) MarkSeen(id string, ts time.Time, ip net.IP) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	updated := d.DeepCopy()
	seen := ts.UTC()
	updated.LastSeen = &seen
	if ip != nil {
		updated.IP = slices.Clone(ip)
	}
	flipped := !updated.State.Online
	updated.State.Online = true
	r.devices[id] = updated

	if flipped {
		r.logger.Info("device online", "device_id", id, "ip", updated.IP.String())
	}
	return flipped, nil
}

// SweepAvailability marks online devices whose last broadcast is older
// than timeout as offline and returns their ids, sorted. Offline devices
// are never brought back by a sweep.
func (r *Registry) SweepAvailability(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for id, d := range r.devices {
		if !d.State.Online {
			continue
		}
		if d.LastSeen != nil && now.Sub(*d.LastSeen) <= timeout {
			continue
		}
		updated := d.DeepCopy()
		updated.State.Online = false
		r.devices[id] = updated
		changed = append(changed, id)
	}

	sort.Strings(changed)
	if len(changed) > 0 {
		r.logger.Info("devices went offline", "count", len(changed), "device_ids", changed)
	}
	return changed
}

// Get returns a device by ID.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// Has reports whether the registry owns id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// List returns all devices ordered by ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Remove deletes a device.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	r.logger.Info("device removed", "device_id", id)
	return nil
}

// Clear removes every device and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.devices)
	r.devices = make(map[string]*Device)
	return n
}

// Count returns the number of devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:    len(r.devices),
		BySeries: make(map[string]int),
	}
	for _, d := range r.devices {
		if d.State.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.BySeries[d.Series]++
	}
	return stats
}
