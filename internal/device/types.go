package device

import (
	"net"
	"slices"
	"time"
)

// Supported fan series. Devices of any other series are filtered out of
// the cloud device list.
var supportedSeries = []string{"R1", "R2", "K1", "I1", "I2", "M1", "S1"}

var (
	brightnessSeries  = []string{"I1"}
	colorEffectSeries = []string{"I1"}
)

// IsSupportedSeries reports whether series is handled by this integration.
func IsSupportedSeries(series string) bool {
	return slices.Contains(supportedSeries, series)
}

// Capabilities describes which optional attributes a series exposes.
type Capabilities struct {
	Brightness  bool `json:"brightness"`
	ColorEffect bool `json:"color_effect"`
}

// CapabilitiesFor returns the capability set of a series.
func CapabilitiesFor(series string) Capabilities {
	return Capabilities{
		Brightness:  slices.Contains(brightnessSeries, series),
		ColorEffect: slices.Contains(colorEffectSeries, series),
	}
}

// LightMode is the colour temperature of the fan's LED.
type LightMode string

const (
	LightModeDaylight LightMode = "daylight"
	LightModeCool     LightMode = "cool"
	LightModeWarm     LightMode = "warm"
)

// Valid reports whether m is a known light mode.
func (m LightMode) Valid() bool {
	switch m {
	case LightModeDaylight, LightModeCool, LightModeWarm:
		return true
	}
	return false
}

// TimerHours maps a timer index (0..4) to the hours it represents.
var TimerHours = [...]int{0, 1, 2, 3, 6}

// State is the merged runtime state of a fan.
//
// Brightness and LightMode are nil for series without the capability.
// Online is only ever changed by MarkSeen and SweepAvailability.
type State struct {
	Power            bool       `json:"power"`
	Speed            int        `json:"speed"`
	Sleep            bool       `json:"sleep"`
	LED              bool       `json:"led"`
	Brightness       *int       `json:"brightness,omitempty"`
	LightMode        *LightMode `json:"light_mode,omitempty"`
	TimerHours       int        `json:"timer_hours"`
	TimerElapsedMins int        `json:"timer_time_elapsed_mins"`
	Online           bool       `json:"online"`
}

// Clone returns a copy that shares no pointers with s.
func (s State) Clone() State {
	cpy := s
	if s.Brightness != nil {
		b := *s.Brightness
		cpy.Brightness = &b
	}
	if s.LightMode != nil {
		m := *s.LightMode
		cpy.LightMode = &m
	}
	return cpy
}

// Device is a single fan as known to one account.
type Device struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	// Static attributes from the cloud device list.
	Name   string `json:"name"`
	Model  string `json:"model"`
	Series string `json:"series"`
	Color  string `json:"color"`

	State State `json:"state"`

	// LastSeen is the time of the last local broadcast, nil if never seen.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// IP is the last known local address.
	IP net.IP `json:"ip,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Capabilities returns the capability set of the device's series.
func (d *Device) Capabilities() Capabilities {
	return CapabilitiesFor(d.Series)
}

// DeepCopy creates a complete independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.State = d.State.Clone()
	if d.LastSeen != nil {
		ts := *d.LastSeen
		cpy.LastSeen = &ts
	}
	if d.IP != nil {
		cpy.IP = slices.Clone(d.IP)
	}
	return &cpy
}

// Patch is a partial state update. A nil field is not present.
// Online is deliberately absent: liveness goes through MarkSeen.
type Patch struct {
	Power            *bool      `json:"power,omitempty"`
	Speed            *int       `json:"speed,omitempty"`
	Sleep            *bool      `json:"sleep,omitempty"`
	LED              *bool      `json:"led,omitempty"`
	Brightness       *int       `json:"brightness,omitempty"`
	LightMode        *LightMode `json:"light_mode,omitempty"`
	TimerHours       *int       `json:"timer_hours,omitempty"`
	TimerElapsedMins *int       `json:"timer_time_elapsed_mins,omitempty"`
}

// Attribute names used in change notifications.
const (
	AttrPower            = "power"
	AttrSpeed            = "speed"
	AttrSleep            = "sleep"
	AttrLED              = "led"
	AttrBrightness       = "brightness"
	AttrLightMode        = "light_mode"
	AttrTimerHours       = "timer_hours"
	AttrTimerElapsedMins = "timer_time_elapsed_mins"
	AttrOnline           = "online"
)

// Fields returns the attribute names present in the patch.
func (p Patch) Fields() []string {
	var fields []string
	if p.Power != nil {
		fields = append(fields, AttrPower)
	}
	if p.Speed != nil {
		fields = append(fields, AttrSpeed)
	}
	if p.Sleep != nil {
		fields = append(fields, AttrSleep)
	}
	if p.LED != nil {
		fields = append(fields, AttrLED)
	}
	if p.Brightness != nil {
		fields = append(fields, AttrBrightness)
	}
	if p.LightMode != nil {
		fields = append(fields, AttrLightMode)
	}
	if p.TimerHours != nil {
		fields = append(fields, AttrTimerHours)
	}
	if p.TimerElapsedMins != nil {
		fields = append(fields, AttrTimerElapsedMins)
	}
	return fields
}

// IsEmpty reports whether no field is present.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Without returns a copy of p with the capability-gated fields the
// series cannot carry removed, plus the names of the removed fields.
func (p Patch) Without(caps Capabilities) (Patch, []string) {
	var dropped []string
	if !caps.Brightness && p.Brightness != nil {
		p.Brightness = nil
		dropped = append(dropped, AttrBrightness)
	}
	if !caps.ColorEffect && p.LightMode != nil {
		p.LightMode = nil
		dropped = append(dropped, AttrLightMode)
	}
	return p, dropped
}

// apply merges p into s and returns the names of attributes whose value changed.
func (p Patch) apply(s *State) []string {
	var changed []string
	if p.Power != nil && *p.Power != s.Power {
		s.Power = *p.Power
		changed = append(changed, AttrPower)
	}
	if p.Speed != nil && *p.Speed != s.Speed {
		s.Speed = *p.Speed
		changed = append(changed, AttrSpeed)
	}
	if p.Sleep != nil && *p.Sleep != s.Sleep {
		s.Sleep = *p.Sleep
		changed = append(changed, AttrSleep)
	}
	if p.LED != nil && *p.LED != s.LED {
		s.LED = *p.LED
		changed = append(changed, AttrLED)
	}
	if p.Brightness != nil && (s.Brightness == nil || *s.Brightness != *p.Brightness) {
		b := *p.Brightness
		s.Brightness = &b
		changed = append(changed, AttrBrightness)
	}
	if p.LightMode != nil && (s.LightMode == nil || *s.LightMode != *p.LightMode) {
		m := *p.LightMode
		s.LightMode = &m
		changed = append(changed, AttrLightMode)
	}
	if p.TimerHours != nil && *p.TimerHours != s.TimerHours {
		s.TimerHours = *p.TimerHours
		changed = append(changed, AttrTimerHours)
	}
	if p.TimerElapsedMins != nil && *p.TimerElapsedMins != s.TimerElapsedMins {
		s.TimerElapsedMins = *p.TimerElapsedMins
		changed = append(changed, AttrTimerElapsedMins)
	}
	return changed
}

// Snapshot is one device as reported by the cloud: static attributes plus
// the cloud's view of its state.
type Snapshot struct {
	ID     string `json:"device_id"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Series string `json:"series"`
	Color  string `json:"color"`
	State  Patch  `json:"state"`
}

// Stats summarises the registry for monitoring.
type Stats struct {
	Total    int            `json:"total"`
	Online   int            `json:"online"`
	Offline  int            `json:"offline"`
	BySeries map[string]int `json:"by_series"`
}

// Ptr returns a pointer to v. Convenient for building patches.
func Ptr[T any](v T) *T {
	return &v
}
