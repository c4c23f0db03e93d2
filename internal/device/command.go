package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Command is the attribute set sent to a fan, either through the cloud
// send_command endpoint or as a local UDP datagram. The JSON form is the
// wire format of both paths.
type Command struct {
	Power      *bool      `json:"power,omitempty"`
	Speed      *int       `json:"speed,omitempty"`
	Sleep      *bool      `json:"sleep,omitempty"`
	LED        *bool      `json:"led,omitempty"`
	Brightness *int       `json:"brightness,omitempty"`
	LightMode  *LightMode `json:"light_mode,omitempty"`

	// Timer is an index into TimerHours, not a number of hours.
	Timer *int `json:"timer,omitempty"`
}

// IsEmpty reports whether the command carries no attribute.
func (c Command) IsEmpty() bool {
	return c.Power == nil && c.Speed == nil && c.Sleep == nil && c.LED == nil &&
		c.Brightness == nil && c.LightMode == nil && c.Timer == nil
}

// HasLight reports whether any light attribute is present.
func (c Command) HasLight() bool {
	return c.LED != nil || c.Brightness != nil || c.LightMode != nil
}

// Patch returns the state change a confirmed command implies.
func (c Command) Patch() Patch {
	p := Patch{
		Power:      c.Power,
		Speed:      c.Speed,
		Sleep:      c.Sleep,
		LED:        c.LED,
		Brightness: c.Brightness,
		LightMode:  c.LightMode,
	}
	if c.Timer != nil && *c.Timer >= 0 && *c.Timer < len(TimerHours) {
		p.TimerHours = Ptr(TimerHours[*c.Timer])
	}
	return p
}

// Validate checks command ranges and the series capabilities.
func (c Command) Validate(caps Capabilities) error {
	if c.IsEmpty() {
		return fmt.Errorf("%w: empty command", ErrInvalidValue)
	}
	if c.Speed != nil {
		if err := ValidateSpeed(*c.Speed); err != nil {
			return err
		}
	}
	if c.Brightness != nil {
		if err := ValidateBrightness(*c.Brightness); err != nil {
			return err
		}
	}
	if c.LightMode != nil && !c.LightMode.Valid() {
		return fmt.Errorf("%w: light mode %q", ErrInvalidValue, *c.LightMode)
	}
	if c.Timer != nil {
		if _, err := ValidateTimerIndex(*c.Timer); err != nil {
			return err
		}
	}

	var unsupported []string
	if c.Brightness != nil && !caps.Brightness {
		unsupported = append(unsupported, AttrBrightness)
	}
	if c.LightMode != nil && !caps.ColorEffect {
		unsupported = append(unsupported, AttrLightMode)
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedAttribute, strings.Join(unsupported, ", "))
	}
	return nil
}

// IsLightOnly reports whether the command carries light attributes and
// nothing else.
func (c Command) IsLightOnly() bool {
	return c.HasLight() && c.Power == nil && c.Speed == nil && c.Sleep == nil && c.Timer == nil
}

// NormaliseLight drops LED from a light command that also sets brightness
// or light mode; the fan switches its light on for either of those.
func (c Command) NormaliseLight() Command {
	if c.LED != nil && (c.Brightness != nil || c.LightMode != nil) {
		c.LED = nil
	}
	return c
}

// ParseCommand decodes a JSON command such as {"speed":3} or
// {"led":true,"brightness":40}. Unknown keys and empty commands are
// rejected with ErrInvalidValue; ranges are checked later by Validate.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if cmd.IsEmpty() {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidValue)
	}
	return cmd, nil
}
