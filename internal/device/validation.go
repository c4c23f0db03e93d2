package device

import (
	"fmt"
	"strings"
)

// Value bounds accepted by the registry. Local broadcasts carry wider
// ranges than commands allow, so these are the field widths of the
// status word rather than the command limits.
const (
	maxStateSpeed       = 7    // 3-bit field
	maxStateBrightness  = 127  // 7-bit field
	maxStateTimerHours  = 15   // 4-bit field
	maxStateElapsedMins = 1020 // 8-bit field in 4 minute steps

	maxNameLength = 100
)

// Command bounds.
const (
	MinSpeed      = 1
	MaxSpeed      = 6
	MinBrightness = 1
	MaxBrightness = 100
)

// ValidateSnapshot checks a cloud snapshot before it is upserted.
func ValidateSnapshot(s Snapshot) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	if !IsSupportedSeries(s.Series) {
		return fmt.Errorf("%w: unsupported series %q", ErrInvalidDevice, s.Series)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return ValidatePatch(s.State)
}

// ValidatePatch checks that every present value fits its status-word field.
func ValidatePatch(p Patch) error {
	if p.Speed != nil && (*p.Speed < 0 || *p.Speed > maxStateSpeed) {
		return fmt.Errorf("%w: speed %d", ErrInvalidValue, *p.Speed)
	}
	if p.Brightness != nil && (*p.Brightness < 0 || *p.Brightness > maxStateBrightness) {
		return fmt.Errorf("%w: brightness %d", ErrInvalidValue, *p.Brightness)
	}
	if p.LightMode != nil && !p.LightMode.Valid() {
		return fmt.Errorf("%w: light mode %q", ErrInvalidValue, *p.LightMode)
	}
	if p.TimerHours != nil && (*p.TimerHours < 0 || *p.TimerHours > maxStateTimerHours) {
		return fmt.Errorf("%w: timer hours %d", ErrInvalidValue, *p.TimerHours)
	}
	if p.TimerElapsedMins != nil && (*p.TimerElapsedMins < 0 || *p.TimerElapsedMins > maxStateElapsedMins) {
		return fmt.Errorf("%w: timer elapsed minutes %d", ErrInvalidValue, *p.TimerElapsedMins)
	}
	return nil
}

// ValidateCapabilities rejects capability-gated fields the series lacks.
func ValidateCapabilities(p Patch, caps Capabilities) error {
	if _, dropped := p.Without(caps); len(dropped) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedAttribute, strings.Join(dropped, ", "))
	}
	return nil
}

// ValidateSpeed checks a commanded speed.
func ValidateSpeed(speed int) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: speed must be in range %d-%d, got %d", ErrInvalidValue, MinSpeed, MaxSpeed, speed)
	}
	return nil
}

// ValidateBrightness checks a commanded brightness percentage.
func ValidateBrightness(brightness int) error {
	if brightness < MinBrightness || brightness > MaxBrightness {
		return fmt.Errorf("%w: brightness must be in range %d-%d, got %d",
			ErrInvalidValue, MinBrightness, MaxBrightness, brightness)
	}
	return nil
}

// ValidateTimerIndex checks a timer index and returns the hours it maps to.
func ValidateTimerIndex(index int) (int, error) {
	if index < 0 || index >= len(TimerHours) {
		return 0, fmt.Errorf("%w: timer index must be in range 0-%d, got %d",
			ErrInvalidValue, len(TimerHours)-1, index)
	}
	return TimerHours[index], nil
}
