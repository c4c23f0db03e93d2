package broadcast

import "github.com/dasshubham762/atomberg-integration/internal/device"

// Status word layout.
const (
	maskSpeed      = 0x07
	maskCool       = 0x08
	maskPower      = 0x10
	maskLED        = 0x20
	maskSleep      = 0x80
	maskBrightness = 0x7F00
	maskWarm       = 0x8000
	maskTimerHours = 0x0F0000
	maskElapsed    = 0xFF000000

	shiftBrightness = 8
	shiftTimerHours = 16

	// The elapsed byte counts units of four minutes.
	shiftElapsed = 22
)

// DecodeStatus turns a status word into a state patch. Brightness and light
// mode are only present when caps allows them; with neither colour bit set
// the light mode is left unchanged.
func DecodeStatus(value uint32, caps device.Capabilities) device.Patch {
	p := device.Patch{
		Power:            device.Ptr(value&maskPower != 0),
		LED:              device.Ptr(value&maskLED != 0),
		Sleep:            device.Ptr(value&maskSleep != 0),
		Speed:            device.Ptr(int(value & maskSpeed)),
		TimerHours:       device.Ptr(int(value&maskTimerHours) >> shiftTimerHours),
		TimerElapsedMins: device.Ptr(int((value & maskElapsed) >> shiftElapsed)),
	}

	if caps.Brightness {
		p.Brightness = device.Ptr(int(value&maskBrightness) >> shiftBrightness)
	}

	if caps.ColorEffect {
		cool := value&maskCool != 0
		warm := value&maskWarm != 0
		switch {
		case cool && warm:
			p.LightMode = device.Ptr(device.LightModeDaylight)
		case cool:
			p.LightMode = device.Ptr(device.LightModeCool)
		case warm:
			p.LightMode = device.Ptr(device.LightModeWarm)
		}
	}
	return p
}

// EncodeStatus is the inverse of DecodeStatus. Elapsed minutes are rounded
// down to a multiple of four.
func EncodeStatus(s device.State) uint32 {
	var v uint32
	if s.Power {
		v |= maskPower
	}
	if s.LED {
		v |= maskLED
	}
	if s.Sleep {
		v |= maskSleep
	}
	v |= uint32(s.Speed) & maskSpeed
	v |= (uint32(s.TimerHours) << shiftTimerHours) & maskTimerHours
	v |= (uint32(s.TimerElapsedMins) << shiftElapsed) & maskElapsed

	if s.Brightness != nil {
		v |= (uint32(*s.Brightness) << shiftBrightness) & maskBrightness
	}
	if s.LightMode != nil {
		switch *s.LightMode {
		case device.LightModeDaylight:
			v |= maskCool | maskWarm
		case device.LightModeCool:
			v |= maskCool
		case device.LightModeWarm:
			v |= maskWarm
		}
	}
	return v
}
