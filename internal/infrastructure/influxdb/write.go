package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// Measurement names.
const (
	MeasurementFanState     = "fan_state"
	MeasurementAvailability = "fan_availability"
)

// FanStatePoint builds the fan_state point for d. Tags identify the fan,
// fields carry its merged state. Brightness and light_mode are only present
// on series that support them.
func FanStatePoint(d device.Device, source string, ts time.Time) *write.Point {
	fields := map[string]any{
		"power":           d.State.Power,
		"speed":           d.State.Speed,
		"sleep":           d.State.Sleep,
		"led":             d.State.LED,
		"timer_hours":     d.State.TimerHours,
		"timer_elapsed_m": d.State.TimerElapsedMins,
		"online":          d.State.Online,
	}
	if d.State.Brightness != nil {
		fields["brightness"] = *d.State.Brightness
	}
	if d.State.LightMode != nil {
		fields["light_mode"] = string(*d.State.LightMode)
	}

	return write.NewPoint(MeasurementFanState, fanTags(d, source), fields, ts)
}

// AvailabilityPoint builds a fan_availability point.
func AvailabilityPoint(d device.Device, source string, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementAvailability, fanTags(d, source),
		map[string]any{"online": d.State.Online}, ts)
}

func fanTags(d device.Device, source string) map[string]string {
	tags := map[string]string{
		"device_id":  d.ID,
		"account_id": d.AccountID,
		"series":     d.Series,
	}
	if d.Model != "" {
		tags["model"] = d.Model
	}
	if source != "" {
		tags["source"] = source
	}
	return tags
}

// WriteFanState records the merged state of d.
func (c *Client) WriteFanState(d device.Device, source string) {
	c.record(FanStatePoint(d, source, time.Now()))
}

// WriteAvailability records an online/offline transition of d.
func (c *Client) WriteAvailability(d device.Device, source string) {
	c.record(AvailabilityPoint(d, source, time.Now()))
}

func (c *Client) record(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(p)
	c.written.Add(1)
}
