// Package relay publishes fan state outside the process.
//
// Each coordinator notification becomes a retained JSON message on
// atomberg/device/{id}/state, an InfluxDB point and a state_history row.
// Commands arriving on atomberg/device/{id}/command are decoded and
// executed through the coordinator that owns the fan.
package relay
