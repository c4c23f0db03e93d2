// Package influxdb writes fan telemetry to InfluxDB v2.
//
// Every state change the relay sees becomes a fan_state point tagged with
// device, account, series and change source; availability transitions also
// produce fan_availability points. Writes are batched and asynchronous.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteFanState(dev, "broadcast")
package influxdb
