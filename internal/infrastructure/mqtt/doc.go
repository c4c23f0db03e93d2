// Package mqtt connects the fan state relay to an MQTT broker.
//
// The client reconnects on its own and replays its subscriptions on each new
// session. A retained Presence document on atomberg/system/status tells
// consumers whether the relay is up; the broker's Last Will covers crashes.
// Topic layout lives in Topics.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _, _ := mqtt.ParseDeviceTopic(topic)
//	        return handleCommand(id, payload)
//	    })
//
//	client.PublishJSON(mqtt.Topics{}.DeviceState(id), state, true)
package mqtt
