package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/cloud"
	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// Route names the channel a command took.
type Route string

// Command routes.
const (
	RouteLocal Route = "local"
	RouteCloud Route = "cloud"
)

// LightSettings is a combined light command. Nil fields are left alone.
type LightSettings struct {
	LED        *bool             `json:"led,omitempty"`
	Brightness *int              `json:"brightness,omitempty"`
	LightMode  *device.LightMode `json:"light_mode,omitempty"`
}

// TurnOn switches the fan on.
func (c *Coordinator) TurnOn(ctx context.Context, id string) error {
	_, err := c.Execute(ctx, id, device.Command{Power: device.Ptr(true)})
	return err
}

// TurnOff switches the fan off.
func (c *Coordinator) TurnOff(ctx context.Context, id string) error {
	_, err := c.Execute(ctx, id, device.Command{Power: device.Ptr(false)})
	return err
}

// SetSpeed sets the fan speed, 1 to 6.
func (c *Coordinator) SetSpeed(ctx context.Context, id string, speed int) error {
	if err := device.ValidateSpeed(speed); err != nil {
		return err
	}
	_, err := c.Execute(ctx, id, device.Command{Speed: device.Ptr(speed)})
	return err
}

// SetSleep toggles sleep mode.
func (c *Coordinator) SetSleep(ctx context.Context, id string, on bool) error {
	_, err := c.Execute(ctx, id, device.Command{Sleep: device.Ptr(on)})
	return err
}

// SetLight sends a combined light command.
func (c *Coordinator) SetLight(ctx context.Context, id string, light LightSettings) error {
	cmd := device.Command{LED: light.LED, Brightness: light.Brightness, LightMode: light.LightMode}
	if !cmd.HasLight() {
		return fmt.Errorf("%w: empty light command", device.ErrInvalidValue)
	}
	_, err := c.Execute(ctx, id, cmd)
	return err
}

// SetTimer sets the timer by index into device.TimerHours.
func (c *Coordinator) SetTimer(ctx context.Context, id string, index int) error {
	if _, err := device.ValidateTimerIndex(index); err != nil {
		return err
	}
	_, err := c.Execute(ctx, id, device.Command{Timer: device.Ptr(index)})
	return err
}

// Execute validates and sends a command, then applies the state it implies
// to the registry. Nothing is applied unless the send was confirmed.
//
// Commands go straight to the fan when local control is enabled and the
// fan is online with a known address; otherwise through the cloud.
func (c *Coordinator) Execute(ctx context.Context, id string, cmd device.Command) (Route, error) {
	switch c.State() {
	case StateStopped:
		return "", ErrStopped
	case StateUninitialized:
		return "", ErrNotReady
	}

	d, err := c.registry.Get(id)
	if err != nil {
		return "", err
	}
	if cmd.IsLightOnly() {
		cmd = cmd.NormaliseLight()
	}
	if err := cmd.Validate(d.Capabilities()); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	route := c.routeFor(d)
	switch route {
	case RouteLocal:
		if err := c.sender.Send(ctx, d.IP, cmd); err != nil {
			return route, fmt.Errorf("local command to %s: %w: %w", id, broadcast.ErrSend, err)
		}
	default:
		if err := c.cloudUsable(); err != nil {
			return route, err
		}
		if err := c.cloud.SendCommand(ctx, id, cmd); err != nil {
			return route, fmt.Errorf("cloud command to %s: %w", id, err)
		}
	}

	c.logger.Debug("command sent", "device_id", id, "route", route, "command", cmd)

	changed, err := c.registry.PatchState(id, cmd.Patch())
	if err != nil {
		// The device may have been removed by a concurrent Stop.
		c.logger.Warn("applying command state failed", "device_id", id, "error", err)
		return route, nil
	}
	if len(changed) > 0 {
		c.notify(id, changed, SourceCommand)
	}
	return route, nil
}

// routeFor picks the local path only for a fan heard within the
// availability window; the online flag alone may lag by a sweep interval.
func (c *Coordinator) routeFor(d *device.Device) Route {
	if !c.cfg.LocalControl || c.sender == nil || d.IP == nil || !d.State.Online {
		return RouteCloud
	}
	if d.LastSeen == nil || c.now().Sub(*d.LastSeen) > c.cfg.AvailabilityTimeout {
		return RouteCloud
	}
	return RouteLocal
}

// cloudUsable rejects cloud commands while the account is degraded by
// rejected credentials; retrying them would only fail again.
func (c *Coordinator) cloudUsable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateDegraded && errors.Is(c.lastErr, cloud.ErrAuth) {
		return fmt.Errorf("account %s degraded: %w", c.cfg.AccountID, c.lastErr)
	}
	return nil
}
