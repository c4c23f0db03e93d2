package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// StateSnapshot is the cloud's view of one fan's state.
//
// It has no online flag: presence reported by the cloud is not trusted,
// only local broadcasts can mark a fan online.
type StateSnapshot struct {
	DeviceID string
	State    device.Patch
}

// rawState is one entry of message.device_state with vendor field names.
type rawState struct {
	DeviceID               string  `json:"device_id"`
	Power                  *bool   `json:"power"`
	LED                    *bool   `json:"led"`
	SleepMode              *bool   `json:"sleep_mode"`
	LastRecordedSpeed      *int    `json:"last_recorded_speed"`
	TimerHours             *int    `json:"timer_hours"`
	TimerTimeElapsedMins   *int    `json:"timer_time_elapsed_mins"`
	LastRecordedBrightness *int    `json:"last_recorded_brightness"`
	LastRecordedColor      *string `json:"last_recorded_color"`
}

// normalise maps vendor names onto the canonical attribute set.
// Brightness and colour are taken only when set to a non-zero value.
func (r rawState) normalise() device.Patch {
	p := device.Patch{
		Power:            r.Power,
		LED:              r.LED,
		Sleep:            r.SleepMode,
		Speed:            r.LastRecordedSpeed,
		TimerHours:       r.TimerHours,
		TimerElapsedMins: r.TimerTimeElapsedMins,
	}
	if r.LastRecordedBrightness != nil && *r.LastRecordedBrightness != 0 {
		p.Brightness = r.LastRecordedBrightness
	}
	if r.LastRecordedColor != nil && *r.LastRecordedColor != "" {
		mode := device.LightMode(strings.ToLower(*r.LastRecordedColor))
		if mode.Valid() {
			p.LightMode = &mode
		}
	}
	return p
}

// GetStates fetches the current state of the given fans, or of every fan
// on the account when no id is given.
func (c *Client) GetStates(ctx context.Context, ids ...string) ([]StateSnapshot, error) {
	query := "all"
	if len(ids) == 1 {
		query = ids[0]
	}

	env, err := c.do(ctx, http.MethodGet, deviceStatePath+"?device_id="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("getting device state: %w", err)
	}
	if env.Status != statusSuccess {
		return nil, fmt.Errorf("%w: getting device state: %w", ErrProtocol, env.apiError(http.StatusOK))
	}

	var msg struct {
		DeviceState *[]rawState `json:"device_state"`
	}
	if err := json.Unmarshal(env.Message, &msg); err != nil || msg.DeviceState == nil {
		return nil, fmt.Errorf("%w: device_state missing from response", ErrProtocol)
	}

	states := make([]StateSnapshot, 0, len(*msg.DeviceState))
	for _, raw := range *msg.DeviceState {
		if len(ids) > 0 && !slices.Contains(ids, raw.DeviceID) {
			continue
		}
		states = append(states, StateSnapshot{DeviceID: raw.DeviceID, State: raw.normalise()})
	}
	return states, nil
}
