package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

func TestClient_ListDevices(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": sampleDevices})

	got, err := api.client().ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(devices) = %d, want 2 (unsupported series dropped)", len(got))
	}
	if got[0].ID != "fan-1" || got[0].Series != "R1" || got[0].Name != "Bedroom" {
		t.Errorf("devices[0] = %+v", got[0])
	}
	if got[1].ID != "fan-2" || got[1].Color != "Gold" {
		t.Errorf("devices[1] = %+v", got[1])
	}
}

func TestClient_RequestHeaders(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": []any{}})

	if _, err := api.client().ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}

	api.mu.Lock()
	headers := api.lastHeaders
	api.mu.Unlock()

	if got := headers.Get(headerAPIKey); got != testAPIKey {
		t.Errorf("%s = %q, want %q", headerAPIKey, got, testAPIKey)
	}
	if got := headers.Get("Authorization"); got != "Bearer "+api.currentToken() {
		t.Errorf("Authorization = %q, want access token bearer", got)
	}
	if headers.Get(headerRequestID) == "" {
		t.Errorf("%s header missing", headerRequestID)
	}
}

func TestClient_ListDevicesErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		status  string
		message any
		wantErr error
	}{
		{"missing devices_list", http.StatusOK, "Success", map[string]any{}, ErrProtocol},
		{"status failure", http.StatusOK, "Failure", "bad key", ErrProtocol},
		{"bad request", http.StatusBadRequest, "Failure", "bad request", ErrProtocol},
		{"forbidden", http.StatusForbidden, "Failure", "forbidden", ErrAuth},
		{"server error", http.StatusInternalServerError, "Failure", "boom", ErrTransport},
		{"gateway timeout", http.StatusGatewayTimeout, "Failure", "slow", ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.respond(listDevicesPath, tt.code, tt.status, tt.message)

			_, err := api.client().ListDevices(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ListDevices() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_MalformedBody(t *testing.T) {
	api := newFakeAPI(t)
	api.handle(listDevicesPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>")) //nolint:errcheck // test server
	})

	_, err := api.client().ListDevices(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ListDevices() error = %v, want ErrProtocol", err)
	}
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": []any{}})
	c := api.client()

	if _, err := c.ListDevices(context.Background()); err != nil {
		t.Fatalf("first ListDevices() error = %v", err)
	}

	// The server rotates its token; the cached one is now rejected.
	api.setToken(signedToken(t, time.Now().Add(2*time.Hour)))

	_, err := c.ListDevices(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("ListDevices() with stale token error = %v, want ErrAuth", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("error should carry APIError with 401, got %v", err)
	}

	if _, err := c.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() after invalidation error = %v", err)
	}
	if got := c.Tokens().Refreshes(); got != 2 {
		t.Errorf("Refreshes() = %d, want 2", got)
	}
}

func TestClient_GetStatesNormalises(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(deviceStatePath, http.StatusOK, "Success", map[string]any{"device_state": sampleStates})

	states, err := api.client().GetStates(context.Background(), "fan-1", "fan-2")
	if err != nil {
		t.Fatalf("GetStates() error = %v", err)
	}
	api.mu.Lock()
	query := api.lastQuery
	api.mu.Unlock()
	if query != "device_id=all" {
		t.Errorf("query = %q, want device_id=all", query)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2 (filtered by id)", len(states))
	}

	fan1 := states[0].State
	if states[0].DeviceID != "fan-1" {
		t.Fatalf("states[0].DeviceID = %q", states[0].DeviceID)
	}
	if fan1.Speed == nil || *fan1.Speed != 4 {
		t.Errorf("fan-1 speed = %v, want 4", fan1.Speed)
	}
	if fan1.Sleep == nil || !*fan1.Sleep {
		t.Errorf("fan-1 sleep = %v, want true", fan1.Sleep)
	}
	if fan1.TimerHours == nil || *fan1.TimerHours != 2 || fan1.TimerElapsedMins == nil || *fan1.TimerElapsedMins != 30 {
		t.Errorf("fan-1 timer = %v/%v, want 2h/30m", fan1.TimerHours, fan1.TimerElapsedMins)
	}
	if fan1.Brightness != nil || fan1.LightMode != nil {
		t.Errorf("fan-1 should carry no light fields, got %v/%v", fan1.Brightness, fan1.LightMode)
	}

	fan2 := states[1].State
	if fan2.Brightness == nil || *fan2.Brightness != 65 {
		t.Errorf("fan-2 brightness = %v, want 65", fan2.Brightness)
	}
	if fan2.LightMode == nil || *fan2.LightMode != device.LightModeWarm {
		t.Errorf("fan-2 light mode = %v, want warm", fan2.LightMode)
	}
}

func TestClient_GetStatesSingleID(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(deviceStatePath, http.StatusOK, "Success", map[string]any{"device_state": sampleStates[:1]})

	states, err := api.client().GetStates(context.Background(), "fan-1")
	if err != nil {
		t.Fatalf("GetStates() error = %v", err)
	}
	api.mu.Lock()
	query := api.lastQuery
	api.mu.Unlock()
	if query != "device_id=fan-1" {
		t.Errorf("query = %q, want device_id=fan-1", query)
	}
	if len(states) != 1 {
		t.Errorf("len(states) = %d, want 1", len(states))
	}
}

func TestClient_GetStatesMissingField(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(deviceStatePath, http.StatusOK, "Success", map[string]any{"states": []any{}})

	_, err := api.client().GetStates(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("GetStates() error = %v, want ErrProtocol", err)
	}
}

func TestRawState_ZeroLightValuesIgnored(t *testing.T) {
	var raw rawState
	data := `{"device_id":"x","last_recorded_brightness":0,"last_recorded_color":"","last_recorded_speed":3}`
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := raw.normalise()
	if p.Brightness != nil || p.LightMode != nil {
		t.Errorf("zero light values should be dropped, got %v/%v", p.Brightness, p.LightMode)
	}
	if p.Speed == nil || *p.Speed != 3 {
		t.Errorf("speed = %v, want 3", p.Speed)
	}
}

func TestClient_SyncDevices(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": sampleDevices})
	api.respond(deviceStatePath, http.StatusOK, "Success", map[string]any{"device_state": sampleStates})

	snaps, err := api.client().SyncDevices(context.Background())
	if err != nil {
		t.Fatalf("SyncDevices() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snapshots) = %d, want 2", len(snaps))
	}
	for _, s := range snaps {
		if s.State.IsEmpty() {
			t.Errorf("snapshot %s has no state", s.ID)
		}
	}
}

func TestClient_SyncDevicesMissingState(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": sampleDevices})
	api.respond(deviceStatePath, http.StatusOK, "Success", map[string]any{"device_state": sampleStates[:1]})

	_, err := api.client().SyncDevices(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("SyncDevices() error = %v, want ErrProtocol", err)
	}
}

func TestClient_SyncDevicesEmptyAccount(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": []any{}})

	snaps, err := api.client().SyncDevices(context.Background())
	if err != nil {
		t.Fatalf("SyncDevices() error = %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("len(snapshots) = %d, want 0", len(snaps))
	}
}

func TestClient_SendCommand(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(sendCommandPath, http.StatusOK, "Success", "Command sent")

	cmd := device.Command{Speed: device.Ptr(3)}
	if err := api.client().SendCommand(context.Background(), "fan-1", cmd); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	api.mu.Lock()
	body := api.lastBody
	api.mu.Unlock()

	var sent struct {
		DeviceID string         `json:"device_id"`
		Command  map[string]any `json:"command"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("decoding sent body: %v", err)
	}
	if sent.DeviceID != "fan-1" {
		t.Errorf("device_id = %q, want fan-1", sent.DeviceID)
	}
	if len(sent.Command) != 1 || sent.Command["speed"] != float64(3) {
		t.Errorf("command = %v, want {speed: 3}", sent.Command)
	}
}

func TestClient_SendCommandRejected(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		status  string
		wantErr error
	}{
		{"status failure on 200", http.StatusOK, "Failure", ErrCommandRejected},
		{"bad request", http.StatusBadRequest, "Failure", ErrCommandRejected},
		{"server error", http.StatusBadGateway, "Failure", ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.respond(sendCommandPath, tt.code, tt.status, "device offline")

			err := api.client().SendCommand(context.Background(), "fan-1", device.Command{Power: device.Ptr(true)})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_TestConnection(t *testing.T) {
	tests := []struct {
		name      string
		refresh   string
		listCode  int
		wantErr   error
		wantNoErr bool
	}{
		{name: "ok", refresh: testRefreshToken, listCode: http.StatusOK, wantNoErr: true},
		{name: "bad credentials", refresh: "nope", listCode: http.StatusOK, wantErr: ErrAuth},
		{name: "service down", refresh: testRefreshToken, listCode: http.StatusServiceUnavailable, wantErr: ErrTransport},
		{name: "malformed", refresh: testRefreshToken, listCode: http.StatusTeapot, wantErr: ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.respond(listDevicesPath, tt.listCode, "Success", map[string]any{"devices_list": []any{}})

			c := New(Config{BaseURL: api.srv.URL, APIKey: testAPIKey, RefreshToken: tt.refresh})
			err := c.TestConnection(context.Background())
			if tt.wantNoErr {
				if err != nil {
					t.Errorf("TestConnection() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("TestConnection() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(listDevicesPath, http.StatusOK, "Success", map[string]any{"devices_list": []any{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := api.client().ListDevices(ctx)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("ListDevices() error = %v, want ErrTransport", err)
	}
}
