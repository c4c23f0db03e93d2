package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// DefaultBaseURL is the Atomberg developer API.
const DefaultBaseURL = "https://api.developer.atomberg-iot.com"

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-ID"
	statusSuccess   = "Success"

	listDevicesPath = "/v1/get_list_of_devices"
	deviceStatePath = "/v1/get_device_state"
	sendCommandPath = "/v1/send_command"

	maxResponseSize = 1 << 20
	defaultTimeout  = 10 * time.Second
)

// Logger defines the logging interface used by the cloud client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains the settings of one account's client.
type Config struct {
	BaseURL      string
	APIKey       string
	RefreshToken string

	// Timeout bounds every request, including the token refresh it may trigger.
	Timeout time.Duration

	// HTTPClient is optional.
	HTTPClient *http.Client
}

// Client talks to the Atomberg developer API on behalf of one account.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	tokens     *TokenCache
	logger     Logger
}

// New creates a client and its private token cache.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		tokens:     NewTokenCache(cfg.BaseURL, cfg.APIKey, cfg.RefreshToken, cfg.HTTPClient),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the client and its token cache.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
	c.tokens.SetLogger(logger)
}

// Tokens returns the client's token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// envelope is the common response shape: {"status": "...", "message": ...}.
type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// apiError builds an APIError from an envelope whose message may be a
// plain string or an object.
func (e envelope) apiError(code int) *APIError {
	apiErr := &APIError{StatusCode: code, Status: e.Status}
	var text string
	if json.Unmarshal(e.Message, &text) == nil {
		apiErr.Message = text
	} else if len(e.Message) > 0 {
		apiErr.Message = string(e.Message)
	}
	return apiErr
}

// do performs an authenticated call and returns the decoded envelope.
// The envelope status is not checked here.
func (c *Client) do(ctx context.Context, method, path string, body any) (envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.tokens.Get(ctx)
	if err != nil {
		return envelope{}, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("%w: encoding request: %w", ErrProtocol, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: creating request: %w", ErrProtocol, err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set(headerRequestID, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	env, err := execute(c.httpClient, req)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) {
			c.logger.Error("request failed", "path", path, "status_code", apiErr.StatusCode, "message", apiErr.Message)
		}
		if errors.Is(err, ErrAuth) {
			c.tokens.Invalidate()
		}
		return envelope{}, err
	}
	return env, nil
}

// execute sends req and classifies the outcome. HTTP 401/403 map to
// ErrAuth, 5xx and network errors to ErrTransport, other non-2xx responses
// to ErrProtocol, each wrapping an *APIError when a response was received.
func execute(httpClient *http.Client, req *http.Request) (envelope, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return envelope{}, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := env.apiError(resp.StatusCode)
		if decodeErr != nil {
			apiErr.Message = ""
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return envelope{}, fmt.Errorf("%w: %w", ErrAuth, apiErr)
		case resp.StatusCode >= http.StatusInternalServerError:
			return envelope{}, fmt.Errorf("%w: %w", ErrTransport, apiErr)
		default:
			return envelope{}, fmt.Errorf("%w: %w", ErrProtocol, apiErr)
		}
	}

	if decodeErr != nil {
		return envelope{}, fmt.Errorf("%w: decoding response: %w", ErrProtocol, decodeErr)
	}
	return env, nil
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

// ListDevices returns the account's fans. Fans of unsupported series are
// left out. The returned snapshots carry no state.
func (c *Client) ListDevices(ctx context.Context) ([]device.Snapshot, error) {
	env, err := c.do(ctx, http.MethodGet, listDevicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if env.Status != statusSuccess {
		apiErr := env.apiError(http.StatusOK)
		c.logger.Error("device list sync failed, check API credentials", "message", apiErr.Message)
		return nil, fmt.Errorf("%w: listing devices: %w", ErrProtocol, apiErr)
	}

	var msg struct {
		DevicesList *[]struct {
			DeviceID string `json:"device_id"`
			Name     string `json:"name"`
			Model    string `json:"model"`
			Series   string `json:"series"`
			Color    string `json:"color"`
		} `json:"devices_list"`
	}
	if err := json.Unmarshal(env.Message, &msg); err != nil || msg.DevicesList == nil {
		return nil, fmt.Errorf("%w: devices_list missing from response", ErrProtocol)
	}

	snapshots := make([]device.Snapshot, 0, len(*msg.DevicesList))
	for _, d := range *msg.DevicesList {
		if !device.IsSupportedSeries(d.Series) {
			c.logger.Debug("skipping unsupported device", "device_id", d.DeviceID, "series", d.Series)
			continue
		}
		snapshots = append(snapshots, device.Snapshot{
			ID:     d.DeviceID,
			Name:   d.Name,
			Model:  d.Model,
			Series: d.Series,
			Color:  d.Color,
		})
	}
	return snapshots, nil
}

// SyncDevices lists the account's fans and merges each with its current
// state. A listed fan missing from the state response is an ErrProtocol.
func (c *Client) SyncDevices(ctx context.Context) ([]device.Snapshot, error) {
	snapshots, err := c.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return snapshots, nil
	}

	ids := make([]string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID
	}

	states, err := c.GetStates(ctx, ids...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]device.Patch, len(states))
	for _, s := range states {
		byID[s.DeviceID] = s.State
	}
	for i := range snapshots {
		state, ok := byID[snapshots[i].ID]
		if !ok {
			return nil, fmt.Errorf("%w: no state reported for device %s", ErrProtocol, snapshots[i].ID)
		}
		snapshots[i].State = state
	}

	c.logger.Info("devices synced", "count", len(snapshots))
	return snapshots, nil
}

// SendCommand posts a command for one fan. It succeeds only when the API
// answers with status "Success"; anything else is ErrCommandRejected.
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd device.Command) error {
	c.logger.Debug("sending command", "device_id", deviceID, "command", cmd)

	body := struct {
		DeviceID string         `json:"device_id"`
		Command  device.Command `json:"command"`
	}{deviceID, cmd}

	env, err := c.do(ctx, http.MethodPost, sendCommandPath, body)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			var apiErr *APIError
			if asAPIError(err, &apiErr) {
				return fmt.Errorf("%w: %w", ErrCommandRejected, apiErr)
			}
		}
		return fmt.Errorf("sending command: %w", err)
	}
	if env.Status != statusSuccess {
		return fmt.Errorf("%w: %w", ErrCommandRejected, env.apiError(http.StatusOK))
	}
	return nil
}

// TestConnection performs a full device sync and reports only the error class.
// It is meant for setup flows that distinguish bad credentials from an
// unreachable service.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.SyncDevices(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth):
		c.logger.Error("cloud authentication failed")
		return ErrAuth
	default:
		c.logger.Error("cloud connection test failed", "error", err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
