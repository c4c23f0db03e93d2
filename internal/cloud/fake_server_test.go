package cloud

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testAPIKey       = "api-key-123"
	testRefreshToken = "refresh-token-456"
)

// signedToken returns an HS256 JWT expiring at exp.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "test",
	}).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

// fakeAPI is a scriptable stand-in for the developer API.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	accessToken string
	handlers    map[string]http.HandlerFunc
	lastBody    []byte
	lastHeaders http.Header
	lastQuery   string

	tokenCalls atomic.Int64
	tokenDelay time.Duration
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:           t,
		accessToken: signedToken(t, time.Now().Add(time.Hour)),
		handlers:    make(map[string]http.HandlerFunc),
	}
	f.handlers[accessTokenPath] = f.tokenHandler
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
	f.mu.Lock()
	h := f.handlers[r.URL.Path]
	if r.URL.Path != accessTokenPath {
		f.lastBody = body
		f.lastHeaders = r.Header.Clone()
		f.lastQuery = r.URL.RawQuery
	}
	f.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	if r.URL.Path != accessTokenPath && r.Header.Get("Authorization") != "Bearer "+f.currentToken() {
		writeEnvelope(w, http.StatusUnauthorized, "Failure", "invalid access token")
		return
	}
	h(w, r)
}

func (f *fakeAPI) tokenHandler(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls.Add(1)
	if f.tokenDelay > 0 {
		time.Sleep(f.tokenDelay)
	}
	if r.Header.Get(headerAPIKey) != testAPIKey || r.Header.Get("Authorization") != "Bearer "+testRefreshToken {
		writeEnvelope(w, http.StatusUnauthorized, "Failure", "invalid refresh token")
		return
	}
	writeEnvelope(w, http.StatusOK, "Success", map[string]string{"access_token": f.currentToken()})
}

func (f *fakeAPI) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken
}

func (f *fakeAPI) setToken(tok string) {
	f.mu.Lock()
	f.accessToken = tok
	f.mu.Unlock()
}

func (f *fakeAPI) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

func (f *fakeAPI) respond(path string, code int, status string, message any) {
	f.handle(path, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, code, status, message)
	})
}

func (f *fakeAPI) client() *Client {
	return New(Config{
		BaseURL:      f.srv.URL,
		APIKey:       testAPIKey,
		RefreshToken: testRefreshToken,
		Timeout:      5 * time.Second,
	})
}

func writeEnvelope(w http.ResponseWriter, code int, status string, message any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message}) //nolint:errcheck // test server
}

var sampleDevices = []map[string]any{
	{"device_id": "fan-1", "name": "Bedroom", "model": "Renesa", "series": "R1", "color": "White"},
	{"device_id": "fan-2", "name": "Study", "model": "Aris", "series": "I1", "color": "Gold"},
	{"device_id": "fan-3", "name": "Legacy", "model": "Old", "series": "Z9", "color": "Brown"},
}

var sampleStates = []map[string]any{
	{
		"device_id": "fan-1", "power": true, "led": false, "sleep_mode": true,
		"last_recorded_speed": 4, "timer_hours": 2, "timer_time_elapsed_mins": 30,
		"is_online": true,
	},
	{
		"device_id": "fan-2", "power": false, "led": true, "sleep_mode": false,
		"last_recorded_speed": 2, "timer_hours": 0, "timer_time_elapsed_mins": 0,
		"last_recorded_brightness": 65, "last_recorded_color": "Warm", "is_online": true,
	},
	{
		"device_id": "fan-3", "power": false, "led": false, "sleep_mode": false,
		"last_recorded_speed": 1,
	},
}
