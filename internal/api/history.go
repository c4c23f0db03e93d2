package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// handleGetDeviceHistory lists recorded state changes of a fan, newest first.
// Query: limit (1..200, default 50), since (RFC 3339), source.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "state history is not enabled")
		return
	}

	q, err := historyQuery(chi.URLParam(r, "id"), r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if _, err := s.fleet.Device(q.DeviceID); err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := s.history.GetHistory(r.Context(), q)
	if err != nil {
		s.logger.Error("reading state history failed", "device_id", q.DeviceID, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": q.DeviceID,
		"entries":   entries,
		"count":     len(entries),
	})
}

// historyQuery validates the path id and query string of a history request.
func historyQuery(deviceID string, v url.Values) (device.HistoryQuery, error) {
	q := device.HistoryQuery{DeviceID: deviceID, Limit: device.DefaultHistoryLimit}
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		return q, errors.New("invalid device ID")
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > device.MaxHistoryLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", device.MaxHistoryLimit)
		}
		q.Limit = n
	}
	if raw := v.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	if raw := v.Get("source"); raw != "" {
		if !device.IsHistorySource(raw) {
			return q, fmt.Errorf("unknown source %q", raw)
		}
		q.Source = raw
	}
	return q, nil
}
