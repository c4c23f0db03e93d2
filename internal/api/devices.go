package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// maxQueryParamLen caps user supplied IDs and filters.
const maxQueryParamLen = 256

// handleListDevices returns every fan, optionally filtered.
//
// Query parameters:
//   - account_id: only fans of one account
//   - online: "true" or "false"
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if len(accountID) > maxQueryParamLen {
		writeBadRequest(w, "invalid account_id")
		return
	}

	var online *bool
	if v := r.URL.Query().Get("online"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		online = &b
	}

	devices := make([]device.Device, 0)
	for _, d := range s.fleet.Devices() {
		if accountID != "" && d.AccountID != accountID {
			continue
		}
		if online != nil && d.State.Online != *online {
			continue
		}
		devices = append(devices, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single fan.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.fleet.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// commandResponse acknowledges an executed command.
type commandResponse struct {
	DeviceID string         `json:"device_id"`
	Route    string         `json:"route"`
	Device   *device.Device `json:"device,omitempty"`
}

// handleDeviceCommand executes a command through the owning coordinator.
// The body uses the fan's command vocabulary, e.g. {"speed":3}.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read body")
		return
	}

	cmd, err := device.ParseCommand(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	route, err := s.fleet.Execute(r.Context(), id, cmd)
	if err != nil {
		s.logger.Warn("device command failed", "device_id", id, "error", err)
		writeDomainError(w, err)
		return
	}

	resp := commandResponse{DeviceID: id, Route: string(route)}
	if dev, err := s.fleet.Device(id); err == nil {
		resp.Device = dev
	}
	writeJSON(w, http.StatusOK, resp)
}
