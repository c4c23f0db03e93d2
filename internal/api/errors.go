package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/cloud"
	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/settings"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnsupported  = "unsupported_attribute"
	ErrCodeRejected     = "command_rejected"
	ErrCodeUpstreamAuth = "upstream_auth"
	ErrCodeUpstream     = "upstream_unavailable"
	ErrCodeNotReady     = "not_ready"
	ErrCodeLocalSend    = "local_unreachable"
	ErrCodeConflict     = "conflict"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainError classifies device, account, coordinator and cloud errors.
func domainError(err error) Error {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return Error{http.StatusNotFound, ErrCodeNotFound, "device not found"}
	case errors.Is(err, settings.ErrAccountNotFound), errors.Is(err, coordinator.ErrAccountNotFound):
		return Error{http.StatusNotFound, ErrCodeNotFound, "account not found"}
	case errors.Is(err, settings.ErrAccountExists):
		return Error{http.StatusConflict, ErrCodeConflict, err.Error()}
	case errors.Is(err, settings.ErrInvalidAccount):
		return Error{http.StatusUnprocessableEntity, ErrCodeValidation, err.Error()}
	case errors.Is(err, device.ErrUnsupportedAttribute):
		return Error{http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error()}
	case errors.Is(err, device.ErrInvalidValue):
		return Error{http.StatusUnprocessableEntity, ErrCodeValidation, err.Error()}
	case errors.Is(err, cloud.ErrCommandRejected):
		return Error{http.StatusUnprocessableEntity, ErrCodeRejected, err.Error()}
	case errors.Is(err, cloud.ErrAuth):
		return Error{http.StatusUnauthorized, ErrCodeUpstreamAuth, "cloud credentials rejected"}
	case errors.Is(err, cloud.ErrTransport), errors.Is(err, cloud.ErrProtocol):
		return Error{http.StatusBadGateway, ErrCodeUpstream, err.Error()}
	case errors.Is(err, broadcast.ErrSend):
		return Error{http.StatusBadGateway, ErrCodeLocalSend, err.Error()}
	case errors.Is(err, coordinator.ErrNotReady), errors.Is(err, coordinator.ErrStopped):
		return Error{http.StatusServiceUnavailable, ErrCodeNotReady, err.Error()}
	default:
		return Error{http.StatusInternalServerError, ErrCodeInternal, "internal error"}
	}
}

// writeDomainError maps device, coordinator and cloud errors onto HTTP.
func writeDomainError(w http.ResponseWriter, err error) {
	e := domainError(err)
	writeJSON(w, e.Status, e)
}
