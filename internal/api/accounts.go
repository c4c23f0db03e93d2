package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dasshubham762/atomberg-integration/internal/accounts"
	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/settings"
)

// accountView joins stored account settings with live coordinator status.
// Credentials are never included.
type accountView struct {
	ID           string            `json:"id"`
	LocalControl *bool             `json:"local_control,omitempty"`
	State        coordinator.State `json:"state"`
	LastRefresh  *time.Time        `json:"last_refresh,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Devices      device.Stats      `json:"devices"`
}

// handleListAccounts lists every account. Accounts that are stored but
// have no running coordinator are reported as stopped.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	byID := make(map[string]*accountView)
	views := make([]*accountView, 0)

	for _, st := range s.fleet.Statuses() {
		v := &accountView{
			ID:          st.AccountID,
			State:       st.State,
			LastRefresh: st.LastRefresh,
			LastError:   st.LastError,
			Devices:     st.Devices,
		}
		byID[st.AccountID] = v
		views = append(views, v)
	}

	if s.accounts != nil {
		stored, err := s.accounts.List(r.Context())
		if err != nil {
			s.logger.Error("listing accounts failed", "error", err)
			writeInternalError(w, "failed to list accounts")
			return
		}
		for _, acc := range stored {
			local := acc.LocalControl
			if v, ok := byID[acc.ID]; ok {
				v.LocalControl = &local
				continue
			}
			views = append(views, &accountView{ID: acc.ID, LocalControl: &local, State: coordinator.StateStopped})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": views, "count": len(views)})
}

// handleCreateAccount adds an account after a cloud connection test.
// Body: {"id"?, "api_key", "refresh_token", "local_control"?}.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "account management is not enabled")
		return
	}
	var in accounts.NewAccount
	if !decodeBody(w, r, &in) {
		return
	}
	if len(in.ID) > maxQueryParamLen {
		writeBadRequest(w, "invalid account ID")
		return
	}

	acc, err := s.accounts.Create(r.Context(), in)
	if err != nil {
		s.logger.Warn("adding account failed", "account_id", in.ID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.viewOf(acc))
}

// handleUpdateAccount changes credentials or local control and restarts
// the account. Body fields are optional.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "account management is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	var u accounts.Update
	if !decodeBody(w, r, &u) {
		return
	}

	acc, err := s.accounts.Update(r.Context(), id, u)
	if err != nil {
		s.logger.Warn("updating account failed", "account_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(acc))
}

// handleDeleteAccount stops and removes an account.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "account management is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.accounts.Delete(r.Context(), id); err != nil {
		s.logger.Warn("removing account failed", "account_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// viewOf joins a stored account with its live status.
func (s *Server) viewOf(acc *settings.Account) *accountView {
	local := acc.LocalControl
	v := &accountView{ID: acc.ID, LocalControl: &local, State: coordinator.StateStopped}
	for _, st := range s.fleet.Statuses() {
		if st.AccountID == acc.ID {
			v.State = st.State
			v.LastRefresh = st.LastRefresh
			v.LastError = st.LastError
			v.Devices = st.Devices
			break
		}
	}
	return v
}

// decodeBody reads a strict JSON object into v, answering the error itself.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON object")
	}
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
	case errors.Is(err, io.EOF):
		writeBadRequest(w, "request body is empty")
	default:
		writeBadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return false
}
