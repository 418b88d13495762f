package www

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"ubcore/cascade"
	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/store"
)

const maxBody = 1 << 20

type apiError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("www: encode response: %v", err)
	}
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	h.jsonStatus(w, code, apiError{Error: msg, Code: http.StatusText(code)})
}

// writeError maps a domain error onto a status code. Store outages and
// cascade failures are marked retryable.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, code, retryable := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("www: unexpected error: %v", err)
	}
	h.jsonStatus(w, status, apiError{Error: err.Error(), Code: code, Retryable: retryable})
}

func classify(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, cascade.ErrCascadeFailed) && store.IsConflict(err):
		return http.StatusConflict, "cascade_failed", true
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", true
	case errors.Is(err, cascade.ErrBlocked):
		return http.StatusConflict, "cascade_blocked", true
	case errors.Is(err, cascade.ErrCascadeFailed):
		return http.StatusConflict, "cascade_failed", true
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", false
	case errors.Is(err, ident.ErrMalformed):
		return http.StatusBadRequest, "malformed_identifier", false
	case errors.Is(err, ident.ErrInvalidScope):
		return http.StatusUnprocessableEntity, "invalid_scope", false
	case errors.Is(err, lifecycle.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input", false
	case errors.Is(err, lifecycle.ErrIncompleteProgress):
		return http.StatusConflict, "incomplete_progress", false
	case errors.Is(err, lifecycle.ErrProgressRegression):
		return http.StatusConflict, "progress_regression", false
	case errors.Is(err, lifecycle.ErrInvalidProgress):
		return http.StatusUnprocessableEntity, "invalid_progress", false
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", false
	}
	return http.StatusInternalServerError, "internal", false
}

// decode reads a JSON body into v and answers 400 itself on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}
