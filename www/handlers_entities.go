package www

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/statecache"
)

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	code := http.StatusOK
	if !health.OK() {
		code = http.StatusServiceUnavailable
	}
	h.jsonStatus(w, code, health)
}

func (h *Handlers) apiStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Machine().Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, stats)
}

func (h *Handlers) apiGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.engine.Machine().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, e)
}

// apiEntityStatus serves the cached status snapshot, reading SQL on a miss.
func (h *Handlers) apiEntityStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Cache().Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, statecache.ErrNotTracked) {
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, s)
}

func (h *Handlers) apiEntityHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Machine().History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, entries)
}

type allocateRequest struct {
	Kind  ident.Kind `json:"kind"`
	Year  string     `json:"year"`
	Owner string     `json:"owner"`
}

type allocateResponse struct {
	ID string `json:"id"`
	ident.Identifier
}

func (h *Handlers) apiAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Year == "" {
		req.Year = ident.YearOf(time.Now())
	}
	id, err := h.engine.Allocator().Allocate(r.Context(), req.Kind, req.Year, req.Owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, allocateResponse{ID: id.String(), Identifier: id})
}

type transitionRequest struct {
	Axis   string `json:"axis"`
	Target string `json:"target"`
}

func (h *Handlers) apiTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.engine.Machine().Transition(r.Context(), lifecycle.TransitionRequest{
		ID:     chi.URLParam(r, "id"),
		Axis:   req.Axis,
		Target: req.Target,
		Actor:  h.actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, out)
}

func (h *Handlers) apiDeleteEntity(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Machine().Delete(r.Context(), chi.URLParam(r, "id"), h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, d)
}
