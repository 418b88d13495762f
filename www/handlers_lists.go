package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projects, err := h.engine.Machine().ListProjects(r.Context(), q.Get("owner"), q.Get("status"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, projects)
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.engine.Machine().ListOrders(r.Context(), q.Get("owner"), q.Get("status"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, orders)
}

func (h *Handlers) apiProjectFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.engine.Machine().ProjectFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, files)
}

func (h *Handlers) apiProjectQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.engine.Machine().ProjectQuotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, quotes)
}

func (h *Handlers) apiOrderJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.Machine().OrderJobs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, jobs)
}
