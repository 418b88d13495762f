package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ubcore/lifecycle"
)

func (h *Handlers) apiRegisterClient(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.ClientInput
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.engine.Machine().RegisterClient(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, c)
}

func (h *Handlers) apiCreateProject(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.ProjectInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.engine.Machine().CreateProject(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, p)
}

func (h *Handlers) apiAddFile(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.FileInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ProjectID = chi.URLParam(r, "id")
	f, err := h.engine.Machine().AddFile(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, f)
}

func (h *Handlers) apiIssueQuote(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.QuoteInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ProjectID = chi.URLParam(r, "id")
	q, err := h.engine.Machine().IssueQuote(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, q)
}

func (h *Handlers) apiUpdateQuoteTerms(w http.ResponseWriter, r *http.Request) {
	var terms lifecycle.QuoteTerms
	if !h.decode(w, r, &terms) {
		return
	}
	q, err := h.engine.Machine().UpdateQuoteTerms(r.Context(), chi.URLParam(r, "id"), terms, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, q)
}

func (h *Handlers) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.OrderInput
	if !h.decode(w, r, &in) {
		return
	}
	o, err := h.engine.Machine().CreateOrder(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, o)
}

func (h *Handlers) apiCreatePrintJob(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.JobInput
	if !h.decode(w, r, &in) {
		return
	}
	in.OrderID = chi.URLParam(r, "id")
	j, err := h.engine.Machine().CreatePrintJob(r.Context(), in, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, j)
}

func (h *Handlers) apiRecordProgress(w http.ResponseWriter, r *http.Request) {
	var u lifecycle.ProgressUpdate
	if !h.decode(w, r, &u) {
		return
	}
	j, err := h.engine.Machine().RecordProgress(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, j)
}
