package www

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"ubcore/engine"
	"ubcore/metrics"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.ensureDefaultAdmin(ctx, eng.DB())
	cancel()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/events", hub.SSEHandler)
	r.Handle("/metrics", metrics.Handler(metrics.Registry(eng.Metrics())))
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealth)
		r.Get("/stats", h.apiStats)
		r.Get("/entities/{id}", h.apiGetEntity)
		r.Get("/entities/{id}/status", h.apiEntityStatus)
		r.Get("/entities/{id}/history", h.apiEntityHistory)
		r.Get("/projects", h.apiListProjects)
		r.Get("/projects/{id}/files", h.apiProjectFiles)
		r.Get("/projects/{id}/quotes", h.apiProjectQuotes)
		r.Get("/orders", h.apiListOrders)
		r.Get("/orders/{id}/jobs", h.apiOrderJobs)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/allocate", h.apiAllocate)
			r.Post("/clients", h.apiRegisterClient)
			r.Post("/projects", h.apiCreateProject)
			r.Post("/projects/{id}/files", h.apiAddFile)
			r.Post("/projects/{id}/quotes", h.apiIssueQuote)
			r.Put("/quotes/{id}/terms", h.apiUpdateQuoteTerms)
			r.Post("/orders", h.apiCreateOrder)
			r.Post("/orders/{id}/jobs", h.apiCreatePrintJob)
			r.Post("/jobs/{id}/progress", h.apiRecordProgress)
			r.Post("/entities/{id}/transition", h.apiTransition)
			r.Delete("/entities/{id}", h.apiDeleteEntity)
		})
	})

	return r, hub.Stop
}
