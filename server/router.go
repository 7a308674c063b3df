package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all gateway endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/status", a.handleStatus)

	r.Get("/oauth/start", a.handleOAuthStart)
	r.Get("/oauth/callback", a.handleOAuthCallback)

	return r
}
