package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"subscription-fulfillment/internal/infra/metrics"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// countCommands records every admin call by route pattern and outcome.
func countCommands(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		command := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			command = rc.RoutePattern()
		}
		command = strings.TrimPrefix(command, "/admin/")
		switch {
		case sw.status == http.StatusUnauthorized || sw.status == http.StatusForbidden:
			metrics.IncAdminCommand(command, "unauthorized")
		case sw.status >= 400:
			metrics.IncAdminCommand(command, "error")
		default:
			metrics.IncAdminCommand(command, "ok")
		}
	})
}
