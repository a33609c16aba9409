package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabload/internal/logging"
	"github.com/JonMunkholm/tabload/internal/web/templates"
)

func (s *Server) handleLoadsPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.LoadsPage(s.loads.List(), s.loads.LimiterStatus()).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Warn("render loads page", "error", err)
	}
}

// handleLoadPage renders the report of one load, or its progress while it
// runs.
func (s *Server) handleLoadPage(w http.ResponseWriter, r *http.Request) {
	status, err := s.loads.Status(chi.URLParam(r, "loadID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.LoadPage(status).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Warn("render load page", "error", err)
	}
}
