package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabload/internal/store"
)

type columnResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Identity bool   `json:"identity,omitempty"`
}

type tableResponse struct {
	Table   string           `json:"table"`
	Columns []columnResponse `json:"columns"`
	Rows    *int64           `json:"rows,omitempty"`
}

// handleDescribeTable returns the columns of a table as the store reports
// them, plus the row count when the store can count.
func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")

	cols, err := s.service.Describe(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := tableResponse{Table: name, Columns: make([]columnResponse, len(cols))}
	for i, c := range cols {
		resp.Columns[i] = columnResponse{Name: c.Name, Type: string(c.Type), Nullable: c.Nullable, Identity: c.Identity}
	}
	if counter, ok := s.service.Store().(store.Counter); ok {
		if n, err := counter.CountRows(r.Context(), name); err == nil {
			resp.Rows = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthTimeout bounds the store probe of /healthz.
const healthTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	if _, err := s.service.Store().TableExists(ctx, "tabload_healthcheck"); err != nil {
		status, code = "store unavailable", http.StatusServiceUnavailable
		if !errors.Is(err, store.ErrUnavailable) {
			status = "store error"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"limiter": s.loads.LimiterStatus(),
	})
}
