package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/logging"
)

// maxRequestBody bounds POST /api/loads bodies.
const maxRequestBody = 64 << 10

// eventInterval is how often the event stream polls a load.
var eventInterval = 500 * time.Millisecond

type startLoadRequest struct {
	Descriptor string `json:"descriptor"`
}

type startLoadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Report string `json:"report"`
}

// handleStartLoad opens the descriptor and starts the load in the
// background. Descriptor problems are reported synchronously.
func (s *Server) handleStartLoad(w http.ResponseWriter, r *http.Request) {
	var req startLoadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "request body must be JSON like {\"descriptor\": \"path/to/datapackage.json\"}")
		return
	}
	req.Descriptor = strings.TrimSpace(req.Descriptor)
	if req.Descriptor == "" {
		badRequest(w, "descriptor is required")
		return
	}

	id, err := s.loads.Start(withRequester(r.Context(), r), req.Descriptor)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("load accepted", "load_id", id, "descriptor", req.Descriptor)
	w.Header().Set("Location", "/api/loads/"+id)
	writeJSON(w, http.StatusAccepted, startLoadResponse{
		ID:     id,
		Status: "/api/loads/" + id,
		Report: "/loads/" + id,
	})
}

func (s *Server) handleListLoads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"loads":   s.loads.List(),
		"limiter": s.loads.LimiterStatus(),
	})
}

// handleLoadStatus returns the load snapshot. With ?wait=1 it blocks until
// the load finishes or the request times out.
func (s *Server) handleLoadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "loadID")

	var (
		status core.LoadStatus
		err    error
	)
	if r.URL.Query().Get("wait") != "" {
		status, err = s.loads.Wait(r.Context(), id)
	} else {
		status, err = s.loads.Status(id)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "loadID")
	if err := s.loads.Cancel(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("load cancelled", "load_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

// handleLoadEvents streams per-resource progress as Server-Sent Events until
// the load finishes. The final event carries the whole status.
func (s *Server) handleLoadEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "loadID")
	status, err := s.loads.Status(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	sent := map[string]core.Progress{}
	seq := 0
	for {
		for name, p := range status.Progress {
			if prev, ok := sent[name]; ok && prev == p {
				continue
			}
			sent[name] = p
			seq++
			writeEvent(w, seq, "progress", p)
		}
		if status.State != core.LoadRunning {
			seq++
			writeEvent(w, seq, "complete", status)
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if status, err = s.loads.Status(id); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, id int, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}
