package web

// errors.go turns errors into responses. The technical error is logged with
// the request id; the client gets the mapped user message and its code,
// as JSON for /api routes and as an HTML alert for pages.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/logging"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrLoadNotFound), errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, descriptor.ErrDescriptorNotFound), errors.Is(err, descriptor.ErrInvalidDescriptor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyLoads), errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request error", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	}

	if errors.Is(err, core.ErrTooManyLoads) {
		w.Header().Set("Retry-After", "30")
	}

	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSON(w, status, ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := templates.Layout("Error", templates.ErrorAlert(msg.Message, msg.Action, msg.Code))
	if err := page.Render(r.Context(), w); err != nil {
		log.Warn("render error page", "error", err)
	}
}

// badRequest answers malformed API input, which has no user message code.
func badRequest(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: reason, Code: "REQ001"})
}
