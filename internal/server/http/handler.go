package http

import (
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/go-chi/chi/v5/middleware"
)

// handlerFunc is an http.HandlerFunc that reports failure by returning an
// error instead of writing it.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap renders errors returned by h as the error envelope. Server-side
// failures are logged with their cause; the client only sees a generic
// message.
func wrap(logger logging.Logger, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		status, message, details := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
		}

		respondError(w, status, message, details)
	}
}
