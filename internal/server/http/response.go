package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// Response is the envelope every endpoint answers with. Success is derived
// from the status code.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorResponse is the envelope for failures. Data is always null.
type ErrorResponse struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

const msgInternal = "Something went wrong"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any, message string) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, Response{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

func respondError(w http.ResponseWriter, status int, message string, details []string) {
	if details == nil {
		details = []string{}
	}
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Data:       nil,
		Message:    message,
		Success:    false,
		Errors:     details,
	})
}

// classify turns any handler error into a status, a client-safe message and
// optional details. Unclassified errors are internal.
func classify(err error) (int, string, []string) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "Request body too large", nil
	}

	var ce *common.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError, msgInternal, nil
	}

	switch {
	case errors.Is(ce.Kind, common.ErrorValidation):
		return http.StatusBadRequest, ce.Message, ce.Details
	case errors.Is(ce.Kind, common.ErrorConflict), errors.Is(ce.Kind, common.ErrorAlreadyExists):
		return http.StatusConflict, ce.Message, ce.Details
	case errors.Is(ce.Kind, common.ErrorNotFound):
		return http.StatusNotFound, ce.Message, ce.Details
	case errors.Is(ce.Kind, common.ErrorUnauthorized):
		return http.StatusUnauthorized, ce.Message, ce.Details
	default:
		return http.StatusInternalServerError, msgInternal, nil
	}
}
