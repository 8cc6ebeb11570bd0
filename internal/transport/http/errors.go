package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"quiz-assessment-service/internal/domain"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Causes of
// submission failures are never echoed back to the client.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var (
		status = http.StatusInternalServerError
		body   = errorBody{Code: "internal", Message: "internal error"}
		verr   *domain.ValidationError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body = errorBody{Code: "validation_failed", Message: verr.Reason, Field: verr.Field}
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		body = errorBody{Code: "validation_failed", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body = errorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrSubmissionTimeout):
		status = http.StatusGatewayTimeout
		body = errorBody{Code: "submission_timeout", Message: err.Error()}
	case errors.Is(err, domain.ErrSubmissionFailed):
		body = errorBody{Code: "submission_failed", Message: err.Error()}
	default:
		log.WithError(err).Error("unhandled request error")
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
