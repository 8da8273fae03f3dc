package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/franciscozunigap/sofinance/internal/errs"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondClassified maps an error kind to an HTTP status and returns the
// localized user message.
func respondClassified(w http.ResponseWriter, c errs.Classified) {
	respondJSON(w, statusFor(c), errorResponse{
		Error:     c.UserMessage,
		Retryable: c.Retryable,
	})
}

func statusFor(c errs.Classified) int {
	switch c.Kind {
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindStore:
		switch c.Reason {
		case errs.ReasonPermissionDenied:
			return http.StatusForbidden
		case errs.ReasonNotFound:
			return http.StatusNotFound
		case errs.ReasonQuotaExceeded:
			return http.StatusTooManyRequests
		default:
			return http.StatusServiceUnavailable
		}
	case errs.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
