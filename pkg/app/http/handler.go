// Package http provides HTTP utilities including chi-compatible error handling
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crosslane/bridge-middleware/internal/metrics"
	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
)

// HandlerFunc defines a function that returns an error for clean error handling
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError wraps an error-returning HandlerFunc into a standard http.HandlerFunc
//
// Usage with chi:
//
//	r.Post("/transactions", http.HandleError(handler.create))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Code     int    `json:"code"`
}

// DefaultErrorHandler maps a ServiceError to its status code and writes a
// JSON body carrying the message and category. Anything else becomes a 500.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		metrics.ErrorsTotal.WithLabelValues("http", svcErr.Category.String()).Inc()
		writeError(w, svcErr.StatusCode(), svcErr.Message, svcErr.Category.String())
		return
	}

	metrics.ErrorsTotal.WithLabelValues("http", apperrors.CategoryGeneralError.String()).Inc()
	writeError(w, http.StatusInternalServerError, "unexpected service error", apperrors.CategoryGeneralError.String())
}

func writeError(w http.ResponseWriter, status int, message, category string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&errorResponse{
		Error:    message,
		Category: category,
		Code:     status,
	})
}
