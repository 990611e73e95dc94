// Package middleware provides HTTP middleware for the airq server.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/airq/internal/errors"
	"github.com/3leaps/airq/internal/observability"
)

// ErrorResponse is the JSON error envelope written by middleware.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into 500 INTERNAL_ERROR responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := chimw.GetReqID(r.Context())
			observability.ServerLogger.Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()))

			apperrors.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: apperrors.HTTPError{
				Code:      apperrors.CodeInternal,
				Message:   fmt.Sprintf("panic: %v", rec),
				RequestID: requestID,
			}})
		}()
		next.ServeHTTP(w, r)
	})
}
