package api

// Logger mirrors the teacher walletserver's request-logging middleware,
// generalized to logrus's structured fields instead of a formatted string.

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-Id"

// RequestID stamps every management-API response with a correlation id,
// the same uuid.New().String() pattern the teacher uses to mint entity ids
// (see core/rental_management.go), generalized here to request tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func Logger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.RequestURI,
				"duration": time.Since(start),
			}).Info("management api request")
		})
	}
}
