package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mwhitfield/bastion/pkg/logger"
)

// SecureLogger logs one line per request. Query strings carrying sensitive
// parameters are redacted wholesale rather than logged.
func SecureLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				path := r.URL.Path
				if r.URL.RawQuery != "" {
					if logger.SanitizeQueryString(r.URL.RawQuery) {
						path += "?[redacted]"
					} else {
						path += "?" + r.URL.RawQuery
					}
				}

				log.Info("request",
					"method", r.Method,
					"path", path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", chimiddleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
