package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/mwhitfield/bastion/pkg/http"
)

// LoginRateLimit throttles the public auth endpoints per client IP. This is
// a volumetric backstop in front of the credential-aware blocking layer, so
// the limit stays well above the block threshold.
func LoginRateLimit(requestLimit int, window time.Duration) func(http.Handler) http.Handler {
	// Keyed by connection address, not forwarded headers, so the limit
	// cannot be evaded by rotating X-Forwarded-For values.
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests, slow down")
		}),
	)
}
