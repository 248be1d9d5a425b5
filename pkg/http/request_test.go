package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/mwhitfield/bastion/pkg/http"
)

func TestExtractClientIP_UntrustedProxyIgnoresHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "198.51.100.7:44321"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	ip := pkghttp.ExtractClientIP(r, &pkghttp.IPConfig{})

	assert.Equal(t, "198.51.100.7", ip)
}

func TestExtractClientIP_TrustedProxyUsesForwardedFor(t *testing.T) {
	cfg := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 10.1.2.3")

	assert.Equal(t, "203.0.113.50", pkghttp.ExtractClientIP(r, cfg))
}

func TestExtractClientIP_TrustedProxySkipsInvalidForwardedEntries(t *testing.T) {
	cfg := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Forwarded-For", "not-an-ip, 203.0.113.50")

	assert.Equal(t, "203.0.113.50", pkghttp.ExtractClientIP(r, cfg))
}

func TestExtractClientIP_TrustedProxyFallsBackToRealIP(t *testing.T) {
	cfg := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Real-IP", "203.0.113.51")

	assert.Equal(t, "203.0.113.51", pkghttp.ExtractClientIP(r, cfg))
}

func TestExtractClientIP_NoPortInRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "198.51.100.7"

	assert.Equal(t, "198.51.100.7", pkghttp.ExtractClientIP(r, nil))
}
