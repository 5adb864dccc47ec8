// Package httpx builds the outbound HTTP clients shared by sources and channels.
package httpx

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

const UserAgent = "sentinel/1.0"

// MaxBodyBytes caps how much of any upstream response is read.
const MaxBodyBytes = 10 << 20

// NewClient returns an HTTP client with the given timeout.
//
// With guard set, the client refuses private, loopback and link-local
// destinations after DNS resolution, and only speaks http/https on 80/443.
func NewClient(timeout time.Duration, guard bool) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if !guard {
		return &http.Client{Timeout: timeout}
	}
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}
