// Package httpx holds the outbound HTTP client shared by the Salesforce,
// Anthropic and OpenAI integrations.
package httpx

import (
	"net/http"
	"time"
)

const (
	UserAgent = "pmd-failurebot/1.0"

	defaultTimeout = 90 * time.Second
	minTimeout     = 5 * time.Second
	maxTimeout     = 10 * time.Minute
)

var shared = &http.Client{
	Timeout:   defaultTimeout,
	Transport: userAgentTransport{base: http.DefaultTransport},
}

// userAgentTransport tags requests that do not already carry a User-Agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

func ExternalHTTPClient() *http.Client {
	return shared
}

// ConfigureExternalHTTPClient sets the shared timeout and returns the value
// applied. Zero or negative keeps the default; anything else is clamped to
// [5s, 10m].
func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	shared.Timeout = timeoutFor(timeoutSeconds)
	return shared.Timeout
}

func timeoutFor(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	return min(max(d, minTimeout), maxTimeout)
}
