package llm

import (
	"net/http"
)

// headerTransport adds fixed headers to every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}

// withHeaders returns a copy of c whose transport sets headers.
func withHeaders(c *http.Client, headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return c
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *c
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	return &wrapped
}
