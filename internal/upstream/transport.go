package upstream

import (
	"errors"
	"net/http"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Transport fills in the browser-like headers the upstream expects when the request
// does not set them itself.
type Transport struct {
	Base    http.RoundTripper
	Referer string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	r := req.Clone(req.Context())
	setDefault(r.Header, "User-Agent", defaultUserAgent)
	setDefault(r.Header, "Accept", "application/json, text/plain, */*")
	setDefault(r.Header, "Cache-Control", "no-cache")
	if t.Referer != "" {
		setDefault(r.Header, "Referer", t.Referer)
	}
	return base.RoundTrip(r)
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}

// NewHTTPClient builds the outbound client. Per-attempt deadlines come from the request
// context, the client timeout is only a backstop.
func NewHTTPClient(referer string, backstop time.Duration) *http.Client {
	if backstop <= 0 {
		backstop = 30 * time.Second
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Timeout:   backstop,
		Transport: &Transport{Base: base, Referer: referer},
	}
}
