// Package transport builds the HTTP client shared by the metadata client and
// the downloader.
package transport

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"git.home.luguber.info/inful/chainloader/internal/version"
)

// Options holds client settings.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	// Base replaces the network transport, mostly for tests.
	Base http.RoundTripper
}

// Option is a functional option for NewClient.
type Option func(*Options)

// WithTimeouts sets the dial and response header timeouts.
func WithTimeouts(connect, read time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = connect
		o.ReadTimeout = read
	}
}

func WithUserAgent(ua string) Option {
	return func(o *Options) { o.UserAgent = ua }
}

func WithBase(rt http.RoundTripper) Option {
	return func(o *Options) { o.Base = rt }
}

// userAgentTransport injects the User-Agent header into every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewClient returns a traced client with connect and read timeouts. There is
// no overall client timeout since artifact downloads may legitimately be slow;
// the read timeout bounds waiting for headers and callers pass a context.
func NewClient(opts ...Option) *http.Client {
	o := &Options{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		UserAgent:      version.UserAgent(),
	}
	for _, opt := range opts {
		opt(o)
	}

	base := o.Base
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   o.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   o.ConnectTimeout,
			ResponseHeaderTimeout: o.ReadTimeout,
			IdleConnTimeout:       90 * time.Second,
		}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(&userAgentTransport{base: base, userAgent: o.UserAgent}),
	}
}
