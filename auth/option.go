package auth

import (
	"net/http"
	"time"
)

type options struct {
	expiryMargin   time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	httpClient     *http.Client
}

// Option overrides behavior of TokenCache and token sources.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

func newOptions(opts []Option) options {
	o := options{
		expiryMargin:   DefaultExpiryMargin,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt.apply(&o)
	}

	return o
}

// WithExpiryMargin treats a token as expired this long before its expiry time.
func WithExpiryMargin(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d >= 0 {
			o.expiryMargin = d
		}
	})
}

// WithRefreshTimeout bounds a single token request.
func WithRefreshTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	})
}

// WithClock sets the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		if now != nil {
			o.now = now
		}
	})
}

// WithHTTPClient sets the HTTP client used to reach the identity provider.
func WithHTTPClient(c *http.Client) Option {
	return optionFunc(func(o *options) {
		o.httpClient = c
	})
}
