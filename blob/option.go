package blob

import (
	"net/http"
	"time"

	"github.com/nkazure/azblobber/auth"
)

type options struct {
	httpClient *http.Client
	tokenOpts  []auth.Option
	timeout    time.Duration
	sdkLogging bool
}

// Option overrides behavior of a ContainerClient.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}

	return o
}

// WithHTTPClient sets the HTTP client used for both the identity provider and the blob service.
func WithHTTPClient(c *http.Client) Option {
	return optionFunc(func(o *options) {
		o.httpClient = c
	})
}

// WithTokenOptions passes options to the token cache and the token source.
func WithTokenOptions(opts ...auth.Option) Option {
	return optionFunc(func(o *options) {
		o.tokenOpts = append(o.tokenOpts, opts...)
	})
}

// WithOperationTimeout bounds every remote call. Zero keeps storage.DefaultOperationTimeout.
func WithOperationTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.timeout = d
	})
}

// WithSDKLogging forwards the storage SDK's own request logs to the client logger.
func WithSDKLogging() Option {
	return optionFunc(func(o *options) {
		o.sdkLogging = true
	})
}

type callOptions struct {
	container   string
	overwrite   bool
	encoding    string
	prefix      string
	contentType string
}

// CallOption adjusts a single operation.
type CallOption interface {
	applyCall(*callOptions)
}

type callOptionFunc func(*callOptions)

func (f callOptionFunc) applyCall(o *callOptions) {
	f(o)
}

func newCallOptions(opts []CallOption) callOptions {
	o := callOptions{overwrite: true, encoding: DefaultEncoding}
	for _, opt := range opts {
		opt.applyCall(&o)
	}

	return o
}

// InContainer runs the operation against name. A non-empty name also becomes the
// client's default container for later calls.
func InContainer(name string) CallOption {
	return callOptionFunc(func(o *callOptions) {
		o.container = name
	})
}

// WithOverwrite controls whether a write replaces an existing blob. Writes overwrite by default.
func WithOverwrite(overwrite bool) CallOption {
	return callOptionFunc(func(o *callOptions) {
		o.overwrite = overwrite
	})
}

// WithEncoding names the text encoding used by ReadText, e.g. "utf-8", "utf-16le" or "latin1".
func WithEncoding(name string) CallOption {
	return callOptionFunc(func(o *callOptions) {
		if name != "" {
			o.encoding = name
		}
	})
}

// WithPrefix restricts listings to blob names starting with prefix.
func WithPrefix(prefix string) CallOption {
	return callOptionFunc(func(o *callOptions) {
		o.prefix = prefix
	})
}

// WithContentType sets the content type stored with a written blob.
func WithContentType(contentType string) CallOption {
	return callOptionFunc(func(o *callOptions) {
		o.contentType = contentType
	})
}
