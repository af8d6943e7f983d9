package azure

import (
	"net/http"
	"time"
)

// Config is a structure to store Azure backend configuration.
type Config struct {
	// AccountURL is the blob service endpoint, e.g. https://myaccount.blob.core.windows.net/.
	AccountURL string

	// MaxRetryRequests is passed to the SDK retry policy. Zero selects
	// DefaultBlobMaxRetryRequests, a negative value disables retries.
	MaxRetryRequests int

	// Timeout bounds every single try of a request. Zero keeps the SDK default.
	Timeout time.Duration

	// HTTPClient replaces the SDK transport.
	HTTPClient *http.Client
}
