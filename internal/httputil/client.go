package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a whole monthly file transfer, which can run to
// hundreds of megabytes.
const DefaultTimeout = 5 * time.Minute

// NewClient returns an HTTP client for source file downloads. A non-positive
// timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
