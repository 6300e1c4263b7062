package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a single request. Uploads of large videos and
	// result payloads carrying several base64 frames both need the headroom.
	DefaultTimeout = 10 * time.Minute
	// MaxResponseBytes caps result bodies (base64 images for up to ten frames).
	MaxResponseBytes = 256 * 1024 * 1024
	// MaxSmallResponseBytes caps status, submission and health bodies.
	MaxSmallResponseBytes = 1 * 1024 * 1024
	// Transport tuning for a single long-lived service host.
	MaxIdleConns          = 16
	MaxIdleConnsPerHost   = 8
	IdleConnTimeout       = 120 * time.Second
	TLSHandshakeTimeout   = 30 * time.Second
	ExpectContinueTimeout = 2 * time.Second
)

var (
	defaultClient     *http.Client
	defaultClientOnce sync.Once
	overrideClient    *http.Client
)

// NewClient returns a new http.Client with the specified timeout.
func NewClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          MaxIdleConns,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       IdleConnTimeout,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// GetDefaultClient returns the shared client used when no explicit client is configured.
func GetDefaultClient() *http.Client {
	if overrideClient != nil {
		return overrideClient
	}
	defaultClientOnce.Do(func() {
		defaultClient = NewClient(DefaultTimeout)
	})
	return defaultClient
}

// SetDefaultClientForTesting overrides the singleton client for tests.
// It returns a restore function to reset the previous client.
func SetDefaultClientForTesting(client *http.Client) func() {
	prevOverride := overrideClient
	overrideClient = client
	return func() {
		overrideClient = prevOverride
	}
}

// DoAndRead performs an HTTP request with the large result cap.
func DoAndRead(client *http.Client, req *http.Request) ([]byte, *http.Response, error) {
	return DoAndReadLimit(client, req, MaxResponseBytes)
}

// DoAndReadLimit performs an HTTP request, reads at most limit bytes of the
// response body, and always closes the body.
func DoAndReadLimit(client *http.Client, req *http.Request, limit int64) ([]byte, *http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > limit {
		return nil, resp, fmt.Errorf("response body too large (limit %d bytes)", limit)
	}

	limited := &io.LimitedReader{R: resp.Body, N: limit + 1}
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, resp, fmt.Errorf("response body too large (limit %d bytes)", limit)
	}

	return body, resp, nil
}
