// Package fetcher downloads provider payloads with retry and rate limiting.
package fetcher

import (
	"context"
	"net/http"
)

// Fetcher defines the interface for downloading remote provider data.
type Fetcher interface {
	// Get fetches the URL with a GET request and returns the response body.
	Get(ctx context.Context, url string) ([]byte, error)

	// Post sends a POST request with the given headers and body and returns
	// the response body. Used by providers behind query APIs.
	Post(ctx context.Context, url string, header http.Header, body []byte) ([]byte, error)
}
