package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"auditfetch/internal/core/domain"
)

// HTTPDownloader implements ports.BlobFetcher using standard HTTP.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates a new HTTPDownloader.
func NewHTTPDownloader() *HTTPDownloader {
	return NewHTTPDownloaderWithClient(&http.Client{
		Timeout: 5 * time.Minute, // Blobs can be large
	})
}

// NewHTTPDownloaderWithClient uses hc for every request.
func NewHTTPDownloaderWithClient(hc *http.Client) *HTTPDownloader {
	return &HTTPDownloader{client: hc}
}

// Fetch downloads the blob behind contentURI with the bearer token.
func (d *HTTPDownloader) Fetch(ctx context.Context, token domain.AccessToken, contentURI string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURI, nil)
	if err != nil {
		return nil, &domain.BlobFetchError{URI: contentURI, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &domain.BlobFetchError{URI: contentURI, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.BlobFetchError{URI: contentURI, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BlobFetchError{URI: contentURI, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return data, nil
}
