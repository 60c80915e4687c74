package ports

import (
	"context"
	"time"

	"auditfetch/internal/core/domain"
)

// TokenProvider exchanges application credentials for a bearer token.
type TokenProvider interface {
	// GetAccessToken performs one client-credentials grant.
	// A refused grant is reported as *domain.AuthError.
	GetAccessToken(ctx context.Context, appID, tenantID, appSecret string) (domain.AccessToken, error)
}

// ContentLister enumerates the content blobs available for a category.
type ContentLister interface {
	// ListContent issues one listing call. A non-success status is reported
	// as *domain.CategoryFetchError; an empty listing is not an error.
	ListContent(ctx context.Context, token domain.AccessToken, tenantID string, category domain.Category, start, end time.Time) (*domain.ContentListing, error)
}

// BlobFetcher downloads the raw bytes behind a content URI.
type BlobFetcher interface {
	// Fetch returns the response body. Transport failures and non-success
	// statuses are reported as *domain.BlobFetchError.
	Fetch(ctx context.Context, token domain.AccessToken, contentURI string) ([]byte, error)
}

// BlobStore persists blobs under their logical id, keeping every distinct
// version and never writing the same bytes twice.
type BlobStore interface {
	// Init prepares the destination (creating it if absent).
	Init(ctx context.Context) error

	// Save stores data for logicalID unless an identical variant exists.
	Save(ctx context.Context, logicalID string, data []byte) (domain.StoreResult, error)

	// Location describes the destination for logs and summaries.
	Location() string
}

// StoreOpener builds the BlobStore for a run's destination.
type StoreOpener func(ctx context.Context, destination string) (BlobStore, error)
