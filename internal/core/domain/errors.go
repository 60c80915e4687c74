package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContentFound reports a successful listing with no pointers.
	ErrNoContentFound = errors.New("no content found")

	// ErrEmptyBlob reports a blob endpoint that answered with no bytes.
	ErrEmptyBlob = errors.New("no data returned")
)

// ValidationError is a configuration problem detected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// AuthError is returned when the token endpoint refuses the credentials.
// Body is the endpoint response, verbatim.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to authenticate: %v", e.Err)
	}
	return fmt.Sprintf("failed to authenticate: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CategoryFetchError is a failed listing call for one category.
type CategoryFetchError struct {
	Category   Category
	StatusCode int
	Body       string
	Err        error
}

func (e *CategoryFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API call failed for %s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("API call failed for %s: status %d: %s", e.Category, e.StatusCode, e.Body)
}

func (e *CategoryFetchError) Unwrap() error { return e.Err }

// BlobFetchError is a failed download of one content blob.
type BlobFetchError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *BlobFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URI, e.StatusCode)
}

func (e *BlobFetchError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	var authErr *AuthError
	var validationErr *ValidationError
	return errors.As(err, &authErr) || errors.As(err, &validationErr)
}
