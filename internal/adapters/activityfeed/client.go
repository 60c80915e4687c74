package activityfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auditfetch/internal/core/domain"
)

// DefaultBaseURL is the Office 365 Management API root.
const DefaultBaseURL = "https://manage.office.com"

// nextPageHeader is set by the API when a listing is truncated.
const nextPageHeader = "NextPageUri"

// Client implements ports.ContentLister against the activity feed API.
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates a listing client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, hc *http.Client, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
		log:     log,
	}
}

// contentItem mirrors one element of the listing response.
type contentItem struct {
	ContentURI        string `json:"contentUri"`
	ContentID         string `json:"contentId"`
	ContentType       string `json:"contentType"`
	ContentCreated    string `json:"contentCreated"`
	ContentExpiration string `json:"contentExpiration"`
	TenantID          string `json:"tenantId"`
}

// ListContent issues one GET for the category's content in [start, end].
func (c *Client) ListContent(ctx context.Context, token domain.AccessToken, tenantID string, category domain.Category, start, end time.Time) (*domain.ContentListing, error) {
	q := url.Values{}
	q.Set("contentType", string(category))
	q.Set("startTime", FormatTime(start))
	q.Set("endTime", FormatTime(end))
	apiURL := fmt.Sprintf("%s/api/v1.0/%s/activity/feed/subscriptions/content?%s",
		c.baseURL, url.PathEscape(tenantID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, &domain.CategoryFetchError{Category: category, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.CategoryFetchError{Category: category, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.CategoryFetchError{Category: category, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.CategoryFetchError{Category: category, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var items []contentItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &domain.CategoryFetchError{Category: category, StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode listing: %w", err)}
	}

	listing := &domain.ContentListing{
		Category:    category,
		Pointers:    make([]domain.ContentPointer, 0, len(items)),
		NextPageURI: resp.Header.Get(nextPageHeader),
	}
	for _, item := range items {
		if item.ContentURI == "" {
			c.log.Warn("skipping listing item without contentUri",
				"category", category, "content_id", item.ContentID)
			continue
		}
		listing.Pointers = append(listing.Pointers, domain.ContentPointer{
			ContentURI:        item.ContentURI,
			ContentID:         item.ContentID,
			ContentType:       item.ContentType,
			ContentCreated:    parseTime(item.ContentCreated),
			ContentExpiration: parseTime(item.ContentExpiration),
			TenantID:          item.TenantID,
		})
	}

	if listing.NextPageURI != "" {
		c.log.Warn("listing truncated, next page not followed",
			"category", category, "next_page_uri", listing.NextPageURI)
	}
	return listing, nil
}

// FormatTime renders t the way the API expects window bounds.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// parseTime accepts the API's timestamp forms, with or without zone.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
