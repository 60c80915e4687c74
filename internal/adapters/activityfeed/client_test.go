package activityfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auditfetch/internal/core/domain"
)

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func TestListContentBuildsRequest(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		fmt.Fprint(w, `[
			{"contentUri":"https://example.test/audit/abc123","contentId":"abc123","contentType":"Audit.Exchange","contentCreated":"2024-01-01T03:04:05.123Z","contentExpiration":"2024-01-08T03:04:05.123Z","tenantId":"tenant-1"},
			{"contentId":"no-uri"}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	listing, err := c.ListContent(context.Background(), domain.AccessToken{Value: "T"}, "tenant-1", domain.CategoryExchange, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("ListContent failed: %v", err)
	}

	if gotReq.URL.Path != "/api/v1.0/tenant-1/activity/feed/subscriptions/content" {
		t.Errorf("path = %q", gotReq.URL.Path)
	}
	q := gotReq.URL.Query()
	if q.Get("contentType") != "Audit.Exchange" {
		t.Errorf("contentType = %q", q.Get("contentType"))
	}
	if q.Get("startTime") != "2024-01-01T00:00:00Z" || q.Get("endTime") != "2024-01-02T00:00:00Z" {
		t.Errorf("window = %q..%q", q.Get("startTime"), q.Get("endTime"))
	}
	if auth := gotReq.Header.Get("Authorization"); auth != "Bearer T" {
		t.Errorf("Authorization = %q", auth)
	}

	if len(listing.Pointers) != 1 {
		t.Fatalf("expected 1 pointer (item without uri skipped), got %d", len(listing.Pointers))
	}
	p := listing.Pointers[0]
	if p.LogicalID() != "abc123" {
		t.Errorf("LogicalID = %q", p.LogicalID())
	}
	want := time.Date(2024, 1, 1, 3, 4, 5, 123000000, time.UTC)
	if !p.ContentCreated.Equal(want) {
		t.Errorf("ContentCreated = %v, want %v", p.ContentCreated, want)
	}
}

func TestListContentEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	listing, err := NewClient(srv.URL, nil, nil).ListContent(context.Background(), domain.AccessToken{Value: "T"}, "t", domain.CategoryGeneral, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("empty listing must not be an error: %v", err)
	}
	if len(listing.Pointers) != 0 {
		t.Errorf("expected no pointers, got %d", len(listing.Pointers))
	}
}

func TestListContentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"AF20022","message":"No subscription found"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, nil).ListContent(context.Background(), domain.AccessToken{Value: "T"}, "t", domain.CategoryDLP, windowStart, windowEnd)

	var catErr *domain.CategoryFetchError
	if !errors.As(err, &catErr) {
		t.Fatalf("expected *CategoryFetchError, got %T: %v", err, err)
	}
	if catErr.Category != domain.CategoryDLP || catErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected error fields: %+v", catErr)
	}
	if catErr.Body == "" {
		t.Error("expected response body on error")
	}
	if domain.IsFatal(err) {
		t.Error("category errors must not be fatal")
	}
}

func TestListContentRecordsNextPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("NextPageUri", "https://example.test/next")
		fmt.Fprint(w, `[{"contentUri":"https://example.test/audit/a"}]`)
	}))
	defer srv.Close()

	listing, err := NewClient(srv.URL, nil, nil).ListContent(context.Background(), domain.AccessToken{Value: "T"}, "t", domain.CategoryGeneral, windowStart, windowEnd)
	if err != nil {
		t.Fatal(err)
	}
	if listing.NextPageURI != "https://example.test/next" {
		t.Errorf("NextPageURI = %q", listing.NextPageURI)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T00:00:00Z", windowStart},
		{"2024-01-01T00:00:00.000", windowStart},
		{"", time.Time{}},
		{"garbage", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseTime(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
