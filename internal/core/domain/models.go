package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category is a Management Activity API content type.
type Category string

const (
	CategoryAzureActiveDirectory Category = "Audit.AzureActiveDirectory"
	CategoryExchange             Category = "Audit.Exchange"
	CategorySharePoint           Category = "Audit.SharePoint"
	CategoryGeneral              Category = "Audit.General"
	CategoryDLP                  Category = "DLP.All"
)

// Categories lists every supported content type in display order.
var Categories = []Category{
	CategoryAzureActiveDirectory,
	CategoryExchange,
	CategorySharePoint,
	CategoryGeneral,
	CategoryDLP,
}

// ParseCategory resolves a name case-insensitively to its canonical Category.
func ParseCategory(name string) (Category, error) {
	name = strings.TrimSpace(name)
	for _, c := range Categories {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "categories", Reason: fmt.Sprintf("unknown category %q", name)}
}

// Application roles the Management Activity API checks.
const (
	RoleActivityFeedRead    = "ActivityFeed.Read"
	RoleActivityFeedReadDlp = "ActivityFeed.ReadDlp"
)

// RequiredRole returns the application role needed to list c.
func (c Category) RequiredRole() string {
	if c == CategoryDLP {
		return RoleActivityFeedReadDlp
	}
	return RoleActivityFeedRead
}

// RunConfig is everything one run needs. It is not modified once a run starts.
type RunConfig struct {
	AppID          string
	TenantID       string
	AppSecret      string `json:"-"`
	Categories     []Category
	WindowStart    time.Time
	WindowEnd      time.Time
	DestinationDir string

	// Concurrency bounds parallel blob downloads within one category.
	// Zero or one means sequential.
	Concurrency int
}

// Validate checks the required fields and normalizes the window to UTC.
// Duplicate categories are dropped, keeping first occurrence order.
func (c *RunConfig) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return &ValidationError{Field: "app_id", Reason: "is required"}
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return &ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return &ValidationError{Field: "app_secret", Reason: "is required"}
	}
	if len(c.Categories) == 0 {
		return &ValidationError{Field: "categories", Reason: "at least one category must be selected"}
	}
	if strings.TrimSpace(c.DestinationDir) == "" {
		return &ValidationError{Field: "destination", Reason: "is required"}
	}
	if c.WindowStart.IsZero() || c.WindowEnd.IsZero() {
		return &ValidationError{Field: "window", Reason: "start and end are required"}
	}
	if c.WindowEnd.Before(c.WindowStart) {
		return &ValidationError{Field: "window", Reason: "end is before start"}
	}
	if c.Concurrency < 0 {
		return &ValidationError{Field: "concurrency", Reason: "must not be negative"}
	}

	seen := make(map[Category]bool, len(c.Categories))
	unique := make([]Category, 0, len(c.Categories))
	for _, raw := range c.Categories {
		cat, err := ParseCategory(string(raw))
		if err != nil {
			return err
		}
		if seen[cat] {
			continue
		}
		seen[cat] = true
		unique = append(unique, cat)
	}
	c.Categories = unique
	c.WindowStart = c.WindowStart.UTC()
	c.WindowEnd = c.WindowEnd.UTC()
	return nil
}

// AccessToken is a bearer credential fetched once per run.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
	Roles     []string
}

// String keeps the token value out of logs and error messages.
func (t AccessToken) String() string {
	return "AccessToken(redacted)"
}

// MissingRole returns the role c needs that the token does not carry. It
// returns "" when the token grants it or when the roles could not be read
// (opaque tokens).
func (t AccessToken) MissingRole(c Category) string {
	if t.Roles == nil {
		return ""
	}
	want := c.RequiredRole()
	for _, r := range t.Roles {
		if r == want {
			return ""
		}
	}
	return want
}

// Expired reports whether the token is known to have expired at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ContentPointer references one downloadable blob of audit events.
type ContentPointer struct {
	ContentURI        string
	ContentID         string
	ContentType       string
	ContentCreated    time.Time
	ContentExpiration time.Time
	TenantID          string
}

// LogicalID is the trailing path segment of the content URI.
func (p ContentPointer) LogicalID() string {
	return LogicalID(p.ContentURI)
}

// LogicalID returns the final "/"-delimited segment of uri.
func LogicalID(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

const variantExtension = ".json"

// ValidateLogicalID rejects ids that cannot be used as a single file or
// object name.
func ValidateLogicalID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid logical id %q", id)
	}
	return nil
}

// VariantName returns the file name of the n-th stored variant of id:
// <id>.json for n == 0, <id>.<n>.json after that.
func VariantName(id string, n int) string {
	if n > 0 {
		return id + "." + strconv.Itoa(n) + variantExtension
	}
	return id + variantExtension
}

// ParseVariantName is the inverse of VariantName. ok is false when name is
// not a variant of id.
func ParseVariantName(id, name string) (n int, ok bool) {
	if name == id+variantExtension {
		return 0, true
	}
	rest, found := strings.CutPrefix(name, id+".")
	if !found {
		return 0, false
	}
	digits, found := strings.CutSuffix(rest, variantExtension)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || strconv.Itoa(n) != digits {
		return 0, false
	}
	return n, true
}

// ContentListing is the result of one listing call for one category.
type ContentListing struct {
	Category Category
	Pointers []ContentPointer
	// NextPageURI is set when the API reported more content than returned.
	// It is recorded but not followed.
	NextPageURI string
}

// StoreResult describes what a BlobStore did with one body.
type StoreResult struct {
	Path      string
	Duplicate bool
}
