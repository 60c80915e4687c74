package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"auditfetch/internal/core/domain"
)

// ErrNoConfig is returned when no config file is found.
var ErrNoConfig = errors.New("no auditfetch config file found")

// DefaultWindow is used when no start time is configured.
const DefaultWindow = 24 * time.Hour

// Config is the parsed auditfetch configuration. Every field may also come
// from the environment or the command line.
type Config struct {
	AppID     string `yaml:"app_id" toml:"app_id" json:"app_id"`
	TenantID  string `yaml:"tenant_id" toml:"tenant_id" json:"tenant_id"`
	AppSecret string `yaml:"app_secret" toml:"app_secret" json:"app_secret"`

	// Categories are content type names, e.g. Audit.Exchange.
	Categories []string `yaml:"categories" toml:"categories" json:"categories"`

	// Start and End bound the window. Empty End means now; empty Start
	// means DefaultWindow before End.
	Start string `yaml:"start" toml:"start" json:"start"`
	End   string `yaml:"end" toml:"end" json:"end"`

	// Destination is a directory or an s3://bucket/prefix URI.
	Destination string `yaml:"destination" toml:"destination" json:"destination"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency" json:"concurrency"`

	LoginURL  string `yaml:"login_url" toml:"login_url" json:"login_url"`
	ManageURL string `yaml:"manage_url" toml:"manage_url" json:"manage_url"`

	S3 S3 `yaml:"s3" toml:"s3" json:"s3"`
}

// S3 holds settings for s3:// destinations.
type S3 struct {
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" toml:"region" json:"region"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`
}

type parser func([]byte, *Config) error

var parsers = map[string]parser{
	".yaml": parseYAML,
	".yml":  parseYAML,
	".toml": parseTOML,
	".json": parseJSON,
}

// Load finds and parses an auditfetch config file in dir.
func Load(dir string) (*Config, string, error) {
	for _, name := range []string{"auditfetch.yaml", "auditfetch.yml", "auditfetch.toml", "auditfetch.json"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadFile(path)
		return cfg, name, err
	}
	return nil, "", ErrNoConfig
}

// LoadFile parses the config file at path, choosing the format by extension.
func LoadFile(path string) (*Config, error) {
	parse, ok := parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := parse(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// Environment variables read by ApplyEnv.
const (
	EnvAppID       = "AUDITFETCH_APP_ID"
	EnvTenantID    = "AUDITFETCH_TENANT_ID"
	EnvAppSecret   = "AUDITFETCH_APP_SECRET"
	EnvDestination = "AUDITFETCH_DEST"
	EnvS3Endpoint  = "AUDITFETCH_S3_ENDPOINT"
	EnvS3AccessKey = "AUDITFETCH_S3_ACCESS_KEY_ID"
	EnvS3SecretKey = "AUDITFETCH_S3_SECRET_ACCESS_KEY"
)

// ApplyEnv overrides fields with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.AppID, EnvAppID)
	set(&c.TenantID, EnvTenantID)
	set(&c.AppSecret, EnvAppSecret)
	set(&c.Destination, EnvDestination)
	set(&c.S3.Endpoint, EnvS3Endpoint)
	set(&c.S3.AccessKeyID, EnvS3AccessKey)
	set(&c.S3.SecretAccessKey, EnvS3SecretKey)
}

// RunConfig converts the file/env/flag view into a domain.RunConfig.
// now anchors the default window.
func (c *Config) RunConfig(now time.Time) (domain.RunConfig, error) {
	rc := domain.RunConfig{
		AppID:          strings.TrimSpace(c.AppID),
		TenantID:       strings.TrimSpace(c.TenantID),
		AppSecret:      strings.TrimSpace(c.AppSecret),
		DestinationDir: c.Destination,
		Concurrency:    c.Concurrency,
	}

	for _, name := range c.Categories {
		cat, err := domain.ParseCategory(name)
		if err != nil {
			return domain.RunConfig{}, err
		}
		rc.Categories = append(rc.Categories, cat)
	}

	end := now.UTC()
	if c.End != "" {
		t, err := ParseTime(c.End)
		if err != nil {
			return domain.RunConfig{}, &domain.ValidationError{Field: "end", Reason: err.Error()}
		}
		end = t
	}
	start := end.Add(-DefaultWindow)
	if c.Start != "" {
		t, err := ParseTime(c.Start)
		if err != nil {
			return domain.RunConfig{}, &domain.ValidationError{Field: "start", Reason: err.Error()}
		}
		start = t
	}
	rc.WindowStart, rc.WindowEnd = start, end
	return rc, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC3339 and shorter ISO-8601 forms. Values without a
// zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
