package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// StorageConfig is the parsed form of STORAGE_URL
type StorageConfig struct {
	Type string // "memory", "fs", "s3"

	// fs
	BaseDir string

	// s3
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	CreateBucket    bool

	PublicURL string
}

// Storage parses StorageURL.
//
//	memory:// (default)
//	file:///path/to/data
//	s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true&create_bucket=true
//
// S3 credentials come from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY, region
// from AWS_REGION when the URL has none.
func (c *ServerConfig) Storage() (StorageConfig, error) {
	raw := c.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageConfig{Type: "memory", PublicURL: c.StoragePublicURL}, nil
	}

	switch {
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return StorageConfig{}, fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageConfig{Type: "fs", BaseDir: path, PublicURL: c.StoragePublicURL}, nil

	case strings.HasPrefix(raw, "s3://"):
		return parseS3URL(raw, c.StoragePublicURL)
	}

	return StorageConfig{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

func parseS3URL(raw, publicURL string) (StorageConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return StorageConfig{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	query := u.Query()
	cfg := StorageConfig{
		Type:      "s3",
		Bucket:    u.Host,
		Region:    query.Get("region"),
		Endpoint:  query.Get("endpoint"),
		PublicURL: publicURL,
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	for key, target := range map[string]*bool{"path_style": &cfg.UsePathStyle, "create_bucket": &cfg.CreateBucket} {
		if v := query.Get(key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return StorageConfig{}, fmt.Errorf("invalid %s in STORAGE_URL: %w", key, err)
			}
			*target = parsed
		}
	}
	cfg.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	return cfg, nil
}

// CacheType returns "memory", "redis" or "none" based on CacheURL.
func (c *ServerConfig) CacheType() (string, error) {
	switch {
	case c.CacheURL == "" || c.CacheURL == "memory":
		return "memory", nil
	case c.CacheURL == "none":
		return "none", nil
	case strings.HasPrefix(c.CacheURL, "redis://"), strings.HasPrefix(c.CacheURL, "rediss://"):
		return "redis", nil
	}
	return "", fmt.Errorf("unsupported CACHE_URL format: %s (use 'memory', 'none' or 'redis://...')", c.CacheURL)
}
