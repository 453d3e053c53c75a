package s3

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("InvalidEndpoint", func(t *testing.T) {
		_, err := New(Config{
			Bucket:          "variants",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "not a url",
		})
		assert.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "variants",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, defaultCacheControl, backend.config.CacheControl)
	})
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{"aws", Config{Bucket: "variants", Region: "eu-west-1"}, "https://variants.s3.eu-west-1.amazonaws.com"},
		{"path style", Config{Bucket: "variants", Endpoint: "http://localhost:9000", UsePathStyle: true}, "http://localhost:9000/variants"},
		{"virtual host", Config{Bucket: "variants", Endpoint: "https://minio.internal"}, "https://variants.minio.internal"},
		{"cdn", Config{Bucket: "variants", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := publicBaseURL(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyFromURL(t *testing.T) {
	backend := &Backend{baseURL: "https://cdn.example.com"}

	url := backend.URL("/variants/thumb/originals/car 1.jpg")
	assert.Equal(t, "https://cdn.example.com/variants/thumb/originals/car 1.jpg", url)

	key, ok := backend.KeyFromURL(url)
	assert.True(t, ok)
	assert.Equal(t, "variants/thumb/originals/car 1.jpg", key)

	key, ok = backend.KeyFromURL("https://cdn.example.com/variants/webp/car%201.webp?v=2")
	assert.True(t, ok)
	assert.Equal(t, "variants/webp/car 1.webp", key)

	_, ok = backend.KeyFromURL("https://other.example.com/variants/thumb/car.jpg")
	assert.False(t, ok)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(io.EOF))
}

// TestS3Backend_Integration runs against a real S3-compatible endpoint such as MinIO.
func TestS3Backend_Integration(t *testing.T) {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}

	backend, err := New(Config{
		Bucket:                 "simple-variant-test",
		Endpoint:               endpoint,
		UsePathStyle:           true,
		AccessKeyID:            envOr("TEST_S3_ACCESS_KEY", "minioadmin"),
		SecretAccessKey:        envOr("TEST_S3_SECRET_KEY", "minioadmin"),
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	key := "variants/thumb/integration.jpg"
	url, err := backend.Put(ctx, key, []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)

	ok, err := backend.Probe(ctx, url)
	require.NoError(t, err)
	assert.True(t, ok)

	reader, err := backend.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	require.NoError(t, backend.Delete(ctx, key))
	ok, err = backend.Probe(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
