package fs_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	fsstorage "github.com/tendant/simple-variant/pkg/simplevariant/storage/fs"
)

func TestFSBackend(t *testing.T) {
	baseDir := t.TempDir()
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: baseDir, URLPrefix: "http://localhost:8080/files/"})
	require.NoError(t, err)
	ctx := context.Background()

	key := "variants/small/originals/2024/05/car.jpg"
	url, err := backend.Put(ctx, key, []byte("small jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/"+key, url)

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, key)
		require.NoError(t, err)
		defer reader.Close()
		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "small jpeg", string(data))
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := backend.Put(ctx, key, []byte("newer jpeg"), "image/jpeg")
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(key)))
		require.NoError(t, err)
		assert.Equal(t, "newer jpeg", string(data))
	})

	t.Run("Handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/"+key, nil)
		backend.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "newer jpeg", rec.Body.String())
	})

	t.Run("Probe", func(t *testing.T) {
		ok, err := backend.Probe(ctx, url)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = backend.Probe(ctx, "http://localhost:8080/files/variants/none.jpg")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, key))

		ok, err := backend.Probe(ctx, url)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = os.Stat(filepath.Join(baseDir, "variants"))
		assert.True(t, os.IsNotExist(err), "empty directories are removed")

		assert.ErrorIs(t, backend.Delete(ctx, key), simplevariant.ErrObjectNotFound)
	})
}

func TestFSBackendKeysStayInsideBaseDir(t *testing.T) {
	baseDir := t.TempDir()
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: baseDir})
	require.NoError(t, err)

	_, err = backend.Put(context.Background(), "../../escape.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(baseDir, "escape.jpg"))
	assert.NoError(t, err)
}

func TestFSBackendRequiresBaseDir(t *testing.T) {
	_, err := fsstorage.New(fsstorage.Config{})
	assert.Error(t, err)
}
