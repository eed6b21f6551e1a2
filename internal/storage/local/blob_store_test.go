package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/retail-content-ingestor/internal/storage/local"
)

func TestNewRejectsUnusableBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err, "base dir is required")

	file := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err, "base dir must be a directory")
}

func TestNewRejectsReadOnlyBaseDir(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	dir := t.TempDir()
	// #nosec G302 -- read-only directory for the failure case.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() {
		// #nosec G302 -- restore so TempDir cleanup succeeds.
		_ = os.Chmod(dir, 0o700)
	})

	_, err := local.New(local.Config{BaseDir: dir})
	require.Error(t, err)
}

func TestPutObjectArchivesRawPages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	object := "raw/shop/0a1b2c3d4e5f6a7b/9f86d081.html"
	uri, err := store.PutObject(ctx, object, "text/html", bytes.NewReader([]byte("<p>old loaf</p>")))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(filepath.Clean(dir), object), uri)

	// The same content hash re-archived replaces the object atomically.
	_, err = store.PutObject(ctx, object, "text/html", bytes.NewReader([]byte("<p>new loaf</p>")))
	require.NoError(t, err)

	// #nosec G304 -- reads from the test's temp directory.
	body, err := os.ReadFile(filepath.Join(dir, object))
	require.NoError(t, err)
	assert.Equal(t, "<p>new loaf</p>", string(body))

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(dir, object)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, object := range []string{"", "../outside.html", "raw/../../outside.pdf"} {
		_, err := store.PutObject(context.Background(), object, "application/pdf", bytes.NewReader([]byte("%PDF")))
		assert.Error(t, err, "object %q", object)
	}
}
