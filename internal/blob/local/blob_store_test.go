package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadCopiesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(src, []byte("<html>hello</html>"), 0o644))

	root := t.TempDir()
	store, err := New(root, "captures")
	require.NoError(t, err)

	res, err := store.Upload(context.Background(), src, "item-1/monolith/page.html")
	require.NoError(t, err)
	require.Equal(t, int64(18), res.SizeBytes)
	require.True(t, strings.HasPrefix(res.URI, "file://"))
	require.Contains(t, res.URI, "captures/item-1/monolith/page.html")

	copied, err := os.ReadFile(filepath.Join(root, "captures", "item-1", "monolith", "page.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", string(copied))
}

func TestUploadMissingSourceFails(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "/does/not/exist", "item-1/pdf/page.pdf")
	require.Error(t, err)
}

func TestUploadEmptyObjectPathFails(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "ignored", " ")
	require.Error(t, err)
}
