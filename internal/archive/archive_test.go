package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestCreateExtract_RoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"a.txt":          "alpha",
		"nested/b.txt":   "beta",
		"nested/deep/c":  "gamma",
	}
	writeTree(t, src, files)

	archivePath := filepath.Join(t.TempDir(), "tree"+Suffix)
	total, err := Create(context.Background(), src, archivePath)
	require.NoError(t, err)
	require.Equal(t, int64(len("alpha")+len("beta")+len("gamma")), total)

	require.NoError(t, Verify(archivePath))

	dest := t.TempDir()
	require.NoError(t, Extract(context.Background(), archivePath, dest))
	for rel, content := range files {
		got, err := os.ReadFile(filepath.Join(dest, rel))
		require.NoError(t, err)
		require.Equal(t, content, string(got))
	}
}

func TestVerify_DetectsTruncation(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"payload.bin": string(make([]byte, 64*1024))})

	archivePath := filepath.Join(t.TempDir(), "tree"+Suffix)
	_, err := Create(context.Background(), src, archivePath)
	require.NoError(t, err)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(archivePath, data[:len(data)/2], 0o644))

	require.Error(t, Verify(archivePath))
}

func TestCreate_Cancelled(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Create(ctx, src, filepath.Join(t.TempDir(), "x"+Suffix))
	require.ErrorIs(t, err, context.Canceled)
}
