package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// memDestination stores objects in memory, failing the first failUploads
// upload attempts per key (permanent when negative).
type memDestination struct {
	name        string
	failUploads int

	mu       sync.Mutex
	attempts map[string]int
	objects  map[string][]byte
}

var _ Destination = (*memDestination)(nil)

func newMemDestination(name string, failUploads int) *memDestination {
	return &memDestination{
		name:        name,
		failUploads: failUploads,
		attempts:    make(map[string]int),
		objects:     make(map[string][]byte),
	}
}

func (d *memDestination) Name() string { return d.name }

func (d *memDestination) Upload(ctx context.Context, localPath, remoteKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[remoteKey]++
	if d.failUploads < 0 || d.attempts[remoteKey] <= d.failUploads {
		return fmt.Errorf("transient outage on %s", d.name)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	d.objects[remoteKey] = data
	return nil
}

func (d *memDestination) Download(ctx context.Context, remoteKey, localPath string) error {
	d.mu.Lock()
	data, ok := d.objects[remoteKey]
	d.mu.Unlock()
	if !ok {
		return errors.New("object not found")
	}
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, strings.NewReader(string(data))); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *memDestination) List(ctx context.Context, prefix string) (map[string]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64)
	for key, data := range d.objects {
		if strings.HasPrefix(key, prefix) {
			out[key] = int64(len(data))
		}
	}
	return out, nil
}

func writeLocal(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.age")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploader_RetriesTransientFailure(t *testing.T) {
	dest := newMemDestination("s3", 2)
	u := NewUploader([]Destination{dest}, 4, time.Millisecond, logger.Nop())

	key := RemoteKey("s_20240301_100000_abc123", "databases/alpha.dump.age")
	results := u.Upload(context.Background(), writeLocal(t, "ciphertext"), key)

	require.Equal(t, session.UploadUploaded, results["s3"].Status)
	require.Equal(t, 3, results["s3"].Attempts)
	require.Contains(t, dest.objects, key)
}

func TestUploader_DestinationIndependence(t *testing.T) {
	broken := newMemDestination("s3", -1)
	healthy := newMemDestination("gcs", 0)
	u := NewUploader([]Destination{broken, healthy}, 3, time.Millisecond, logger.Nop())

	key := RemoteKey("s_20240301_100000_abc123", "filestore/filestore.tar.zst.age")
	results := u.Upload(context.Background(), writeLocal(t, "ciphertext"), key)

	require.Equal(t, session.UploadFailed, results["s3"].Status)
	require.Equal(t, 3, results["s3"].Attempts)
	require.NotEmpty(t, results["s3"].Error)

	require.Equal(t, session.UploadUploaded, results["gcs"].Status)
	require.Contains(t, healthy.objects, key)
}

func TestRemoteKey_MirrorsSessionLayout(t *testing.T) {
	key := RemoteKey("s_20240101_000001_aaaaaa", "configs/proxy.tar.zst.age")
	require.Equal(t, "backups/s_20240101_000001_aaaaaa/configs/proxy.tar.zst.age", key)
}
