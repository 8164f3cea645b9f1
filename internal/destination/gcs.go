package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
)

const gcsChunkSize = 16 * 1024 * 1024

// GCSDestination replicates artifacts to a Google Cloud Storage bucket.
type GCSDestination struct {
	client *storage.Client
	bucket string
	log    logger.Logger
}

var _ Destination = (*GCSDestination)(nil)

// NewGCSDestination builds the adapter, using the service-account key file
// when configured and application-default credentials otherwise.
func NewGCSDestination(ctx context.Context, cfg *config.GCSConfig, log logger.Logger) (*GCSDestination, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSDestination{client: client, bucket: cfg.Bucket, log: log}, nil
}

func (d *GCSDestination) Name() string { return "gcs" }

func (d *GCSDestination) Upload(ctx context.Context, localPath, remoteKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := d.client.Bucket(d.bucket).Object(remoteKey).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.ChunkSize = gcsChunkSize

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", d.bucket, remoteKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", d.bucket, remoteKey, err)
	}
	return nil
}

func (d *GCSDestination) Download(ctx context.Context, remoteKey, localPath string) error {
	r, err := d.client.Bucket(d.bucket).Object(remoteKey).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("read gs://%s/%s: %w", d.bucket, remoteKey, err)
	}
	defer r.Close()

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("download gs://%s/%s: %w", d.bucket, remoteKey, err)
	}
	return f.Close()
}

func (d *GCSDestination) List(ctx context.Context, prefix string) (map[string]int64, error) {
	objects := make(map[string]int64)
	it := d.client.Bucket(d.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", d.bucket, prefix, err)
		}
		objects[attrs.Name] = attrs.Size
	}
	return objects, nil
}
