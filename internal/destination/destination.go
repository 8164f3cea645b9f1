// Package destination replicates encrypted artifacts to remote object
// stores. Each configured destination is attempted independently, so a
// failure on one never blocks the others.
package destination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// RemotePrefix roots every session under the bucket.
const RemotePrefix = "backups"

// RemoteKey builds the object key for an artifact, mirroring the local
// session layout: backups/<session_id>/<relative path>.
func RemoteKey(sessionID, relPath string) string {
	return RemotePrefix + "/" + sessionID + "/" + relPath
}

// Destination adapts one remote object store.
type Destination interface {
	Name() string
	Upload(ctx context.Context, localPath, remoteKey string) error
	Download(ctx context.Context, remoteKey, localPath string) error
	// List returns object keys under prefix mapped to their sizes.
	List(ctx context.Context, prefix string) (map[string]int64, error)
}

// UploadError records a per-destination failure after retries were
// exhausted.
type UploadError struct {
	Destination string
	Key         string
	Attempts    int
	Err         error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s (%s, %d attempts): %v", e.Destination, e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UploadResult is the outcome of replicating one artifact to one
// destination.
type UploadResult struct {
	Destination string
	Status      string
	Attempts    int
	Err         error
}

// Uploader fans an artifact out to every destination concurrently, retrying
// transient failures with exponential backoff up to a bounded attempt
// count.
type Uploader struct {
	destinations    []Destination
	maxAttempts     int
	initialInterval time.Duration
	log             logger.Logger
}

// NewUploader bounds each destination to maxAttempts tries, starting the
// backoff at initialInterval.
func NewUploader(destinations []Destination, maxAttempts int, initialInterval time.Duration, log logger.Logger) *Uploader {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialInterval <= 0 {
		initialInterval = backoff.DefaultInitialInterval
	}
	return &Uploader{
		destinations:    destinations,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		log:             log,
	}
}

// Names lists the configured destination identifiers.
func (u *Uploader) Names() []string {
	names := make([]string, 0, len(u.destinations))
	for _, d := range u.destinations {
		names = append(names, d.Name())
	}
	return names
}

// Destinations returns the underlying adapters.
func (u *Uploader) Destinations() []Destination { return u.destinations }

// ByName finds a destination adapter.
func (u *Uploader) ByName(name string) (Destination, error) {
	for _, d := range u.destinations {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("destination %q not configured", name)
}

// Upload replicates one local file to every destination. Results come back
// keyed by destination name; a failed destination is marked failed, never
// aborting the others.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteKey string) map[string]session.UploadState {
	results := make(map[string]session.UploadState, len(u.destinations))
	if len(u.destinations) == 0 {
		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, dest := range u.destinations {
		wg.Add(1)
		go func(dest Destination) {
			defer wg.Done()
			state := u.uploadOne(ctx, dest, localPath, remoteKey)
			mu.Lock()
			results[dest.Name()] = state
			mu.Unlock()
		}(dest)
	}
	wg.Wait()
	return results
}

func (u *Uploader) uploadOne(ctx context.Context, dest Destination, localPath, remoteKey string) session.UploadState {
	attempts := 0
	operation := func() error {
		attempts++
		return dest.Upload(ctx, localPath, remoteKey)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = u.initialInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(u.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		u.log.Warn("upload failed",
			"destination", dest.Name(),
			"key", remoteKey,
			"attempts", attempts,
			"error", err.Error(),
		)
		return session.UploadState{
			Status:   session.UploadFailed,
			Attempts: attempts,
			Error:    err.Error(),
		}
	}
	u.log.Info("upload completed", "destination", dest.Name(), "key", remoteKey, "attempts", attempts)
	return session.UploadState{Status: session.UploadUploaded, Attempts: attempts}
}
