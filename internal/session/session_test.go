package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewID_SortsByCreationTime(t *testing.T) {
	early := NewID(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	late := NewID(time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC))
	require.True(t, Less(early, late))
	require.True(t, IsID(early))

	ts, err := CreatedAtFromID(early)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), ts)
}

func TestLatest_PicksMostRecent(t *testing.T) {
	ids := []string{
		"s_20240101_000001_aaaaaa",
		"s_20240102_000001_bbbbbb",
		"s_20240101_235959_cccccc",
	}
	latest, err := Latest(ids)
	require.NoError(t, err)
	require.Equal(t, "s_20240102_000001_bbbbbb", latest)

	_, err = Latest(nil)
	require.ErrorIs(t, err, ErrNoSessions)
}

func TestManager_CreateListResolve(t *testing.T) {
	m := NewManager(t.TempDir())

	s1, err := m.Create(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), []string{"s3"})
	require.NoError(t, err)
	s2, err := m.Create(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)

	for _, sub := range []string{DirDatabases, DirFilestore, DirConfigs} {
		require.DirExists(t, filepath.Join(s1.Dir, sub))
	}

	ids, err := m.List()
	require.NoError(t, err)
	require.Len(t, ids, 2)

	latest, err := m.Resolve("latest")
	require.NoError(t, err)
	require.Equal(t, s2.ID, latest)

	named, err := m.Resolve(s1.ID)
	require.NoError(t, err)
	require.Equal(t, s1.ID, named)

	_, err = m.Resolve("s_19990101_000000_zzzzzz")
	require.Error(t, err)
}

func TestManager_SweepKeepsNewest(t *testing.T) {
	m := NewManager(t.TempDir())
	var ids []string
	for day := 1; day <= 5; day++ {
		s, err := m.Create(time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC), nil)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	removed, err := m.Sweep(2)
	require.NoError(t, err)
	require.ElementsMatch(t, ids[:3], removed)

	left, err := m.List()
	require.NoError(t, err)
	require.ElementsMatch(t, ids[3:], left)

	// keepLast <= 0 disables the sweep
	removed, err = m.Sweep(0)
	require.NoError(t, err)
	require.Empty(t, removed)
}

func TestManifest_WriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "alpha.dump.age")
	require.NoError(t, os.WriteFile(artifact, []byte("ciphertext"), 0o600))

	sum, err := Checksum(artifact)
	require.NoError(t, err)

	m := &Manifest{
		SessionID:    "s_20240301_100000_abc123",
		CreatedAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CompletedAt:  time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		Status:       StatusSuccess,
		Destinations: []string{"s3", "gcs"},
		Artifacts: []ArtifactRecord{{
			Name:           "alpha",
			Kind:           KindDatabase,
			Engine:         "postgres",
			PlainSizeBytes: 10,
			EncryptedPath:  "databases/alpha.dump.age",
			Checksum:       sum,
			Uploads: map[string]UploadState{
				"s3":  {Status: UploadUploaded, Attempts: 1},
				"gcs": {Status: UploadFailed, Attempts: 4, Error: "bucket gone"},
			},
		}},
	}
	require.NoError(t, m.Write(dir))

	got, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, m.SessionID, got.SessionID)
	require.Equal(t, m.Artifacts, got.Artifacts)
	require.Len(t, got.ArtifactsOfKind(KindDatabase), 1)
	require.Empty(t, got.ArtifactsOfKind(KindFilestore))
}
