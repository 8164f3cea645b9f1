package operations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/phoenix/internal/session"
)

func readFilestore(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRecoverDryRunMutatesNothing(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)
	before := readFilestore(t, f.cfg.Filestore.Root)

	report, err := f.op.Recover(context.Background(), RecoverOptions{
		Session: backup.SessionID,
		DryRun:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.Equal(t, backup.SessionID, report.SessionID)
	assert.True(t, report.DryRun)

	// Live data and engine state are untouched; no marker was taken.
	assert.Equal(t, before, readFilestore(t, f.cfg.Filestore.Root))
	assert.Empty(t, f.engine.restored)
	_, err = os.Stat(f.cfg.Recovery.MarkerFile)
	assert.True(t, os.IsNotExist(err))

	// The safety snapshot is real even on a dry run.
	require.NotEmpty(t, report.SnapshotDir)
	entries, err := os.ReadDir(report.SnapshotDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRecoverFullRestoresEverything(t *testing.T) {
	f := newFixture(t)
	f.runBackup(t)

	// Drift the live filestore after the backup.
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Filestore.Root, "a.txt"), []byte("drifted"), 0o644))

	report, err := f.op.Recover(context.Background(), RecoverOptions{Session: "latest"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcome, "errors: %v", report.Errors)

	assert.Equal(t, []byte("alpha dump data"), f.engine.restored["alpha"])
	assert.Equal(t, []byte("beta dump data"), f.engine.restored["beta"])

	files := readFilestore(t, f.cfg.Filestore.Root)
	assert.Equal(t, "file a", files["a.txt"])
	assert.Equal(t, "file b", files[filepath.Join("nested", "b.txt")])

	restored, err := os.ReadFile(filepath.Join(f.cfg.ConfigGroups[0].Target, "etc", "proxy.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "listen: :8080", string(restored))

	// The marker is released on completion.
	_, err = os.Stat(f.cfg.Recovery.MarkerFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverDatabaseOnlyLeavesFilesAlone(t *testing.T) {
	f := newFixture(t)
	f.runBackup(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Filestore.Root, "a.txt"), []byte("drifted"), 0o644))

	report, err := f.op.Recover(context.Background(), RecoverOptions{
		Mode:    ModeDatabase,
		Session: "latest",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcome, "errors: %v", report.Errors)

	assert.Equal(t, []byte("alpha dump data"), f.engine.restored["alpha"])
	files := readFilestore(t, f.cfg.Filestore.Root)
	assert.Equal(t, "drifted", files["a.txt"])
	_, err = os.Stat(f.cfg.ConfigGroups[0].Target)
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverPartialFailureKeepsGoing(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	// Truncate the filestore artifact so its decryption fails.
	var target string
	for _, a := range backup.Artifacts {
		if a.Kind == session.KindFilestore {
			target = filepath.Join(f.op.sessions.Dir(backup.SessionID), filepath.FromSlash(a.EncryptedPath))
		}
	}
	require.NotEmpty(t, target)
	require.NoError(t, os.WriteFile(target, []byte("not a ciphertext"), 0o600))

	before := readFilestore(t, f.cfg.Filestore.Root)
	report, err := f.op.Recover(context.Background(), RecoverOptions{Session: backup.SessionID})
	require.NoError(t, err)

	// Databases still restored; the filestore failure is isolated and the
	// live tree is untouched.
	assert.Equal(t, OutcomePartialFailure, report.Outcome)
	assert.Equal(t, []byte("alpha dump data"), f.engine.restored["alpha"])
	assert.Equal(t, before, readFilestore(t, f.cfg.Filestore.Root))
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "filestore")
	assert.NotEmpty(t, report.FallbackHint)
}

func TestRecoverRefusesConcurrentRun(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)
	require.NoError(t, os.WriteFile(f.cfg.Recovery.MarkerFile, []byte("held"), 0o644))

	_, err := f.op.Recover(context.Background(), RecoverOptions{Session: backup.SessionID})
	require.ErrorIs(t, err, ErrRecoveryActive)
	assert.Empty(t, f.engine.restored)
}

func TestRecoverFromRemoteDownloadsSession(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	// Lose the local copy entirely; the destination still holds it.
	require.NoError(t, os.RemoveAll(f.op.sessions.Dir(backup.SessionID)))

	report, err := f.op.Recover(context.Background(), RecoverOptions{
		FromRemote: "s3",
		DryRun:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcome, "errors: %v", report.Errors)
	assert.Equal(t, backup.SessionID, report.SessionID)

	// The mirrored session is parseable again locally.
	manifest, err := session.LoadManifest(f.op.sessions.Dir(backup.SessionID))
	require.NoError(t, err)
	assert.Len(t, manifest.Artifacts, 4)
}

func TestRecoverRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.op.Recover(context.Background(), RecoverOptions{Mode: "everything"})
	require.Error(t, err)
}
