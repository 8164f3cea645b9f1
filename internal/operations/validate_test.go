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

func TestValidatePassesFreshSession(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	report, err := f.op.Validate(context.Background(), backup.SessionID)
	require.NoError(t, err)

	assert.True(t, report.Passed, "failures: %v", report.Failures())
	assert.Equal(t, backup.SessionID, report.SessionID)
	assert.Len(t, report.Checks, 6)
}

func TestValidateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	first, err := f.op.Validate(context.Background(), backup.SessionID)
	require.NoError(t, err)
	second, err := f.op.Validate(context.Background(), backup.SessionID)
	require.NoError(t, err)

	assert.Equal(t, first.Passed, second.Passed)
	assert.Equal(t, first.Checks, second.Checks)
}

func TestValidateDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	// Flip bytes at the end of the filestore artifact.
	var target string
	for _, a := range backup.Artifacts {
		if a.Kind == session.KindFilestore {
			target = filepath.Join(f.op.sessions.Dir(backup.SessionID), filepath.FromSlash(a.EncryptedPath))
		}
	}
	require.NotEmpty(t, target)
	fh, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = fh.Write([]byte("corruption"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	report, err := f.op.Validate(context.Background(), backup.SessionID)
	require.NoError(t, err)

	assert.False(t, report.Passed)
	failures := report.Failures()
	assert.Contains(t, failures, CheckArtifactPresence)
	assert.Contains(t, failures, CheckSampleDecrypt)
}

func TestValidateReportsMissingManifest(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)
	require.NoError(t, os.Remove(filepath.Join(f.op.sessions.Dir(backup.SessionID), session.ManifestFilename)))

	report, err := f.op.Validate(context.Background(), backup.SessionID)
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Contains(t, report.Failures(), CheckManifest)
	// Content checks fail by reference when the manifest is gone.
	assert.Contains(t, report.Failures(), CheckArtifactPresence)
}

func TestValidateResolvesLatestSession(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	report, err := f.op.Validate(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, backup.SessionID, report.SessionID)
}

func TestValidateUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.op.Validate(context.Background(), "s_20200101_000000_zzzzzz")
	require.Error(t, err)
}
