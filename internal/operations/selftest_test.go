package operations

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subtestByName(t *testing.T, report *TestReport, name string) SubtestResult {
	t.Helper()
	for _, r := range report.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("subtest %q missing from %v", name, report.Results)
	return SubtestResult{}
}

func TestSelfTestBackupOnly(t *testing.T) {
	f := newFixture(t)

	report, err := f.op.SelfTest(context.Background(), TestOptions{Mode: TestBackupOnly})
	require.NoError(t, err)

	assert.True(t, report.Passed, "results: %v", report.Results)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, SubtestPass, subtestByName(t, report, "backup").Status)
	assert.Equal(t, SubtestPass, subtestByName(t, report, "validate").Status)

	// The harness session root is scratch; the live one stays empty.
	ids, err := f.op.sessions.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSelfTestFullCycle(t *testing.T) {
	f := newFixture(t)

	report, err := f.op.SelfTest(context.Background(), TestOptions{Mode: TestFull})
	require.NoError(t, err)
	assert.True(t, report.Passed, "results: %v", report.Results)

	for _, name := range []string{"backup", "validate", "recovery-dry-run", "database-restore", "filestore-restore", "cloud-round-trip"} {
		assert.Equal(t, SubtestPass, subtestByName(t, report, name).Status, name)
	}

	// The database restore landed in a namespaced copy, never the original.
	found := false
	for db := range f.engine.restored {
		require.True(t, strings.HasPrefix(db, "phxtest_"), db)
		found = true
	}
	assert.True(t, found)
}

func TestSelfTestValidationOnly(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	report, err := f.op.SelfTest(context.Background(), TestOptions{
		Mode:    TestValidationOnly,
		Session: backup.SessionID,
	})
	require.NoError(t, err)
	assert.True(t, report.Passed, "results: %v", report.Results)
	assert.Len(t, report.Results, 1)
}

func TestSelfTestRestoreOnlyNeedsSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.op.SelfTest(context.Background(), TestOptions{Mode: TestRestoreOnly})
	require.Error(t, err)
}

func TestSelfTestRestoreOnlyAgainstRealSession(t *testing.T) {
	f := newFixture(t)
	backup := f.runBackup(t)

	report, err := f.op.SelfTest(context.Background(), TestOptions{
		Mode:    TestRestoreOnly,
		Session: backup.SessionID,
	})
	require.NoError(t, err)
	assert.True(t, report.Passed, "results: %v", report.Results)
	assert.Equal(t, SubtestPass, subtestByName(t, report, "database-restore").Status)
	assert.Equal(t, SubtestPass, subtestByName(t, report, "filestore-restore").Status)
}
