package producer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/database"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// fakeEngine serves canned databases and fails on request.
type fakeEngine struct {
	name    string
	dbs     []string
	failing map[string]bool
}

var _ database.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) ListDatabases(ctx context.Context) ([]string, error) {
	return f.dbs, nil
}

func (f *fakeEngine) Dump(ctx context.Context, db, outPath string) error {
	if f.failing[db] {
		return errors.New("connection reset")
	}
	return os.WriteFile(outPath, []byte("-- dump of "+db+"\n"), 0o644)
}

func (f *fakeEngine) Restore(ctx context.Context, db, dumpPath string) error { return nil }
func (f *fakeEngine) Drop(ctx context.Context, db string) error              { return nil }
func (f *fakeEngine) Ping(ctx context.Context) error                         { return nil }

func TestDatabaseProducer_PartialFailure(t *testing.T) {
	staging := t.TempDir()
	engine := &fakeEngine{
		name:    "postgres",
		dbs:     []string{"alpha", "gamma", "beta"},
		failing: map[string]bool{"gamma": true},
	}

	p := NewDatabaseProducer([]database.Engine{engine}, staging, logger.Nop())
	artifacts, errs := p.Produce(context.Background())

	require.Len(t, artifacts, 2)
	names := []string{artifacts[0].Name, artifacts[1].Name}
	require.ElementsMatch(t, []string{"alpha", "beta"}, names)
	for _, a := range artifacts {
		require.Equal(t, session.KindDatabase, a.Kind)
		require.Equal(t, "postgres", a.Engine)
		require.FileExists(t, a.Path)
		require.Positive(t, a.SizeBytes)
	}

	require.Len(t, errs, 1)
	require.Equal(t, "gamma", errs[0].Name)
}

func TestFilestoreProducer_ArchivesTree(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		name := filepath.Join(root, "tenant", string(rune('a'+i))+".bin")
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, os.WriteFile(name, []byte("content"), 0o644))
	}

	p := NewFilestoreProducer(root, t.TempDir(), logger.Nop())
	artifacts, errs := p.Produce(context.Background())
	require.Empty(t, errs)
	require.Len(t, artifacts, 1)
	require.Equal(t, FilestoreName, artifacts[0].Name)
	require.Equal(t, session.KindFilestore, artifacts[0].Kind)
	require.FileExists(t, artifacts[0].Path)
}

func TestFilestoreProducer_MissingRootReported(t *testing.T) {
	p := NewFilestoreProducer(filepath.Join(t.TempDir(), "absent"), t.TempDir(), logger.Nop())
	artifacts, errs := p.Produce(context.Background())
	require.Empty(t, artifacts)
	require.Len(t, errs, 1)
}

func TestConfigProducer_PerGroupFailureIsolated(t *testing.T) {
	srcDir := t.TempDir()
	proxyConf := filepath.Join(srcDir, "proxy.conf")
	require.NoError(t, os.WriteFile(proxyConf, []byte("upstream {}"), 0o644))

	groups := []config.ConfigGroup{
		{Name: "proxy", Paths: []string{proxyConf}, Target: "/etc/proxy"},
		{Name: "tls", Paths: []string{filepath.Join(srcDir, "missing.pem")}, Target: "/etc/tls"},
	}

	p := NewConfigProducer(groups, t.TempDir(), logger.Nop())
	artifacts, errs := p.Produce(context.Background())

	require.Len(t, artifacts, 1)
	require.Equal(t, "proxy", artifacts[0].Name)
	require.Equal(t, session.KindConfig, artifacts[0].Kind)

	require.Len(t, errs, 1)
	require.Equal(t, "tls", errs[0].Name)
}
