package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/crypto"
	"github.com/kebairia/phoenix/internal/database"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/notify"
	"github.com/kebairia/phoenix/internal/platform"
	"github.com/kebairia/phoenix/internal/session"
)

// fakeEngine serves canned dumps and records restores and drops.
type fakeEngine struct {
	mu       sync.Mutex
	name     string
	dumps    map[string][]byte
	failing  map[string]bool
	restored map[string][]byte
	dropped  []string
	pingErr  error
}

var _ database.Engine = (*fakeEngine)(nil)

func newFakeEngine(name string) *fakeEngine {
	return &fakeEngine{
		name:     name,
		dumps:    make(map[string][]byte),
		failing:  make(map[string]bool),
		restored: make(map[string][]byte),
	}
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) ListDatabases(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for db := range e.dumps {
		names = append(names, db)
	}
	for db := range e.failing {
		names = append(names, db)
	}
	sort.Strings(names)
	return names, nil
}

func (e *fakeEngine) Dump(ctx context.Context, db, outPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing[db] {
		return fmt.Errorf("%w: %s", database.ErrDumpFailed, db)
	}
	return os.WriteFile(outPath, e.dumps[db], 0o600)
}

func (e *fakeEngine) Restore(ctx context.Context, db, dumpPath string) error {
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored[db] = data
	return nil
}

func (e *fakeEngine) Drop(ctx context.Context, db string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropped = append(e.dropped, db)
	delete(e.restored, db)
	return nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return e.pingErr }

// fakeDestination keeps uploaded objects in memory. failUploads counts
// upload attempts to reject first; -1 rejects every attempt.
type fakeDestination struct {
	mu          sync.Mutex
	name        string
	objects     map[string][]byte
	failUploads int
}

var _ destination.Destination = (*fakeDestination)(nil)

func newFakeDestination(name string) *fakeDestination {
	return &fakeDestination{name: name, objects: make(map[string][]byte)}
}

func (d *fakeDestination) Name() string { return d.name }

func (d *fakeDestination) Upload(ctx context.Context, localPath, remoteKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failUploads == -1 {
		return fmt.Errorf("%s unavailable", d.name)
	}
	if d.failUploads > 0 {
		d.failUploads--
		return fmt.Errorf("%s transient failure", d.name)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	d.objects[remoteKey] = data
	return nil
}

func (d *fakeDestination) Download(ctx context.Context, remoteKey, localPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[remoteKey]
	if !ok {
		return fmt.Errorf("object %s not found", remoteKey)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (d *fakeDestination) List(ctx context.Context, prefix string) (map[string]int64, error) {
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

// fixture wires an Operator against fakes and a fully seeded scratch tree:
// two dumpable databases plus one that fails, a filestore with nested
// files, and one config group.
type fixture struct {
	op     *Operator
	cfg    *config.Config
	engine *fakeEngine
	dest   *fakeDestination
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := logger.Nop()

	keyFile := filepath.Join(dir, "keys", "backup.key")
	_, err := crypto.GenerateKey(keyFile, false)
	require.NoError(t, err)

	filestore := filepath.Join(dir, "filestore")
	require.NoError(t, os.MkdirAll(filepath.Join(filestore, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(filestore, "a.txt"), []byte("file a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filestore, "nested", "b.txt"), []byte("file b"), 0o644))

	configDir := filepath.Join(dir, "etc")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "proxy.yaml"), []byte("listen: :8080"), 0o644))

	cfg := &config.Config{
		Backup: config.BackupConfig{
			SessionRoot: filepath.Join(dir, "sessions"),
			StagingDir:  filepath.Join(dir, "staging"),
		},
		Encryption: config.EncryptionConfig{KeyFile: keyFile},
		Retention:  config.RetentionConfig{KeepLast: 5},
		Filestore:  config.FilestoreConfig{Root: filestore},
		ConfigGroups: []config.ConfigGroup{{
			Name:   "proxy",
			Paths:  []string{configDir},
			Target: filepath.Join(dir, "restored-etc"),
		}},
		Validation: config.ValidationConfig{MaxSessionAge: 36 * time.Hour},
		Recovery: config.RecoveryConfig{
			SnapshotDir: filepath.Join(dir, "snapshots"),
			ReportsDir:  filepath.Join(dir, "reports"),
			MarkerFile:  filepath.Join(dir, "recovery.active"),
		},
	}

	engine := newFakeEngine("postgres")
	engine.dumps["alpha"] = []byte("alpha dump data")
	engine.dumps["beta"] = []byte("beta dump data")
	engine.failing["gamma"] = true

	dest := newFakeDestination("s3")

	op := &Operator{
		cfg:      cfg,
		log:      log,
		crypto:   crypto.NewService(keyFile, log),
		sessions: session.NewManager(cfg.Backup.SessionRoot),
		engines:  []database.Engine{engine},
		uploader: destination.NewUploader([]destination.Destination{dest}, 2, time.Millisecond, log),
		notifier: notify.NewLogNotifier(log),
		services: &platform.NoopController{},
	}
	return &fixture{op: op, cfg: cfg, engine: engine, dest: dest, dir: dir}
}

// runBackup runs one backup and fails the test on an operational error.
func (f *fixture) runBackup(t *testing.T) *BackupReport {
	t.Helper()
	report, err := f.op.Backup(context.Background())
	require.NoError(t, err)
	return report
}
