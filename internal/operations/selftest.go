package operations

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/phoenix/internal/archive"
	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/notify"
	"github.com/kebairia/phoenix/internal/platform"
	"github.com/kebairia/phoenix/internal/session"
)

// Self-test modes.
const (
	TestFull           = "full"
	TestBackupOnly     = "backup-only"
	TestRestoreOnly    = "restore-only"
	TestValidationOnly = "validation-only"
)

// ParseTestMode normalizes a self-test mode flag value.
func ParseTestMode(s string) (string, error) {
	switch s {
	case "full", "":
		return TestFull, nil
	case "backup", TestBackupOnly:
		return TestBackupOnly, nil
	case "restore", TestRestoreOnly:
		return TestRestoreOnly, nil
	case "validation", TestValidationOnly:
		return TestValidationOnly, nil
	default:
		return "", fmt.Errorf("unknown self-test mode %q", s)
	}
}

// TestOptions parameterize one self-test run.
type TestOptions struct {
	Mode string
	// Session names an existing session for restore-only mode, or narrows
	// validation-only to a specific session.
	Session string
	// Keep leaves the scratch environment on disk for inspection.
	Keep bool
}

type skipSubtest struct{ reason string }

func (s skipSubtest) Error() string { return s.reason }

// SelfTest exercises the full cycle against a namespaced scratch
// environment: backup into a scratch session root, validate, dry-run
// recovery, restore a database into a namespaced copy, restore the
// filestore into an isolated directory, and round-trip a probe object
// through every destination. Live data is never touched; everything the
// harness creates carries the run's namespace and is torn down afterwards.
func (op *Operator) SelfTest(ctx context.Context, opts TestOptions) (*TestReport, error) {
	mode, err := ParseTestMode(opts.Mode)
	if err != nil {
		return nil, err
	}
	if err := op.crypto.CheckKey(); err != nil {
		return nil, err
	}
	if mode == TestRestoreOnly && opts.Session == "" {
		return nil, fmt.Errorf("restore-only mode requires a session reference")
	}

	report := &TestReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	namespace := "phxtest_" + report.RunID[:8]
	op.log.Info("self-test started", "run", report.RunID, "mode", mode, "namespace", namespace)

	if mode == TestValidationOnly {
		op.runSubtest(report, "validate", func() error {
			return op.subtestValidate(ctx, op, opts.Session)
		})
		return op.finishSelfTest(ctx, report)
	}

	if mode == TestRestoreOnly {
		// Restore-only reads an existing real session but still writes only
		// into namespaced targets.
		id, err := op.sessions.Resolve(opts.Session)
		if err != nil {
			return nil, err
		}
		manifest, err := session.LoadManifest(op.sessions.Dir(id))
		if err != nil {
			return nil, err
		}
		scratch, err := os.MkdirTemp("", namespace+"-*")
		if err != nil {
			return nil, err
		}
		defer op.teardownScratch(ctx, scratch, namespace, opts.Keep)

		op.runSubtest(report, "database-restore", func() error {
			return op.subtestDatabaseRestore(ctx, op, manifest, namespace)
		})
		op.runSubtest(report, "filestore-restore", func() error {
			return op.subtestFilestoreRestore(ctx, op, manifest, filepath.Join(scratch, "filestore"))
		})
		return op.finishSelfTest(ctx, report)
	}

	// Full and backup-only modes run against a scoped operator whose session
	// root, filestore, and config groups all live in a scratch directory.
	env, err := op.newTestEnv(namespace)
	if err != nil {
		return nil, err
	}
	defer op.teardownScratch(ctx, env.dir, namespace, opts.Keep)

	var backupReport *BackupReport
	op.runSubtest(report, "backup", func() error {
		var err error
		backupReport, err = env.op.Backup(ctx)
		if err != nil {
			return err
		}
		if backupReport.Status != session.StatusSuccess {
			return fmt.Errorf("backup status %s: %v", backupReport.Status, backupReport.Errors)
		}
		return nil
	})
	if backupReport == nil {
		return op.finishSelfTest(ctx, report)
	}
	sessionID := backupReport.SessionID

	op.runSubtest(report, "validate", func() error {
		return op.subtestValidate(ctx, env.op, sessionID)
	})

	if mode == TestBackupOnly {
		return op.finishSelfTest(ctx, report)
	}

	manifest, err := session.LoadManifest(env.op.sessions.Dir(sessionID))
	if err != nil {
		return nil, err
	}

	op.runSubtest(report, "recovery-dry-run", func() error {
		rep, err := env.op.Recover(ctx, RecoverOptions{Session: sessionID, DryRun: true})
		if err != nil {
			return err
		}
		if rep.Outcome != OutcomeSuccess {
			return fmt.Errorf("dry-run outcome %s: %v", rep.Outcome, rep.Errors)
		}
		return nil
	})
	op.runSubtest(report, "database-restore", func() error {
		return op.subtestDatabaseRestore(ctx, env.op, manifest, namespace)
	})
	op.runSubtest(report, "filestore-restore", func() error {
		return op.subtestFilestoreRestore(ctx, env.op, manifest, filepath.Join(env.dir, "restored"))
	})
	op.runSubtest(report, "cloud-round-trip", func() error {
		return op.subtestCloudRoundTrip(ctx, env.dir, sessionID)
	})
	return op.finishSelfTest(ctx, report)
}

func (op *Operator) runSubtest(report *TestReport, name string, fn func() error) {
	start := time.Now()
	result := SubtestResult{Name: name, Status: SubtestPass}
	if err := fn(); err != nil {
		if skip, ok := err.(skipSubtest); ok {
			result.Status = SubtestSkip
			result.Message = skip.reason
		} else {
			result.Status = SubtestFail
			result.Message = err.Error()
		}
	}
	result.Duration = time.Since(start) / time.Millisecond
	op.log.Info("self-test step", "name", name, "status", result.Status)
	report.Results = append(report.Results, result)
}

func (op *Operator) finishSelfTest(ctx context.Context, report *TestReport) (*TestReport, error) {
	report.CompletedAt = time.Now().UTC()
	report.Passed = true
	failed := 0
	for _, r := range report.Results {
		if r.Status == SubtestFail {
			report.Passed = false
			failed++
		}
	}
	if err := op.writeReport(report.RunID+"_selftest", report); err != nil {
		op.log.Warn("report write failed", "error", err.Error())
	}
	message := fmt.Sprintf("self-test %s (%s): passed=%t, %d/%d steps failed",
		report.RunID, report.Mode, report.Passed, failed, len(report.Results))
	if err := op.notifier.Notify(ctx, notifySeverity(failed, 0), message); err != nil {
		op.log.Warn("notification failed", "error", err.Error())
	}
	return report, nil
}

type testEnv struct {
	op  *Operator
	dir string
}

// newTestEnv builds a scoped operator sharing the live engines, key, and
// destinations, but pointed at a scratch session root, a seeded scratch
// filestore, and one seeded config group.
func (op *Operator) newTestEnv(namespace string) (*testEnv, error) {
	dir, err := os.MkdirTemp("", namespace+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch environment: %w", err)
	}

	filestore := filepath.Join(dir, "filestore")
	configDir := filepath.Join(dir, "configs")
	for _, sub := range []string{filestore, configDir} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}
	seeds := map[string]string{
		filepath.Join(filestore, "probe.txt"):       "filestore probe " + namespace,
		filepath.Join(filestore, "nested", "b.txt"): "nested probe",
		filepath.Join(configDir, "app.yaml"):        "namespace: " + namespace,
	}
	for path, content := range seeds {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}

	scoped := *op.cfg
	scoped.Backup.SessionRoot = filepath.Join(dir, "sessions")
	scoped.Backup.StagingDir = filepath.Join(dir, "staging")
	scoped.Filestore.Root = filestore
	scoped.ConfigGroups = []config.ConfigGroup{{
		Name:   "selftest",
		Paths:  []string{configDir},
		Target: filepath.Join(dir, "config-target"),
	}}
	scoped.Retention.KeepLast = 0
	scoped.Recovery.SnapshotDir = filepath.Join(dir, "snapshots")
	scoped.Recovery.ReportsDir = filepath.Join(dir, "reports")
	scoped.Recovery.MarkerFile = filepath.Join(dir, "recovery.active")

	return &testEnv{
		dir: dir,
		op: &Operator{
			cfg:      &scoped,
			log:      op.log,
			crypto:   op.crypto,
			sessions: session.NewManager(scoped.Backup.SessionRoot),
			engines:  op.engines,
			uploader: op.uploader,
			notifier: notify.NewLogNotifier(op.log),
			services: &platform.NoopController{},
		},
	}, nil
}

// teardownScratch drops namespaced databases and removes the scratch tree.
func (op *Operator) teardownScratch(ctx context.Context, dir, namespace string, keep bool) {
	for _, engine := range op.engines {
		names, err := engine.ListDatabases(ctx)
		if err != nil {
			op.log.Warn("self-test teardown list failed", "engine", engine.Name(), "error", err.Error())
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(name, namespace) {
				if err := engine.Drop(ctx, name); err != nil {
					op.log.Warn("self-test teardown drop failed", "database", name, "error", err.Error())
				}
			}
		}
	}
	if keep {
		op.log.Info("self-test scratch kept", "dir", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		op.log.Warn("self-test teardown failed", "dir", dir, "error", err.Error())
	}
}

func (op *Operator) subtestValidate(ctx context.Context, source *Operator, ref string) error {
	report, err := source.Validate(ctx, ref)
	if err != nil {
		return err
	}
	if !report.Passed {
		return fmt.Errorf("validation failed: %v", report.Failures())
	}
	return nil
}

// subtestDatabaseRestore restores one database artifact into a namespaced
// copy, proving the dump loads without touching the original database.
func (op *Operator) subtestDatabaseRestore(ctx context.Context, source *Operator, manifest *session.Manifest, namespace string) error {
	records := manifest.ArtifactsOfKind(session.KindDatabase)
	if len(records) == 0 {
		return skipSubtest{reason: "no database artifacts in session"}
	}
	a := records[0]
	engine, err := op.engineByName(a.Engine)
	if err != nil {
		return skipSubtest{reason: err.Error()}
	}

	encPath := filepath.Join(source.sessions.Dir(manifest.SessionID), filepath.FromSlash(a.EncryptedPath))
	tmp, err := os.CreateTemp("", "phoenix-selftest-*.dump")
	if err != nil {
		return err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := op.crypto.Decrypt(encPath, tmp.Name()); err != nil {
		return err
	}
	return engine.Restore(ctx, namespace+"_"+a.Name, tmp.Name())
}

// subtestFilestoreRestore extracts the filestore artifact into an isolated
// directory and checks the tree is non-empty.
func (op *Operator) subtestFilestoreRestore(ctx context.Context, source *Operator, manifest *session.Manifest, target string) error {
	records := manifest.ArtifactsOfKind(session.KindFilestore)
	if len(records) == 0 {
		return skipSubtest{reason: "no filestore artifact in session"}
	}
	a := records[0]

	encPath := filepath.Join(source.sessions.Dir(manifest.SessionID), filepath.FromSlash(a.EncryptedPath))
	tmp, err := os.CreateTemp("", "phoenix-selftest-*"+archive.Suffix)
	if err != nil {
		return err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := op.crypto.Decrypt(encPath, tmp.Name()); err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	if err := archive.Extract(ctx, tmp.Name(), target); err != nil {
		return err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("restored filestore %s is empty", target)
	}
	return nil
}

// subtestCloudRoundTrip uploads a probe object to every destination,
// downloads it back, and compares the bytes.
func (op *Operator) subtestCloudRoundTrip(ctx context.Context, dir, sessionID string) error {
	dests := op.uploader.Destinations()
	if len(dests) == 0 {
		return skipSubtest{reason: "no destinations configured"}
	}

	payload := []byte("phoenix self-test probe " + sessionID)
	local := filepath.Join(dir, "probe.bin")
	if err := os.WriteFile(local, payload, 0o600); err != nil {
		return err
	}
	key := destination.RemoteKey(sessionID, "probe.bin")

	for _, dest := range dests {
		if err := dest.Upload(ctx, local, key); err != nil {
			return fmt.Errorf("%s: upload probe: %w", dest.Name(), err)
		}
		back := filepath.Join(dir, "probe-"+dest.Name()+".bin")
		if err := dest.Download(ctx, key, back); err != nil {
			return fmt.Errorf("%s: download probe: %w", dest.Name(), err)
		}
		got, err := os.ReadFile(back)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, payload) {
			return fmt.Errorf("%s: probe payload mismatch", dest.Name())
		}
	}
	return nil
}
