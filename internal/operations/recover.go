package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/phoenix/internal/archive"
	"github.com/kebairia/phoenix/internal/database"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/notify"
	"github.com/kebairia/phoenix/internal/producer"
	"github.com/kebairia/phoenix/internal/session"
)

// Recovery modes.
const (
	ModeFull     = "full"
	ModeDatabase = "database-only"
	ModeFiles    = "files-only"
	ModeConfig   = "config-only"
)

// ErrRecoveryActive means another recovery holds the marker for this
// platform instance. Recovery is destructive and never runs concurrently.
var ErrRecoveryActive = errors.New("another recovery is already active")

// ParseRecoveryMode normalizes a mode flag value.
func ParseRecoveryMode(s string) (string, error) {
	switch s {
	case "full", "":
		return ModeFull, nil
	case "database", ModeDatabase:
		return ModeDatabase, nil
	case "files", ModeFiles:
		return ModeFiles, nil
	case "config", ModeConfig:
		return ModeConfig, nil
	default:
		return "", fmt.Errorf("unknown recovery mode %q", s)
	}
}

// RecoverOptions parameterize one recovery invocation.
type RecoverOptions struct {
	Mode string
	// Session is a session id, or "" / "latest" for the most recent one.
	Session string
	// FromRemote names a destination to download the session from first.
	FromRemote string
	// DryRun performs locate and safety snapshot, then simulates the
	// mutating steps.
	DryRun bool
}

// Recover restores the platform from a chosen session. It walks the steps
// locate, safety-snapshot, stop services, restore, start services, health
// check, report; per-artifact failures are recorded and the remaining
// artifacts still restored. A report and a notification are produced for
// every outcome.
func (op *Operator) Recover(ctx context.Context, opts RecoverOptions) (*RecoveryReport, error) {
	mode, err := ParseRecoveryMode(opts.Mode)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}

	// Preconditions: key present, no concurrent recovery. Nothing has been
	// mutated yet, so these abort outright.
	if err := op.crypto.CheckKey(); err != nil {
		return nil, err
	}
	if !opts.DryRun {
		release, err := op.acquireRecoveryMarker(report.RunID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	fatal := func(step string, err error) (*RecoveryReport, error) {
		report.Outcome = OutcomeFatal
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
		if report.SnapshotDir != "" {
			report.FallbackHint = fmt.Sprintf(
				"manual intervention required; pre-recovery snapshot at %s", report.SnapshotDir)
		}
		op.finishRecovery(ctx, report)
		return report, err
	}

	// Locate. Failure here is fatal and aborts before any live mutation.
	id, manifest, err := op.locateSession(ctx, opts)
	if err != nil {
		return fatal("locate session", err)
	}
	report.SessionID = id
	report.Steps = append(report.Steps, "located")
	op.log.Info("recovery started", "session", id, "mode", mode, "dry_run", opts.DryRun)

	// Safety snapshot: best effort, warnings only. The point is having
	// something to fall back to, not blocking the recovery.
	snapshotDir, warnings := op.safetySnapshot(ctx, report.RunID)
	report.SnapshotDir = snapshotDir
	report.Warnings = append(report.Warnings, warnings...)
	report.Steps = append(report.Steps, "safety-snapshotted")

	stopServices := mode != ModeConfig
	if stopServices {
		if opts.DryRun {
			op.log.Info("dry-run: would stop dependent services")
		} else if err := op.services.StopServices(ctx); err != nil {
			return fatal("stop services", err)
		}
		report.Steps = append(report.Steps, "services-stopped")
	}

	// Restore per mode. Each artifact failure is recorded; the remaining
	// artifacts in the same mode are still attempted.
	if mode == ModeFull || mode == ModeDatabase {
		op.restoreDatabases(ctx, manifest, report, opts.DryRun)
	}
	if mode == ModeFull || mode == ModeFiles {
		op.restoreFilestore(ctx, manifest, report, opts.DryRun)
	}
	if mode == ModeFull || mode == ModeConfig {
		op.restoreConfigs(ctx, manifest, report, opts.DryRun)
	}
	report.Steps = append(report.Steps, "restored")

	// Cancellation mid-restore is never a clean success.
	if err := ctx.Err(); err != nil {
		return fatal("restore interrupted", err)
	}

	if stopServices {
		if opts.DryRun {
			op.log.Info("dry-run: would start dependent services")
		} else if err := op.services.StartServices(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("start services: %v", err))
		}
		report.Steps = append(report.Steps, "services-started")
	}

	if opts.DryRun {
		op.log.Info("dry-run: would run health checks")
	} else {
		for _, err := range op.healthCheck(ctx) {
			report.Errors = append(report.Errors, fmt.Sprintf("health check: %v", err))
		}
	}
	report.Steps = append(report.Steps, "health-checked")

	if len(report.Errors) > 0 {
		report.Outcome = OutcomePartialFailure
		report.FallbackHint = fmt.Sprintf(
			"pre-recovery snapshot at %s holds the prior state", report.SnapshotDir)
	} else {
		report.Outcome = OutcomeSuccess
	}
	op.finishRecovery(ctx, report)
	return report, nil
}

func (op *Operator) finishRecovery(ctx context.Context, report *RecoveryReport) {
	report.CompletedAt = time.Now().UTC()
	report.Steps = append(report.Steps, "reported")
	if err := op.writeReport(report.RunID+"_recovery", report); err != nil {
		op.log.Warn("report write failed", "error", err.Error())
	}

	severity := notify.SeverityInfo
	switch report.Outcome {
	case OutcomeFatal:
		severity = notify.SeverityCritical
	case OutcomePartialFailure:
		severity = notify.SeverityWarning
	}
	message := fmt.Sprintf("recovery %s (mode %s, session %s): %s, %d errors, %d warnings",
		report.RunID, report.Mode, report.SessionID, report.Outcome,
		len(report.Errors), len(report.Warnings))
	if report.FallbackHint != "" {
		message += "; " + report.FallbackHint
	}
	if err := op.notifier.Notify(ctx, severity, message); err != nil {
		op.log.Warn("notification failed", "error", err.Error())
	}
}

// acquireRecoveryMarker takes the exclusive recovery marker, refusing when
// one is already held.
func (op *Operator) acquireRecoveryMarker(runID string) (func(), error) {
	marker := op.cfg.Recovery.MarkerFile
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: marker %s", ErrRecoveryActive, marker)
		}
		return nil, fmt.Errorf("create recovery marker: %w", err)
	}
	fmt.Fprintln(f, runID)
	f.Close()
	return func() { os.Remove(marker) }, nil
}

// locateSession resolves the target session, downloading it from a remote
// destination first when requested, and loads its manifest.
func (op *Operator) locateSession(ctx context.Context, opts RecoverOptions) (string, *session.Manifest, error) {
	if opts.FromRemote != "" {
		id, err := op.downloadSession(ctx, opts.FromRemote, opts.Session)
		if err != nil {
			return "", nil, err
		}
		opts.Session = id
	}

	id, err := op.sessions.Resolve(opts.Session)
	if err != nil {
		return "", nil, err
	}
	manifest, err := session.LoadManifest(op.sessions.Dir(id))
	if err != nil {
		return "", nil, err
	}
	return id, manifest, nil
}

// downloadSession mirrors one remote session into the local session root
// and returns its id.
func (op *Operator) downloadSession(ctx context.Context, destName, ref string) (string, error) {
	dest, err := op.uploader.ByName(destName)
	if err != nil {
		return "", err
	}

	id := ref
	if id == "" || id == "latest" {
		objects, err := dest.List(ctx, destination.RemotePrefix+"/")
		if err != nil {
			return "", fmt.Errorf("list remote sessions: %w", err)
		}
		ids := make(map[string]struct{})
		for key := range objects {
			parts := strings.Split(key, "/")
			if len(parts) >= 2 && session.IsID(parts[1]) {
				ids[parts[1]] = struct{}{}
			}
		}
		var all []string
		for sid := range ids {
			all = append(all, sid)
		}
		id, err = session.Latest(all)
		if err != nil {
			return "", fmt.Errorf("resolve remote session: %w", err)
		}
	}

	prefix := destination.RemoteKey(id, "")
	objects, err := dest.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list remote session %s: %w", id, err)
	}
	if len(objects) == 0 {
		return "", fmt.Errorf("session %s not found on %s", id, destName)
	}
	for key := range objects {
		rel := strings.TrimPrefix(key, prefix)
		local := filepath.Join(op.sessions.Dir(id), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return "", fmt.Errorf("download session %s: %w", id, err)
		}
		if err := dest.Download(ctx, key, local); err != nil {
			return "", fmt.Errorf("download session %s: %w", id, err)
		}
	}
	op.log.Info("session downloaded", "session", id, "destination", destName, "objects", len(objects))
	return id, nil
}

// safetySnapshot captures the current live state before anything is
// mutated. Best effort: every failure is a warning, never an abort.
func (op *Operator) safetySnapshot(ctx context.Context, runID string) (string, []string) {
	dir := filepath.Join(op.cfg.Recovery.SnapshotDir, "recovery-"+runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", []string{fmt.Sprintf("safety snapshot: %v", err)}
	}

	var warnings []string
	producers := []producer.Producer{
		producer.NewDatabaseProducer(op.engines, dir, op.log),
		producer.NewFilestoreProducer(op.cfg.Filestore.Root, dir, op.log),
		producer.NewConfigProducer(op.cfg.ConfigGroups, dir, op.log),
	}
	for _, p := range producers {
		_, errs := p.Produce(ctx)
		for _, perr := range errs {
			warnings = append(warnings, fmt.Sprintf("safety snapshot: %v", perr))
		}
	}
	op.log.Info("safety snapshot captured", "dir", dir, "warnings", len(warnings))
	return dir, warnings
}

// restoreDatabases drops, recreates, and loads every database artifact.
func (op *Operator) restoreDatabases(ctx context.Context, manifest *session.Manifest, report *RecoveryReport, dryRun bool) {
	for _, a := range manifest.ArtifactsOfKind(session.KindDatabase) {
		if ctx.Err() != nil {
			return
		}
		if dryRun {
			op.log.Info("dry-run: would restore database", "database", a.Name, "engine", a.Engine)
			continue
		}
		if err := op.restoreDatabase(ctx, manifest.SessionID, a); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("restore database %s: %v", a.Name, err))
		}
	}
}

func (op *Operator) restoreDatabase(ctx context.Context, sessionID string, a session.ArtifactRecord) error {
	engine, err := op.engineByName(a.Engine)
	if err != nil {
		return err
	}
	encPath := filepath.Join(op.sessions.Dir(sessionID), filepath.FromSlash(a.EncryptedPath))
	tmp, err := os.CreateTemp("", "phoenix-restore-*.dump")
	if err != nil {
		return err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	// A decryption failure aborts only this artifact's restoration.
	if err := op.crypto.Decrypt(encPath, tmp.Name()); err != nil {
		return err
	}
	return engine.Restore(ctx, a.Name, tmp.Name())
}

func (op *Operator) engineByName(name string) (database.Engine, error) {
	for _, e := range op.engines {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("engine %q not configured", name)
}

// restoreFilestore extracts the filestore artifact into place only after
// the live tree was moved aside, so a failed extraction rolls back by
// moving the original back.
func (op *Operator) restoreFilestore(ctx context.Context, manifest *session.Manifest, report *RecoveryReport, dryRun bool) {
	records := manifest.ArtifactsOfKind(session.KindFilestore)
	if len(records) == 0 {
		return
	}
	a := records[0]
	if dryRun {
		op.log.Info("dry-run: would restore filestore", "root", op.cfg.Filestore.Root)
		return
	}

	encPath := filepath.Join(op.sessions.Dir(manifest.SessionID), filepath.FromSlash(a.EncryptedPath))
	tmp, err := os.CreateTemp("", "phoenix-filestore-*"+archive.Suffix)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("restore filestore: %v", err))
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := op.crypto.Decrypt(encPath, tmp.Name()); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("restore filestore: %v", err))
		return
	}

	root := op.cfg.Filestore.Root
	aside := root + ".aside-" + report.RunID
	moved := false
	if _, err := os.Stat(root); err == nil {
		if err := os.Rename(root, aside); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("restore filestore: move aside: %v", err))
			return
		}
		moved = true
	}

	if err := os.MkdirAll(root, 0o755); err == nil {
		err = archive.Extract(ctx, tmp.Name(), root)
	}
	if err != nil {
		// Roll back to the original tree.
		os.RemoveAll(root)
		if moved {
			if renameErr := os.Rename(aside, root); renameErr != nil {
				report.Errors = append(report.Errors,
					fmt.Sprintf("restore filestore: rollback failed: %v", renameErr))
			}
		}
		report.Errors = append(report.Errors, fmt.Sprintf("restore filestore: %v", err))
		return
	}
	if moved {
		if err := os.RemoveAll(aside); err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("restore filestore: stale aside tree %s: %v", aside, err))
		}
	}
}

// restoreConfigs extracts each config bundle into its group's target path,
// dispatching by group name.
func (op *Operator) restoreConfigs(ctx context.Context, manifest *session.Manifest, report *RecoveryReport, dryRun bool) {
	targets := make(map[string]string, len(op.cfg.ConfigGroups))
	for _, g := range op.cfg.ConfigGroups {
		targets[g.Name] = g.Target
	}

	for _, a := range manifest.ArtifactsOfKind(session.KindConfig) {
		if ctx.Err() != nil {
			return
		}
		target, ok := targets[a.Name]
		if !ok || target == "" {
			report.Errors = append(report.Errors,
				fmt.Sprintf("restore config %s: no target configured", a.Name))
			continue
		}
		if dryRun {
			op.log.Info("dry-run: would restore config group", "group", a.Name, "target", target)
			continue
		}
		if err := op.restoreConfigGroup(ctx, manifest.SessionID, a, target); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("restore config %s: %v", a.Name, err))
		}
	}
}

func (op *Operator) restoreConfigGroup(ctx context.Context, sessionID string, a session.ArtifactRecord, target string) error {
	encPath := filepath.Join(op.sessions.Dir(sessionID), filepath.FromSlash(a.EncryptedPath))
	tmp, err := os.CreateTemp("", "phoenix-config-*"+archive.Suffix)
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
	return archive.Extract(ctx, tmp.Name(), target)
}

// healthCheck verifies database reachability, service liveness, and
// filestore readability after a restore.
func (op *Operator) healthCheck(ctx context.Context) []error {
	var errs []error
	for _, engine := range op.engines {
		if err := engine.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, op.services.HealthCheck(ctx)...)
	if root := op.cfg.Filestore.Root; root != "" {
		if _, err := os.ReadDir(root); err != nil {
			errs = append(errs, fmt.Errorf("filestore unreadable: %w", err))
		}
	}
	return errs
}
