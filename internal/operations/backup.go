package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/phoenix/internal/crypto"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/producer"
	"github.com/kebairia/phoenix/internal/session"
)

// Backup runs one complete backup session: produce plaintext artifacts,
// encrypt them into the session directory, replicate to every destination,
// and write the manifest. Per-artifact and per-destination failures are
// recorded, never aborting the run; only missing preconditions fail fast.
func (op *Operator) Backup(ctx context.Context) (*BackupReport, error) {
	// Hard precondition: without the key nothing can be encrypted.
	if err := op.crypto.CheckKey(); err != nil {
		return nil, err
	}

	report := &BackupReport{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		Destinations: op.uploader.Names(),
	}

	sess, err := op.sessions.Create(time.Now(), report.Destinations)
	if err != nil {
		return nil, err
	}
	report.SessionID = sess.ID
	op.log.Info("backup started", "session", sess.ID, "destinations", report.Destinations)

	if err := os.MkdirAll(op.cfg.Backup.StagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	staging, err := os.MkdirTemp(op.cfg.Backup.StagingDir, sess.ID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	producers := []producer.Producer{
		producer.NewDatabaseProducer(op.engines, staging, op.log),
		producer.NewFilestoreProducer(op.cfg.Filestore.Root, staging, op.log),
		producer.NewConfigProducer(op.cfg.ConfigGroups, staging, op.log),
	}

	for _, p := range producers {
		artifacts, errs := p.Produce(ctx)
		for _, perr := range errs {
			report.Errors = append(report.Errors, perr.Error())
		}
		for _, a := range artifacts {
			record, err := op.sealArtifact(ctx, sess, a)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			for dest, state := range record.Uploads {
				if state.Status == session.UploadFailed {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("artifact %s not replicated to %s: %s", a.Name, dest, state.Error))
				}
			}
			report.Artifacts = append(report.Artifacts, record)
		}
	}

	// The session is usable as soon as artifacts exist encrypted locally;
	// upload failures stay per-destination warnings.
	status := session.StatusSuccess
	if len(report.Artifacts) == 0 {
		status = session.StatusFailed
	}
	report.Status = status

	manifest := &session.Manifest{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		CompletedAt:  time.Now().UTC(),
		Status:       status,
		Destinations: report.Destinations,
		Artifacts:    report.Artifacts,
		Errors:       report.Errors,
	}
	if err := manifest.Write(sess.Dir); err != nil {
		return nil, err
	}
	op.uploadManifest(ctx, sess)

	swept, err := op.sessions.Sweep(op.cfg.Retention.KeepLast)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("retention sweep: %v", err))
	}
	report.SweptSessions = swept
	report.CompletedAt = time.Now().UTC()

	if err := op.writeReport(report.RunID+"_backup", report); err != nil {
		op.log.Warn("report write failed", "error", err.Error())
	}
	message := fmt.Sprintf("backup %s finished: %s, %d artifacts, %d errors, %d warnings",
		sess.ID, status, len(report.Artifacts), len(report.Errors), len(report.Warnings))
	if err := op.notifier.Notify(ctx, notifySeverity(len(report.Errors), len(report.Warnings)), message); err != nil {
		op.log.Warn("notification failed", "error", err.Error())
	}

	op.log.Info("backup completed",
		"session", sess.ID,
		"status", status,
		"artifacts", len(report.Artifacts),
		"errors", len(report.Errors),
	)
	return report, nil
}

// sealArtifact encrypts one staged plaintext artifact into the session,
// discards the plaintext, and replicates the ciphertext.
func (op *Operator) sealArtifact(ctx context.Context, sess *session.Session, a producer.Artifact) (session.ArtifactRecord, error) {
	relPath := a.SessionPath(crypto.Suffix)
	encPath := filepath.Join(sess.Dir, filepath.FromSlash(relPath))

	if err := op.crypto.Encrypt(a.Path, encPath); err != nil {
		return session.ArtifactRecord{}, fmt.Errorf("seal %s %q: %w", a.Kind, a.Name, err)
	}
	// Plaintext never stays on disk longer than necessary.
	if err := os.Remove(a.Path); err != nil {
		op.log.Warn("plaintext cleanup failed", "path", a.Path, "error", err.Error())
	}

	checksum, err := session.Checksum(encPath)
	if err != nil {
		return session.ArtifactRecord{}, fmt.Errorf("seal %s %q: %w", a.Kind, a.Name, err)
	}

	uploads := op.uploader.Upload(ctx, encPath, destination.RemoteKey(sess.ID, relPath))
	return session.ArtifactRecord{
		Name:           a.Name,
		Kind:           a.Kind,
		Engine:         a.Engine,
		PlainSizeBytes: a.SizeBytes,
		EncryptedPath:  relPath,
		Checksum:       checksum,
		Uploads:        uploads,
	}, nil
}

// uploadManifest replicates the manifest so a session can be located from
// a destination alone. Failures are logged; a later validation run reports
// the divergence.
func (op *Operator) uploadManifest(ctx context.Context, sess *session.Session) {
	local := filepath.Join(sess.Dir, session.ManifestFilename)
	results := op.uploader.Upload(ctx, local, destination.RemoteKey(sess.ID, session.ManifestFilename))
	for dest, state := range results {
		if state.Status == session.UploadFailed {
			op.log.Warn("manifest not replicated", "destination", dest, "error", state.Error)
		}
	}
}
