package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/phoenix/internal/archive"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/session"
)

// Validation check names, in execution order.
const (
	CheckManifest         = "manifest-parse"
	CheckArtifactPresence = "artifact-presence"
	CheckSampleDecrypt    = "sample-decrypt"
	CheckArchiveIntegrity = "archive-integrity"
	CheckRemoteReconcile  = "remote-reconcile"
	CheckFreshness        = "session-freshness"
)

// Validate runs every check against one session and reports each by name.
// It never aborts early: a failed check is recorded and the remaining
// checks still run, so one report shows the full picture.
func (op *Operator) Validate(ctx context.Context, ref string) (*ValidationReport, error) {
	id, err := op.sessions.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("locate session: %w", err)
	}

	report := &ValidationReport{
		RunID:     uuid.NewString(),
		SessionID: id,
		RunAt:     time.Now().UTC(),
	}
	sessDir := op.sessions.Dir(id)

	manifest, err := session.LoadManifest(sessDir)
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name:   CheckManifest,
			Detail: err.Error(),
		})
		// Without a manifest the content checks have nothing to verify
		// against; they fail by reference.
		for _, name := range []string{CheckArtifactPresence, CheckSampleDecrypt, CheckArchiveIntegrity, CheckRemoteReconcile} {
			report.Checks = append(report.Checks, CheckResult{Name: name, Detail: "manifest unavailable"})
		}
		report.Checks = append(report.Checks, op.checkFreshness(id))
		report.Passed = false
		op.finishValidation(ctx, report)
		return report, nil
	}
	report.Checks = append(report.Checks, CheckResult{Name: CheckManifest, Passed: true})

	report.Checks = append(report.Checks,
		op.checkArtifactPresence(sessDir, manifest),
		op.checkSampleDecrypt(sessDir, manifest),
		op.checkArchiveIntegrity(sessDir, manifest),
		op.checkRemoteReconcile(ctx, manifest),
		op.checkFreshness(id),
	)

	report.Passed = true
	for _, c := range report.Checks {
		if !c.Passed {
			report.Passed = false
		}
	}
	op.finishValidation(ctx, report)
	return report, nil
}

func (op *Operator) finishValidation(ctx context.Context, report *ValidationReport) {
	if err := op.writeReport(report.RunID+"_validation", report); err != nil {
		op.log.Warn("report write failed", "error", err.Error())
	}
	severity := notifySeverity(len(report.Failures()), 0)
	message := fmt.Sprintf("validation of %s: passed=%t", report.SessionID, report.Passed)
	if failures := report.Failures(); len(failures) > 0 {
		message += " failed=[" + strings.Join(failures, ", ") + "]"
	}
	if err := op.notifier.Notify(ctx, severity, message); err != nil {
		op.log.Warn("notification failed", "error", err.Error())
	}
}

// checkArtifactPresence verifies every referenced artifact exists with the
// recorded checksum.
func (op *Operator) checkArtifactPresence(sessDir string, manifest *session.Manifest) CheckResult {
	var problems []string
	for _, a := range manifest.Artifacts {
		path := filepath.Join(sessDir, filepath.FromSlash(a.EncryptedPath))
		sum, err := session.Checksum(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			continue
		}
		if sum != a.Checksum {
			problems = append(problems, fmt.Sprintf("%s: checksum mismatch", a.Name))
		}
	}
	return checkOutcome(CheckArtifactPresence, problems)
}

// checkSampleDecrypt proves each artifact decrypts with the current key
// without materializing plaintext.
func (op *Operator) checkSampleDecrypt(sessDir string, manifest *session.Manifest) CheckResult {
	var problems []string
	for _, a := range manifest.Artifacts {
		path := filepath.Join(sessDir, filepath.FromSlash(a.EncryptedPath))
		if err := op.crypto.SampleDecrypt(path); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
		}
	}
	return checkOutcome(CheckSampleDecrypt, problems)
}

// checkArchiveIntegrity opens each container artifact and reads it through,
// verifying the format without touching its contents.
func (op *Operator) checkArchiveIntegrity(sessDir string, manifest *session.Manifest) CheckResult {
	var problems []string
	for _, a := range manifest.Artifacts {
		if a.Kind != session.KindFilestore && a.Kind != session.KindConfig {
			continue
		}
		encPath := filepath.Join(sessDir, filepath.FromSlash(a.EncryptedPath))
		tmp, err := os.CreateTemp("", "phoenix-verify-*")
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			continue
		}
		tmp.Close()
		if err := op.crypto.Decrypt(encPath, tmp.Name()); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			os.Remove(tmp.Name())
			continue
		}
		if err := archive.Verify(tmp.Name()); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
		}
		os.Remove(tmp.Name())
	}
	return checkOutcome(CheckArchiveIntegrity, problems)
}

// checkRemoteReconcile lists each destination and reconciles the remote
// objects against the manifest's uploaded records.
func (op *Operator) checkRemoteReconcile(ctx context.Context, manifest *session.Manifest) CheckResult {
	if len(op.uploader.Destinations()) == 0 {
		return CheckResult{Name: CheckRemoteReconcile, Passed: true, Detail: "no destinations configured"}
	}

	var problems []string
	prefix := destination.RemoteKey(manifest.SessionID, "")
	for _, dest := range op.uploader.Destinations() {
		objects, err := dest.List(ctx, prefix)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", dest.Name(), err))
			continue
		}
		expected := 0
		for _, a := range manifest.Artifacts {
			state, ok := a.Uploads[dest.Name()]
			if !ok || state.Status != session.UploadUploaded {
				continue
			}
			expected++
			key := destination.RemoteKey(manifest.SessionID, a.EncryptedPath)
			size, found := objects[key]
			if !found {
				problems = append(problems, fmt.Sprintf("%s: %s missing remotely", dest.Name(), a.Name))
				continue
			}
			if size == 0 {
				problems = append(problems, fmt.Sprintf("%s: %s empty remotely", dest.Name(), a.Name))
			}
		}
		op.log.Debug("remote reconcile",
			"destination", dest.Name(),
			"expected", expected,
			"listed", len(objects),
		)
	}
	sort.Strings(problems)
	return checkOutcome(CheckRemoteReconcile, problems)
}

// checkFreshness verifies the session is within the configured age window.
func (op *Operator) checkFreshness(id string) CheckResult {
	createdAt, err := session.CreatedAtFromID(id)
	if err != nil {
		return CheckResult{Name: CheckFreshness, Detail: err.Error()}
	}
	age := time.Since(createdAt)
	if age > op.cfg.Validation.MaxSessionAge {
		return CheckResult{
			Name:   CheckFreshness,
			Detail: fmt.Sprintf("session is %s old, threshold %s", age.Round(time.Minute), op.cfg.Validation.MaxSessionAge),
		}
	}
	return CheckResult{Name: CheckFreshness, Passed: true}
}

func checkOutcome(name string, problems []string) CheckResult {
	if len(problems) == 0 {
		return CheckResult{Name: name, Passed: true}
	}
	return CheckResult{Name: name, Detail: strings.Join(problems, "; ")}
}
