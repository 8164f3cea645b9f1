package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/phoenix/internal/session"
)

// BackupReport summarizes one backup run.
type BackupReport struct {
	RunID         string                   `json:"run_id"`
	SessionID     string                   `json:"session_id"`
	StartedAt     time.Time                `json:"started_at"`
	CompletedAt   time.Time                `json:"completed_at"`
	Status        string                   `json:"status"`
	Destinations  []string                 `json:"destinations,omitempty"`
	Artifacts     []session.ArtifactRecord `json:"artifacts"`
	Errors        []string                 `json:"errors,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	SweptSessions []string                 `json:"swept_sessions,omitempty"`
}

// CheckResult is one named validation check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationReport aggregates every check of one validation run. Running
// validation twice against an unchanged session yields identical reports
// (modulo run identity and timestamps).
type ValidationReport struct {
	RunID     string        `json:"run_id"`
	SessionID string        `json:"session_id"`
	RunAt     time.Time     `json:"run_at"`
	Passed    bool          `json:"passed"`
	Checks    []CheckResult `json:"checks"`
}

// Failures lists the names of the failed checks.
func (r *ValidationReport) Failures() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Recovery outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial-failure"
	OutcomeFatal          = "fatal"
)

// RecoveryReport is always produced, whether the run succeeded, partially
// failed, or hit a fatal error.
type RecoveryReport struct {
	RunID        string    `json:"run_id"`
	Mode         string    `json:"mode"`
	SessionID    string    `json:"session_id,omitempty"`
	DryRun       bool      `json:"dry_run"`
	SnapshotDir  string    `json:"snapshot_dir,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Outcome      string    `json:"outcome"`
	Steps        []string  `json:"steps"`
	Errors       []string  `json:"errors,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	FallbackHint string    `json:"fallback_hint,omitempty"`
}

// Subtest statuses.
const (
	SubtestPass = "pass"
	SubtestFail = "fail"
	SubtestSkip = "skip"
)

// SubtestResult is one harness sub-test.
type SubtestResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ms"`
	Message  string        `json:"message,omitempty"`
}

// TestReport summarizes one harness run.
type TestReport struct {
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Passed      bool            `json:"passed"`
	Results     []SubtestResult `json:"results"`
}

// writeReport serializes a run report into the reports directory.
func (op *Operator) writeReport(name string, v any) error {
	dir := op.cfg.Recovery.ReportsDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reports directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report %s: %w", path, err)
	}
	return nil
}
