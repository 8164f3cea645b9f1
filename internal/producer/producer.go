// Package producer emits the plaintext artifacts of one backup run: one
// dump per database, one archive of the filestore, and one bundle per
// configuration group. Producers stage into a scratch directory; the
// orchestrator encrypts each artifact immediately and discards the
// plaintext.
package producer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kebairia/phoenix/internal/session"
)

// Producer is implemented by the three artifact producers.
type Producer interface {
	Produce(ctx context.Context) ([]Artifact, []*Error)
}

// Artifact is one plaintext artifact in the staging area.
type Artifact struct {
	Name      string
	Kind      string
	Engine    string
	Path      string
	SizeBytes int64
}

// Error records one failed artifact. Producer runs are partial-failure
// tolerant: a failed item is recorded and the run continues.
type Error struct {
	Kind string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("produce %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// group maps an artifact kind to its session subdirectory.
func group(kind string) string {
	switch kind {
	case session.KindDatabase:
		return session.DirDatabases
	case session.KindFilestore:
		return session.DirFilestore
	default:
		return session.DirConfigs
	}
}

// SessionPath is the artifact's path relative to the session root once
// encrypted.
func (a Artifact) SessionPath(encSuffix string) string {
	return group(a.Kind) + "/" + filepath.Base(a.Path) + encSuffix
}
