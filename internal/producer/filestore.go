package producer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kebairia/phoenix/internal/archive"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// FilestoreName is the logical name of the single filestore artifact.
const FilestoreName = "filestore"

// FilestoreProducer archives the bulk file-storage tree into one
// compressed artifact.
type FilestoreProducer struct {
	root    string
	staging string
	log     logger.Logger
}

// NewFilestoreProducer archives root into stagingDir.
func NewFilestoreProducer(root, stagingDir string, log logger.Logger) *FilestoreProducer {
	return &FilestoreProducer{root: root, staging: stagingDir, log: log}
}

// Produce builds the filestore archive. A failure is reported, not fatal:
// the orchestrator continues with the remaining backup steps.
func (p *FilestoreProducer) Produce(ctx context.Context) ([]Artifact, []*Error) {
	if p.root == "" {
		return nil, nil
	}
	if _, err := os.Stat(p.root); err != nil {
		return nil, []*Error{{Kind: session.KindFilestore, Name: FilestoreName, Err: err}}
	}

	outPath := filepath.Join(p.staging, FilestoreName+archive.Suffix)
	plainSize, err := archive.Create(ctx, p.root, outPath)
	if err != nil {
		p.log.Error("filestore archive failed", "root", p.root, "error", err.Error())
		return nil, []*Error{{Kind: session.KindFilestore, Name: FilestoreName, Err: err}}
	}
	return []Artifact{{
		Name:      FilestoreName,
		Kind:      session.KindFilestore,
		Path:      outPath,
		SizeBytes: plainSize,
	}}, nil
}
