package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestFilename sits at the session root.
const ManifestFilename = "manifest.json"

// Artifact kinds.
const (
	KindDatabase  = "database"
	KindFilestore = "filestore"
	KindConfig    = "config"
)

// Per-destination upload states.
const (
	UploadPending  = "pending"
	UploadUploaded = "uploaded"
	UploadFailed   = "failed"
)

// UploadState records the outcome of replicating one artifact to one
// destination.
type UploadState struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// ArtifactRecord is one entry per produced artifact. EncryptedPath is
// relative to the session root so the manifest stays valid when a session is
// downloaded from a remote destination.
type ArtifactRecord struct {
	Name           string                 `json:"name"`
	Kind           string                 `json:"kind"`
	Engine         string                 `json:"engine,omitempty"`
	PlainSizeBytes int64                  `json:"plain_size_bytes"`
	EncryptedPath  string                 `json:"encrypted_path"`
	Checksum       string                 `json:"checksum"`
	Uploads        map[string]UploadState `json:"uploads,omitempty"`
}

// Manifest is the single source of truth for one session. It is written
// once, when the backup run completes (success or partial failure), and
// read by validation and recovery.
type Manifest struct {
	SessionID    string           `json:"session_id"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	Status       string           `json:"status"`
	Destinations []string         `json:"destinations,omitempty"`
	Artifacts    []ArtifactRecord `json:"artifacts"`
	Errors       []string         `json:"errors,omitempty"`
}

// ArtifactsOfKind filters the records by kind.
func (m *Manifest) ArtifactsOfKind(kind string) []ArtifactRecord {
	var out []ArtifactRecord
	for _, a := range m.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Write serializes the manifest into dir.
func (m *Manifest) Write(dir string) error {
	path := filepath.Join(dir, ManifestFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest from a session directory.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFilename)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// Checksum computes the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
