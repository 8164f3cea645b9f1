// Package session owns the on-disk layout and lifecycle of backup sessions:
// sortable session identifiers, the session directory tree, and the manifest
// that validation and recovery consult.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artifact group subdirectories inside a session.
const (
	DirDatabases = "databases"
	DirFilestore = "filestore"
	DirConfigs   = "configs"
)

// Session status values. A session is mutated only by the backup run that
// owns it and is immutable once marked success or failed.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

const (
	idPrefix        = "s_"
	idTimeFormat    = "20060102_150405"
	idSuffixLength  = 6
)

// ErrNoSessions is returned when latest-session resolution finds nothing.
var ErrNoSessions = errors.New("no sessions found")

// NewID builds a session identifier from the given time plus a
// process-unique suffix. Identifiers sort lexicographically by creation time.
func NewID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:idSuffixLength]
	return idPrefix + t.UTC().Format(idTimeFormat) + "_" + suffix
}

// IsID reports whether name looks like a session identifier.
func IsID(name string) bool {
	if !strings.HasPrefix(name, idPrefix) {
		return false
	}
	rest := strings.TrimPrefix(name, idPrefix)
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return false
	}
	_, err := time.Parse(idTimeFormat, parts[0]+"_"+parts[1])
	return err == nil
}

// CreatedAtFromID recovers the creation timestamp encoded in a session ID.
func CreatedAtFromID(id string) (time.Time, error) {
	rest := strings.TrimPrefix(id, idPrefix)
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed session id %q", id)
	}
	ts, err := time.Parse(idTimeFormat, parts[0]+"_"+parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed session id %q: %w", id, err)
	}
	return ts.UTC(), nil
}

// Less is the total order over session identifiers: timestamp first, suffix
// as tie-break. Because IDs are zero-padded it coincides with string order.
func Less(a, b string) bool { return a < b }

// Latest returns the most recent identifier under the Less ordering.
func Latest(ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrNoSessions
	}
	latest := ids[0]
	for _, id := range ids[1:] {
		if Less(latest, id) {
			latest = id
		}
	}
	return latest, nil
}

// Session is one backup attempt on disk.
type Session struct {
	ID                    string
	Dir                   string
	CreatedAt             time.Time
	Status                string
	DestinationsRequested []string
}

// Manager creates, lists, and sweeps sessions under one root directory.
// Concurrent backup runs operate on distinct session directories.
type Manager struct {
	root string
}

// NewManager returns a Manager rooted at root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the session root directory.
func (m *Manager) Root() string { return m.root }

// Dir returns the directory for a session id without checking existence.
func (m *Manager) Dir(id string) string { return filepath.Join(m.root, id) }

// Create allocates a new in-progress session with its artifact group
// subdirectories.
func (m *Manager) Create(now time.Time, destinations []string) (*Session, error) {
	id := NewID(now)
	dir := m.Dir(id)
	for _, sub := range []string{DirDatabases, DirFilestore, DirConfigs} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create session directory %s: %w", dir, err)
		}
	}
	return &Session{
		ID:                    id,
		Dir:                   dir,
		CreatedAt:             now.UTC(),
		Status:                StatusInProgress,
		DestinationsRequested: destinations,
	}, nil
}

// List returns all session identifiers under the root, sorted ascending.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session root %s: %w", m.root, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && IsID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest resolves the most recent session identifier.
func (m *Manager) Latest() (string, error) {
	ids, err := m.List()
	if err != nil {
		return "", err
	}
	return Latest(ids)
}

// Resolve turns a session reference ("" or "latest" meaning most recent)
// into a concrete identifier whose directory exists.
func (m *Manager) Resolve(ref string) (string, error) {
	if ref == "" || ref == "latest" {
		return m.Latest()
	}
	if _, err := os.Stat(m.Dir(ref)); err != nil {
		return "", fmt.Errorf("session %s: %w", ref, err)
	}
	return ref, nil
}

// Sweep removes the oldest sessions beyond keepLast and returns the removed
// identifiers. keepLast <= 0 disables the sweep.
func (m *Manager) Sweep(keepLast int) ([]string, error) {
	if keepLast <= 0 {
		return nil, nil
	}
	ids, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(ids) <= keepLast {
		return nil, nil
	}
	victims := ids[:len(ids)-keepLast]
	for _, id := range victims {
		if err := os.RemoveAll(m.Dir(id)); err != nil {
			return nil, fmt.Errorf("remove session %s: %w", id, err)
		}
	}
	return victims, nil
}
