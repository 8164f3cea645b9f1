package crypto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/kebairia/phoenix/internal/logger"
)

// Suffix is appended to every encrypted artifact path.
const Suffix = ".age"

// ErrKeyNotFound indicates the symmetric key file is missing. Every
// encrypt/decrypt-dependent operation treats this as a hard precondition
// failure.
var ErrKeyNotFound = errors.New("encryption key not found")

// ErrKeyExists is returned by GenerateKey when a key is already present and
// force was not requested. Overwriting the key invalidates every prior
// session's decryptability.
var ErrKeyExists = errors.New("encryption key already exists")

// EncryptionError wraps a cryptographic failure while encrypting.
type EncryptionError struct {
	Path string
	Err  error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encrypt %s: %v", e.Path, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError wraps a cryptographic failure while decrypting, e.g.
// corrupted ciphertext or the wrong key.
type DecryptionError struct {
	Path string
	Err  error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", e.Path, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Service encrypts and decrypts artifacts with one managed X25519 identity
// read from an access-restricted key file. Key material is never logged.
type Service struct {
	keyFile string
	log     logger.Logger
}

// NewService returns a Service bound to the key file at keyFile.
func NewService(keyFile string, log logger.Logger) *Service {
	return &Service{keyFile: keyFile, log: log}
}

// KeyFile returns the configured key path.
func (s *Service) KeyFile() string { return s.keyFile }

// identity loads and parses the key file. The file follows the age-keygen
// layout: comment lines, then one AGE-SECRET-KEY line.
func (s *Service) identity() (*age.X25519Identity, error) {
	f, err := os.Open(s.keyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, s.keyFile)
		}
		return nil, fmt.Errorf("open key file %s: %w", s.keyFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", s.keyFile, err)
		}
		return identity, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file %s: %w", s.keyFile, err)
	}
	return nil, fmt.Errorf("%w: %s holds no identity", ErrKeyNotFound, s.keyFile)
}

// CheckKey verifies the key file exists and parses. Used as a precondition
// check before any run that will need to encrypt or decrypt.
func (s *Service) CheckKey() error {
	_, err := s.identity()
	return err
}

// Encrypt streams src through age into dst. dst is written with owner-only
// permissions.
func (s *Service) Encrypt(src, dst string) error {
	identity, err := s.identity()
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return &EncryptionError{Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &EncryptionError{Path: dst, Err: err}
	}

	w, err := age.Encrypt(out, identity.Recipient())
	if err != nil {
		out.Close()
		os.Remove(dst)
		return &EncryptionError{Path: dst, Err: err}
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		os.Remove(dst)
		return &EncryptionError{Path: dst, Err: err}
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return &EncryptionError{Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return &EncryptionError{Path: dst, Err: err}
	}
	return nil
}

// Decrypt streams the ciphertext at src into dst.
func (s *Service) Decrypt(src, dst string) error {
	identity, err := s.identity()
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return &DecryptionError{Path: src, Err: err}
	}
	defer in.Close()

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return &DecryptionError{Path: src, Err: err}
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &DecryptionError{Path: dst, Err: err}
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dst)
		return &DecryptionError{Path: src, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return &DecryptionError{Path: dst, Err: err}
	}
	return nil
}

// SampleDecrypt reads the ciphertext at src through the decryption stream
// without materializing plaintext on disk. Validation uses it to prove
// decryptability cheaply.
func (s *Service) SampleDecrypt(src string) error {
	identity, err := s.identity()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return &DecryptionError{Path: src, Err: err}
	}
	defer in.Close()

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return &DecryptionError{Path: src, Err: err}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return &DecryptionError{Path: src, Err: err}
	}
	return nil
}

// GenerateKey creates a fresh X25519 identity at path. It refuses to
// overwrite an existing key unless force is set; replacing the key makes all
// prior sessions undecryptable. Returns the public recipient string.
func GenerateKey(path string, force bool) (string, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%w: %s", ErrKeyExists, path)
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("inspect key file %s: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}

	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339),
		identity.Recipient().String(),
		identity.String(),
	)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write key file %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("chmod key file %s: %w", path, err)
	}
	return identity.Recipient().String(), nil
}
