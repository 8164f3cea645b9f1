package producer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kebairia/phoenix/internal/archive"
	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// ConfigProducer bundles each named configuration group into its own
// artifact, so a partial failure affects only that group.
type ConfigProducer struct {
	groups  []config.ConfigGroup
	staging string
	log     logger.Logger
}

// NewConfigProducer bundles groups into stagingDir.
func NewConfigProducer(groups []config.ConfigGroup, stagingDir string, log logger.Logger) *ConfigProducer {
	return &ConfigProducer{groups: groups, staging: stagingDir, log: log}
}

// Produce bundles every group, returning artifacts alongside per-group
// errors.
func (p *ConfigProducer) Produce(ctx context.Context) ([]Artifact, []*Error) {
	var (
		artifacts []Artifact
		errs      []*Error
	)
	for _, g := range p.groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &Error{Kind: session.KindConfig, Name: g.Name, Err: err})
			return artifacts, errs
		}
		artifact, err := p.bundle(ctx, g)
		if err != nil {
			p.log.Error("config bundle failed", "group", g.Name, "error", err.Error())
			errs = append(errs, &Error{Kind: session.KindConfig, Name: g.Name, Err: err})
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, errs
}

func (p *ConfigProducer) bundle(ctx context.Context, g config.ConfigGroup) (Artifact, error) {
	scratch, err := os.MkdirTemp(p.staging, "config-"+g.Name+"-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, src := range g.Paths {
		if err := copyInto(src, scratch); err != nil {
			return Artifact{}, err
		}
	}

	outPath := filepath.Join(p.staging, g.Name+archive.Suffix)
	plainSize, err := archive.Create(ctx, scratch, outPath)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Name:      g.Name,
		Kind:      session.KindConfig,
		Path:      outPath,
		SizeBytes: plainSize,
	}, nil
}

// copyInto copies a file or directory tree under destDir, keeping the base
// name.
func copyInto(src, destDir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	base := filepath.Base(src)
	if !info.IsDir() {
		return copyFile(src, filepath.Join(destDir, base), info.Mode().Perm())
	}
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, base, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode().Perm())
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, fi.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
