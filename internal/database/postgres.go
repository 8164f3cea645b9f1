package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kebairia/phoenix/internal/logger"
)

const EnginePostgres = "postgres"

// PostgresOption lets you override default settings on a Postgres.
type PostgresOption func(*Postgres)

// Postgres dumps and restores PostgreSQL databases through the client
// tools (pg_dump, pg_restore, psql).
type Postgres struct {
	Username string
	Password string
	Host     string
	Port     string
	Timeout  time.Duration
	Logger   logger.Logger
}

// NewPostgres returns a Postgres configured with the given overrides.
func NewPostgres(opts ...PostgresOption) *Postgres {
	p := &Postgres{
		Host:    "localhost",
		Port:    "5432",
		Timeout: 15 * time.Minute,
		Logger:  logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithPostgresHost overrides the host.
func WithPostgresHost(host string) PostgresOption {
	return func(p *Postgres) {
		if host != "" {
			p.Host = host
		}
	}
}

// WithPostgresPort overrides the port.
func WithPostgresPort(port string) PostgresOption {
	return func(p *Postgres) {
		if port != "" {
			p.Port = port
		}
	}
}

// WithPostgresCredentials sets username and password.
func WithPostgresCredentials(creds Credentials) PostgresOption {
	return func(p *Postgres) {
		if creds.Username != "" {
			p.Username = creds.Username
		}
		if creds.Password != "" {
			p.Password = creds.Password
		}
	}
}

// WithPostgresTimeout overrides the per-operation timeout.
func WithPostgresTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d > 0 {
			p.Timeout = d
		}
	}
}

// WithPostgresLogger injects a logger.
func WithPostgresLogger(log logger.Logger) PostgresOption {
	return func(p *Postgres) {
		if log != nil {
			p.Logger = log
		}
	}
}

func (p *Postgres) Name() string { return EnginePostgres }

func (p *Postgres) env() []string {
	return append(os.Environ(), "PGPASSWORD="+p.Password)
}

func (p *Postgres) connArgs() []string {
	return []string{"-h", p.Host, "-p", p.Port, "-U", p.Username}
}

// psql runs one statement against the maintenance database and returns its
// stdout.
func (p *Postgres) psql(ctx context.Context, statement string) (string, error) {
	args := append(p.connArgs(), "-d", "postgres", "-At", "-c", statement)
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = p.env()

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("psql: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// ListDatabases enumerates all non-template databases except the
// maintenance database itself.
func (p *Postgres) ListDatabases(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
	defer cancel()

	out, err := p.psql(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false AND datname <> 'postgres'")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	var dbs []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			dbs = append(dbs, name)
		}
	}
	return dbs, nil
}

// Dump runs pg_dump in custom format into outPath.
func (p *Postgres) Dump(ctx context.Context, db, outPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
	defer cancel()

	args := append(p.connArgs(), "-d", db, "-F", "custom", "-f", outPath)
	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = p.env()
	cmd.Stderr = os.Stderr

	p.Logger.Info("dump started", "database", db, "engine", EnginePostgres, "path", outPath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: pg_dump %s: %v", ErrDumpFailed, db, err)
	}
	p.Logger.Info("dump completed",
		"database", db,
		"engine", EnginePostgres,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Restore drops and recreates db, then loads the dump with pg_restore.
func (p *Postgres) Restore(ctx context.Context, db, dumpPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
	defer cancel()

	if _, err := os.Stat(dumpPath); err != nil {
		return fmt.Errorf("%w: dump %q not found: %v", ErrRestoreFailed, dumpPath, err)
	}

	if err := p.Drop(ctx, db); err != nil {
		return err
	}
	if _, err := p.psql(ctx, fmt.Sprintf("CREATE DATABASE %q", db)); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrRestoreFailed, db, err)
	}

	args := append(p.connArgs(), "-d", db, dumpPath)
	cmd := exec.CommandContext(ctx, "pg_restore", args...)
	cmd.Env = p.env()
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	p.Logger.Info("restore started", "database", db, "engine", EnginePostgres, "source", dumpPath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: pg_restore %s: %v", ErrRestoreFailed, db, err)
	}
	p.Logger.Info("restore completed",
		"database", db,
		"engine", EnginePostgres,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Drop removes a database if it exists.
func (p *Postgres) Drop(ctx context.Context, db string) error {
	if _, err := p.psql(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %q", db)); err != nil {
		return fmt.Errorf("drop %s: %w", db, err)
	}
	return nil
}

// Ping verifies the server answers a trivial query.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
	defer cancel()
	if _, err := p.psql(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
