package database

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kebairia/phoenix/internal/logger"
)

const EngineMySQL = "mysql"

// Schemas owned by the server, never part of a platform backup.
var mysqlSystemSchemas = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// MySQLOption lets you override default settings on a MySQL.
type MySQLOption func(*MySQL)

// MySQL dumps and restores MySQL databases through mysqldump and the mysql
// client.
type MySQL struct {
	Username string
	Password string
	Host     string
	Port     string
	Timeout  time.Duration
	Logger   logger.Logger
}

// NewMySQL returns a MySQL configured with the given overrides.
func NewMySQL(opts ...MySQLOption) *MySQL {
	m := &MySQL{
		Host:    "localhost",
		Port:    "3306",
		Timeout: 15 * time.Minute,
		Logger:  logger.Global(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMySQLHost overrides the host.
func WithMySQLHost(host string) MySQLOption {
	return func(m *MySQL) {
		if host != "" {
			m.Host = host
		}
	}
}

// WithMySQLPort overrides the port.
func WithMySQLPort(port string) MySQLOption {
	return func(m *MySQL) {
		if port != "" {
			m.Port = port
		}
	}
}

// WithMySQLCredentials sets username and password.
func WithMySQLCredentials(creds Credentials) MySQLOption {
	return func(m *MySQL) {
		if creds.Username != "" {
			m.Username = creds.Username
		}
		if creds.Password != "" {
			m.Password = creds.Password
		}
	}
}

// WithMySQLTimeout overrides the per-operation timeout.
func WithMySQLTimeout(d time.Duration) MySQLOption {
	return func(m *MySQL) {
		if d > 0 {
			m.Timeout = d
		}
	}
}

// WithMySQLLogger injects a logger.
func WithMySQLLogger(log logger.Logger) MySQLOption {
	return func(m *MySQL) {
		if log != nil {
			m.Logger = log
		}
	}
}

func (m *MySQL) Name() string { return EngineMySQL }

func (m *MySQL) connArgs() []string {
	// MYSQL_PWD keeps the password off the process command line.
	return []string{"-h", m.Host, "-P", m.Port, "-u", m.Username}
}

func (m *MySQL) env() []string {
	return append(os.Environ(), "MYSQL_PWD="+m.Password)
}

func (m *MySQL) query(ctx context.Context, statement string) (string, error) {
	args := append(m.connArgs(), "-N", "-e", statement)
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Env = m.env()

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mysql: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// ListDatabases enumerates all schemas except the server-owned ones.
func (m *MySQL) ListDatabases(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	out, err := m.query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	var dbs []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if _, system := mysqlSystemSchemas[name]; system {
			continue
		}
		dbs = append(dbs, name)
	}
	return dbs, nil
}

// Dump runs mysqldump into outPath.
func (m *MySQL) Dump(ctx context.Context, db, outPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrDumpFailed, outPath, err)
	}
	defer out.Close()

	args := append(m.connArgs(), "--single-transaction", "--routines", db)
	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	cmd.Env = m.env()
	cmd.Stdout = out
	cmd.Stderr = os.Stderr

	m.Logger.Info("dump started", "database", db, "engine", EngineMySQL, "path", outPath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("%w: mysqldump %s: %v", ErrDumpFailed, db, err)
	}
	m.Logger.Info("dump completed",
		"database", db,
		"engine", EngineMySQL,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Restore drops and recreates db, then feeds the dump through the client.
func (m *MySQL) Restore(ctx context.Context, db, dumpPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	in, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("%w: dump %q not found: %v", ErrRestoreFailed, dumpPath, err)
	}
	defer in.Close()

	if err := m.Drop(ctx, db); err != nil {
		return err
	}
	if _, err := m.query(ctx, fmt.Sprintf("CREATE DATABASE `%s`", db)); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrRestoreFailed, db, err)
	}

	args := append(m.connArgs(), db)
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Env = m.env()
	cmd.Stdin = in
	cmd.Stderr = os.Stderr

	m.Logger.Info("restore started", "database", db, "engine", EngineMySQL, "source", dumpPath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: mysql load %s: %v", ErrRestoreFailed, db, err)
	}
	m.Logger.Info("restore completed",
		"database", db,
		"engine", EngineMySQL,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Drop removes a database if it exists.
func (m *MySQL) Drop(ctx context.Context, db string) error {
	if _, err := m.query(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", db)); err != nil {
		return fmt.Errorf("drop %s: %w", db, err)
	}
	return nil
}

// Ping verifies the server answers a trivial query.
func (m *MySQL) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()
	if _, err := m.query(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}
