package database

import (
	"context"
	"errors"
)

var (
	ErrTimeout       = errors.New("operation timed out")
	ErrDumpFailed    = errors.New("dump failed")
	ErrRestoreFailed = errors.New("restore failed")
)

// Credentials authenticate an engine, sourced either statically from the
// configuration or dynamically from Vault.
type Credentials struct {
	Username string
	Password string
}

// Engine adapts one database server. Producers and the recovery
// orchestrator depend on this interface, never on a spawned command string.
type Engine interface {
	Name() string
	// ListDatabases enumerates the non-template, non-system databases.
	ListDatabases(ctx context.Context) ([]string, error)
	// Dump writes one database into outPath.
	Dump(ctx context.Context, db, outPath string) error
	// Restore drops and recreates db, then loads the dump into it.
	Restore(ctx context.Context, db, dumpPath string) error
	// Drop removes a database. Used by the test harness teardown.
	Drop(ctx context.Context, db string) error
	// Ping verifies the server is reachable and queryable.
	Ping(ctx context.Context) error
}
