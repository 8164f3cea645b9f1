package producer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kebairia/phoenix/internal/database"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/session"
)

// DatabaseProducer dumps every non-template database of every configured
// engine into the staging area. A failure on one database is recorded and
// skipped; remaining databases are still dumped.
type DatabaseProducer struct {
	engines []database.Engine
	staging string
	log     logger.Logger
}

// NewDatabaseProducer returns a producer staging into stagingDir.
func NewDatabaseProducer(engines []database.Engine, stagingDir string, log logger.Logger) *DatabaseProducer {
	return &DatabaseProducer{engines: engines, staging: stagingDir, log: log}
}

// Produce dumps all databases, returning artifacts alongside per-item
// errors.
func (p *DatabaseProducer) Produce(ctx context.Context) ([]Artifact, []*Error) {
	var (
		artifacts []Artifact
		errs      []*Error
	)
	for _, engine := range p.engines {
		dbs, err := engine.ListDatabases(ctx)
		if err != nil {
			errs = append(errs, &Error{Kind: session.KindDatabase, Name: engine.Name(), Err: err})
			continue
		}
		for _, db := range dbs {
			if err := ctx.Err(); err != nil {
				errs = append(errs, &Error{Kind: session.KindDatabase, Name: db, Err: err})
				return artifacts, errs
			}
			outPath := filepath.Join(p.staging, fmt.Sprintf("%s-%s.dump", engine.Name(), db))
			if err := engine.Dump(ctx, db, outPath); err != nil {
				p.log.Error("database dump failed", "engine", engine.Name(), "database", db, "error", err.Error())
				errs = append(errs, &Error{Kind: session.KindDatabase, Name: db, Err: err})
				continue
			}
			info, err := os.Stat(outPath)
			if err != nil {
				errs = append(errs, &Error{Kind: session.KindDatabase, Name: db, Err: err})
				continue
			}
			artifacts = append(artifacts, Artifact{
				Name:      db,
				Kind:      session.KindDatabase,
				Engine:    engine.Name(),
				Path:      outPath,
				SizeBytes: info.Size(),
			})
		}
	}
	return artifacts, errs
}
