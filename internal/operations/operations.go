// Package operations drives the top-level runs: backup, validation,
// recovery, and the self-test harness. Each run is a single sequential
// invocation triggered externally; per-item failures are captured into the
// run's report, and only precondition or mutual-exclusion violations abort.
package operations

import (
	"context"
	"fmt"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/crypto"
	"github.com/kebairia/phoenix/internal/database"
	"github.com/kebairia/phoenix/internal/destination"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/notify"
	"github.com/kebairia/phoenix/internal/platform"
	"github.com/kebairia/phoenix/internal/session"
	"github.com/kebairia/phoenix/internal/vault"
)

// Operator wires the components of one platform instance together.
type Operator struct {
	cfg      *config.Config
	log      logger.Logger
	crypto   *crypto.Service
	sessions *session.Manager
	engines  []database.Engine
	uploader *destination.Uploader
	notifier notify.Notifier
	services platform.ServiceController
}

// Option overrides a component, mainly for tests and the harness.
type Option func(*Operator)

// WithEngines injects the database engines.
func WithEngines(engines []database.Engine) Option {
	return func(op *Operator) { op.engines = engines }
}

// WithDestinations injects the remote storage adapters.
func WithDestinations(dests []destination.Destination) Option {
	return func(op *Operator) {
		op.uploader = destination.NewUploader(
			dests,
			op.cfg.Destinations.MaxAttempts,
			op.cfg.Destinations.InitialInterval,
			op.log,
		)
	}
}

// WithNotifier injects the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(op *Operator) { op.notifier = n }
}

// WithServices injects the service lifecycle controller.
func WithServices(s platform.ServiceController) Option {
	return func(op *Operator) { op.services = s }
}

// NewOperator builds an Operator from the configuration, constructing any
// component not supplied by an option.
func NewOperator(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Operator, error) {
	op := &Operator{
		cfg:      cfg,
		log:      log,
		crypto:   crypto.NewService(cfg.Encryption.KeyFile, log),
		sessions: session.NewManager(cfg.Backup.SessionRoot),
	}
	for _, opt := range opts {
		opt(op)
	}

	if op.engines == nil {
		var vaultClient *vault.Client
		if cfg.Vault.Address != "" {
			var err error
			vaultClient, err = vault.NewClient(ctx,
				vault.WithAddress(cfg.Vault.Address),
				vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
			)
			if err != nil {
				return nil, fmt.Errorf("vault client init: %w", err)
			}
		}
		engines, err := database.InitializeEngines(ctx, cfg, vaultClient, log)
		if err != nil {
			return nil, err
		}
		op.engines = engines
	}

	if op.uploader == nil {
		dests, err := buildDestinations(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		op.uploader = destination.NewUploader(
			dests,
			cfg.Destinations.MaxAttempts,
			cfg.Destinations.InitialInterval,
			log,
		)
	}

	if op.notifier == nil {
		op.notifier = notify.NewFromConfig(cfg.Notify, log)
	}
	if op.services == nil {
		op.services = platform.NewExecController(cfg.Services, log)
	}
	return op, nil
}

func buildDestinations(ctx context.Context, cfg *config.Config, log logger.Logger) ([]destination.Destination, error) {
	var dests []destination.Destination
	if cfg.Destinations.S3 != nil {
		s3Dest, err := destination.NewS3Destination(ctx, cfg.Destinations.S3, log)
		if err != nil {
			return nil, fmt.Errorf("initialize s3 destination: %w", err)
		}
		dests = append(dests, s3Dest)
	}
	if cfg.Destinations.GCS != nil {
		gcsDest, err := destination.NewGCSDestination(ctx, cfg.Destinations.GCS, log)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs destination: %w", err)
		}
		dests = append(dests, gcsDest)
	}
	return dests, nil
}

// notifySeverity maps a terminal status onto a notification severity.
func notifySeverity(errors, warnings int) notify.Severity {
	switch {
	case errors > 0:
		return notify.SeverityCritical
	case warnings > 0:
		return notify.SeverityWarning
	default:
		return notify.SeverityInfo
	}
}
