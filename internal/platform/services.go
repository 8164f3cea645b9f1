// Package platform is the boundary to the platform's own
// service-management layer: stopping and starting dependent services and
// probing their liveness during a recovery.
package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
)

// ServiceController is invoked as an opaque collaborator by the recovery
// orchestrator.
type ServiceController interface {
	StopServices(ctx context.Context) error
	StartServices(ctx context.Context) error
	// HealthCheck runs every probe and returns one error per failed probe.
	HealthCheck(ctx context.Context) []error
}

// ExecController shells out to the configured service-management commands.
type ExecController struct {
	stopCommand  []string
	startCommand []string
	healthChecks [][]string
	timeout      time.Duration
	log          logger.Logger
}

var _ ServiceController = (*ExecController)(nil)

// NewExecController builds a controller from the services configuration.
func NewExecController(cfg config.ServicesConfig, log logger.Logger) *ExecController {
	return &ExecController{
		stopCommand:  cfg.StopCommand,
		startCommand: cfg.StartCommand,
		healthChecks: cfg.HealthChecks,
		timeout:      cfg.Timeout,
		log:          log,
	}
}

func (c *ExecController) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %q: %w", argv[0], err)
	}
	return nil
}

func (c *ExecController) StopServices(ctx context.Context) error {
	c.log.Info("stopping dependent services")
	return c.run(ctx, c.stopCommand)
}

func (c *ExecController) StartServices(ctx context.Context) error {
	c.log.Info("starting dependent services")
	return c.run(ctx, c.startCommand)
}

func (c *ExecController) HealthCheck(ctx context.Context) []error {
	var errs []error
	for _, probe := range c.healthChecks {
		if err := c.run(ctx, probe); err != nil {
			errs = append(errs, fmt.Errorf("health probe %v: %w", probe, err))
		}
	}
	return errs
}

// NoopController records calls without touching anything. Dry-run
// recoveries and the test harness use it.
type NoopController struct {
	mu      sync.Mutex
	Stopped int
	Started int
	Probed  int
}

var _ ServiceController = (*NoopController)(nil)

func (c *NoopController) StopServices(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Stopped++
	return nil
}

func (c *NoopController) StartServices(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Started++
	return nil
}

func (c *NoopController) HealthCheck(ctx context.Context) []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Probed++
	return nil
}
