package database

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/vault"
)

// credentialsFor resolves engine credentials: dynamic from Vault when a
// client and role name are configured, static from the config otherwise.
func credentialsFor(
	ctx context.Context,
	cfg *config.Config,
	engineCfg config.EngineConfig,
	vaultClient *vault.Client,
) (Credentials, error) {
	if vaultClient != nil && engineCfg.RoleName != "" {
		rolePath := filepath.Join(cfg.Vault.RoleBase, engineCfg.RoleName)
		creds, err := vaultClient.GetDynamicCredentials(ctx, rolePath)
		if err != nil {
			return Credentials{}, fmt.Errorf("vault read: %w", err)
		}
		return Credentials{Username: creds.Username, Password: creds.Password}, nil
	}
	return Credentials{Username: engineCfg.Username, Password: engineCfg.Password}, nil
}

// InitializeEngines builds the configured database engines.
func InitializeEngines(
	ctx context.Context,
	cfg *config.Config,
	vaultClient *vault.Client,
	log logger.Logger,
) ([]Engine, error) {
	var engines []Engine

	if cfg.Postgres.Enabled {
		creds, err := credentialsFor(ctx, cfg, cfg.Postgres, vaultClient)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		engines = append(engines, NewPostgres(
			WithPostgresHost(cfg.Postgres.Host),
			WithPostgresPort(cfg.Postgres.Port),
			WithPostgresCredentials(creds),
			WithPostgresTimeout(cfg.Postgres.Timeout),
			WithPostgresLogger(log),
		))
	}

	if cfg.MySQL.Enabled {
		creds, err := credentialsFor(ctx, cfg, cfg.MySQL, vaultClient)
		if err != nil {
			return nil, fmt.Errorf("initialize mysql: %w", err)
		}
		engines = append(engines, NewMySQL(
			WithMySQLHost(cfg.MySQL.Host),
			WithMySQLPort(cfg.MySQL.Port),
			WithMySQLCredentials(creds),
			WithMySQLTimeout(cfg.MySQL.Timeout),
			WithMySQLLogger(log),
		))
	}

	return engines, nil
}
