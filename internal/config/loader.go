package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config is the top-level configuration. It is constructed once at process
// start and passed by reference into every component constructor; no
// component reads ambient state directly.
type Config struct {
	Include      []string          `mapstructure:"include"      yaml:"include,omitempty"`
	Backup       BackupConfig      `mapstructure:"backup"       yaml:"backup"`
	Encryption   EncryptionConfig  `mapstructure:"encryption"   yaml:"encryption"`
	Retention    RetentionConfig   `mapstructure:"retention"    yaml:"retention"`
	Filestore    FilestoreConfig   `mapstructure:"filestore"    yaml:"filestore"`
	ConfigGroups []ConfigGroup     `mapstructure:"config_groups" yaml:"config_groups"`
	Destinations DestinationsConf  `mapstructure:"destinations" yaml:"destinations"`
	Postgres     EngineConfig      `mapstructure:"postgres"     yaml:"postgres"`
	MySQL        EngineConfig      `mapstructure:"mysql"        yaml:"mysql"`
	Vault        VaultConfig       `mapstructure:"vault"        yaml:"vault"`
	Services     ServicesConfig    `mapstructure:"services"     yaml:"services"`
	Notify       NotifyConfig      `mapstructure:"notify"       yaml:"notify"`
	Validation   ValidationConfig  `mapstructure:"validation"   yaml:"validation"`
	Recovery     RecoveryConfig    `mapstructure:"recovery"     yaml:"recovery"`
}

// BackupConfig contains global backup session options.
type BackupConfig struct {
	SessionRoot     string        `mapstructure:"session_root"     yaml:"session_root"`
	StagingDir      string        `mapstructure:"staging_dir"      yaml:"staging_dir"`
	TimestampFormat string        `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	Timeout         time.Duration `mapstructure:"timeout"          yaml:"timeout"`
}

// EncryptionConfig locates the symmetric key file.
type EncryptionConfig struct {
	KeyFile string `mapstructure:"key_file" yaml:"key_file"`
}

// RetentionConfig specifies how many local sessions to keep. Remote copies
// follow the destinations' own lifecycle policies.
type RetentionConfig struct {
	KeepLast int `mapstructure:"keep_last" yaml:"keep_last"`
}

// FilestoreConfig points at the bulk file-storage tree.
type FilestoreConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// ConfigGroup is one named bundle of configuration files, e.g. proxy or TLS
// material. Target is where a recovery extracts the bundle back to.
type ConfigGroup struct {
	Name   string   `mapstructure:"name"   yaml:"name"`
	Paths  []string `mapstructure:"paths"  yaml:"paths"`
	Target string   `mapstructure:"target" yaml:"target"`
}

// DestinationsConf holds the remote storage adapters and upload policy.
type DestinationsConf struct {
	MaxAttempts     int           `mapstructure:"max_attempts"     yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	S3              *S3Config     `mapstructure:"s3"               yaml:"s3,omitempty"`
	GCS             *GCSConfig    `mapstructure:"gcs"              yaml:"gcs,omitempty"`
}

// S3Config configures the S3 object store adapter.
type S3Config struct {
	Bucket  string `mapstructure:"bucket"  yaml:"bucket"`
	Region  string `mapstructure:"region"  yaml:"region"`
	Profile string `mapstructure:"profile" yaml:"profile,omitempty"`
}

// GCSConfig configures the Google Cloud Storage adapter.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"           yaml:"bucket"`
	Project         string `mapstructure:"project"          yaml:"project"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// EngineConfig provides connection settings for one database engine.
type EngineConfig struct {
	Enabled  bool          `mapstructure:"enabled"   yaml:"enabled"`
	Host     string        `mapstructure:"host"      yaml:"host,omitempty"`
	Port     string        `mapstructure:"port"      yaml:"port,omitempty"`
	Username string        `mapstructure:"username"  yaml:"username,omitempty"`
	Password string        `mapstructure:"password"  yaml:"password,omitempty"`
	RoleName string        `mapstructure:"role_name" yaml:"role_name,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout"   yaml:"timeout,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When Address is
// empty the engines fall back to the static credentials in their EngineConfig.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
	RoleBase string `mapstructure:"role_base" yaml:"role_base,omitempty"`
}

// ServicesConfig describes how to stop, start, and probe the platform's
// dependent services during a recovery.
type ServicesConfig struct {
	StopCommand   []string      `mapstructure:"stop_command"   yaml:"stop_command,omitempty"`
	StartCommand  []string      `mapstructure:"start_command"  yaml:"start_command,omitempty"`
	HealthChecks  [][]string    `mapstructure:"health_checks"  yaml:"health_checks,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout,omitempty"`
}

// NotifyConfig configures the notification sink.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout"     yaml:"timeout,omitempty"`
}

// ValidationConfig tunes the validation engine.
type ValidationConfig struct {
	MaxSessionAge time.Duration `mapstructure:"max_session_age" yaml:"max_session_age"`
}

// RecoveryConfig holds recovery-scoped paths.
type RecoveryConfig struct {
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	ReportsDir  string `mapstructure:"reports_dir"  yaml:"reports_dir"`
	MarkerFile  string `mapstructure:"marker_file"  yaml:"marker_file,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Backup.TimestampFormat == "" {
		c.Backup.TimestampFormat = "20060102_150405"
	}
	if c.Backup.Timeout == 0 {
		c.Backup.Timeout = 30 * time.Minute
	}
	if c.Destinations.MaxAttempts == 0 {
		c.Destinations.MaxAttempts = 4
	}
	if c.Destinations.InitialInterval == 0 {
		c.Destinations.InitialInterval = 2 * time.Second
	}
	if c.Validation.MaxSessionAge == 0 {
		c.Validation.MaxSessionAge = 36 * time.Hour
	}
	if c.Services.Timeout == 0 {
		c.Services.Timeout = 2 * time.Minute
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Backup.StagingDir == "" && c.Backup.SessionRoot != "" {
		c.Backup.StagingDir = c.Backup.SessionRoot + "/.staging"
	}
	if c.Recovery.SnapshotDir == "" && c.Backup.SessionRoot != "" {
		c.Recovery.SnapshotDir = c.Backup.SessionRoot + "/.pre-recovery"
	}
	if c.Recovery.ReportsDir == "" && c.Backup.SessionRoot != "" {
		c.Recovery.ReportsDir = c.Backup.SessionRoot + "/.reports"
	}
	if c.Recovery.MarkerFile == "" && c.Backup.SessionRoot != "" {
		c.Recovery.MarkerFile = c.Backup.SessionRoot + "/.recovery.active"
	}
}

// Validate checks the invariants every run depends on. It fails fast so that
// nothing is mutated on a misconfigured invocation.
func (c *Config) Validate() error {
	if c.Backup.SessionRoot == "" {
		return fmt.Errorf("%w: backup.session_root is required", ErrValidateConfig)
	}
	if c.Encryption.KeyFile == "" {
		return fmt.Errorf("%w: encryption.key_file is required", ErrValidateConfig)
	}
	for _, g := range c.ConfigGroups {
		if g.Name == "" {
			return fmt.Errorf("%w: config group without a name", ErrValidateConfig)
		}
		if len(g.Paths) == 0 {
			return fmt.Errorf("%w: config group %q has no paths", ErrValidateConfig, g.Name)
		}
	}
	if c.Destinations.S3 != nil && c.Destinations.S3.Bucket == "" {
		return fmt.Errorf("%w: destinations.s3.bucket is required", ErrValidateConfig)
	}
	if c.Destinations.GCS != nil && c.Destinations.GCS.Bucket == "" {
		return fmt.Errorf("%w: destinations.gcs.bucket is required", ErrValidateConfig)
	}
	return nil
}
