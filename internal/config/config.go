// Package config loads frotahub configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RoleManager is the privileged session role; it enables inbound pulls and
// roster publishing. Any other value is a standard field session.
const RoleManager = "manager"

// Config is the resolved frotahub configuration.
type Config struct {
	// Endpoint is the remote spreadsheet-backed URL. Empty disables sync.
	Endpoint string `mapstructure:"endpoint"`

	// Role is the session role: "standard" or "manager".
	Role string `mapstructure:"role"`

	// DBPath is the SQLite record store location.
	DBPath string `mapstructure:"db_path"`

	// IntakeDir is watched by the daemon for dropped submission files.
	IntakeDir string `mapstructure:"intake_dir"`

	// SyncInterval is the scheduler tick (default 30s).
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ContinueOnError drains the outbound queue past failed items instead
	// of halting the pass.
	ContinueOnError bool `mapstructure:"continue_on_error"`

	// PullAction appends action=get_all to pull requests for endpoint
	// variants that need the discriminator.
	PullAction bool `mapstructure:"pull_action"`

	// ObserveResponse treats non-2xx write responses as failures. Off by
	// default: the original endpoint is write-only and its responses are
	// not meaningful.
	ObserveResponse bool `mapstructure:"observe_response"`

	// DashboardPort is where the dashboard server listens.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, routes daemon logs through a rotating file.
	LogFile string `mapstructure:"log_file"`
}

// Privileged reports whether this session may pull from the remote endpoint
// and publish the roster.
func (c *Config) Privileged() bool {
	return c.Role == RoleManager
}

// Load reads configuration from the given file (or the default search path
// when empty), then applies FROTAHUB_* environment overrides and defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("role", "standard")
	v.SetDefault("db_path", ".frotahub/frotahub.db")
	v.SetDefault("intake_dir", ".frotahub/intake")
	v.SetDefault("sync_interval", "30s")
	v.SetDefault("dashboard_port", 8080)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("frotahub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/frotahub")
	}

	v.SetEnvPrefix("FROTAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}

	return &cfg, nil
}
