// Package config loads the registry configuration from an optional YAML
// file, a .env file, and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultAddr       = "127.0.0.1:3023"
	DefaultDBPath     = "./db"
	DefaultEsploraURL = "https://blockstream.info/liquid/api"
)

// Config holds the registry server configuration.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`

	// Addr is the listen address of the write API (ADDR).
	Addr string `mapstructure:"addr"`
	// DBPath is the root of the asset database directory (DB_PATH).
	DBPath string `mapstructure:"db_path"`
	// EsploraURL is the base URL of the Esplora chain API (ESPLORA_URL).
	EsploraURL string `mapstructure:"esplora_url"`
	// HookCmd is the external publishing program run after each
	// successful mutation (HOOK_CMD). Empty disables the hook.
	HookCmd string `mapstructure:"hook_cmd"`
	// DomainProofBase overrides the domain proof base URL
	// (DOMAIN_PROOF_BASE). Development only; empty selects production
	// behavior. This is a startup-time setting on purpose: a running
	// binary must not be able to switch proof origins per request.
	DomainProofBase string `mapstructure:"domain_proof_base"`

	// HTTPTimeout bounds each outbound chain and domain proof request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	Server ServerConfig `mapstructure:"server"`
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// envBindings maps config keys to their documented environment overrides.
var envBindings = map[string]string{
	"addr":              "ADDR",
	"db_path":           "DB_PATH",
	"esplora_url":       "ESPLORA_URL",
	"hook_cmd":          "HOOK_CMD",
	"domain_proof_base": "DOMAIN_PROOF_BASE",
	"sentry_dsn":        "SENTRY_DSN",
	"debug":             "DEBUG",
	"http_timeout":      "HTTP_TIMEOUT",
}

// Load reads the configuration. configFile may be empty, in which case
// only defaults, .env and the environment apply.
func Load(configFile string) (*Config, error) {
	// load .env if present; the environment still wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("esplora_url", DefaultEsploraURL)
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("server.read_timeout", "15s")
	// submissions block on two outbound verifications, so responses may
	// take up to twice the outbound timeout
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "60s")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.EsploraURL = strings.TrimRight(cfg.EsploraURL, "/")
	return &cfg, nil
}
