package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Store StoreConfig
	Log   LogConfig
}

// StoreConfig selects and locates the user store.
type StoreConfig struct {
	Backend  string // "json" or "sqlite"
	File     string // JSON backing file path
	Database string // SQLite database file path
}

// LogConfig contains logging settings.
type LogConfig struct {
	File  string // log file, truncated on start
	Level string // debug, info, warn or error
}

var levels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load resolves configuration from command-line args, then environment
// variables, then defaults.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("usermanager", pflag.ContinueOnError)
	fs.String("file", "users.json", "JSON file holding the user list")
	fs.String("backend", BackendJSON, "store backend: json or sqlite")
	fs.String("db", "users.db", "SQLite database path (sqlite backend)")
	fs.String("log-file", "logs.log", "log file path")
	fs.String("log-level", "debug", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	bindings := []struct{ key, flag, env string }{
		{"store.file", "file", "USERS_FILE"},
		{"store.backend", "backend", "STORE_BACKEND"},
		{"store.database", "db", "DB_PATH"},
		{"log.file", "log-file", "LOG_FILE"},
		{"log.level", "log-level", "LOG_LEVEL"},
	}
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", b.env, err)
		}
	}

	cfg := &Config{
		Store: StoreConfig{
			Backend:  strings.ToLower(strings.TrimSpace(v.GetString("store.backend"))),
			File:     v.GetString("store.file"),
			Database: v.GetString("store.database"),
		},
		Log: LogConfig{
			File:  v.GetString("log.file"),
			Level: strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendJSON:
		if c.Store.File == "" {
			return fmt.Errorf("store file path is empty")
		}
	case BackendSQLite:
		if c.Store.Database == "" {
			return fmt.Errorf("sqlite database path is empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if !levels[c.Log.Level] {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// String returns a one-line summary of the config.
func (c *Config) String() string {
	loc := c.Store.File
	if c.Store.Backend == BackendSQLite {
		loc = c.Store.Database
	}
	return fmt.Sprintf("Config{Store: %s(%s), Log: %s@%s}", c.Store.Backend, loc, c.Log.File, c.Log.Level)
}
