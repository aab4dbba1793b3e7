// Package config loads indexer configuration from, in precedence order,
// explicit CLI flags, CHAINIDX_-prefixed environment variables, an
// optional chainidx.yaml file, and built-in defaults — the same
// layering the teacher applies over viper in cmd/bd/config.go.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaychain/chainidx/internal/chainerr"
)

// Mode is the pipeline's write-durability mode.
type Mode string

const (
	ModeBulk   Mode = "bulk"
	ModeFresh  Mode = "fresh"
	ModeNormal Mode = "normal"
)

// Driver selects the concrete DataStore backend.
type Driver string

const (
	DriverMySQL Driver = "mysql"
	DriverDolt  Driver = "dolt"
)

// Config is the fully resolved indexer configuration.
type Config struct {
	// DatabaseDSN is a network DSN when DatabaseDriver is DriverMySQL, or
	// the embedded database's directory path when it is DriverDolt —
	// embedded mode has no network endpoint to address.
	DatabaseDSN    string
	DatabaseDriver Driver
	Mode           Mode

	InsertRowCap   int
	SelectRowCap   int
	FlushThreshold int

	OTLPEndpoint string
	LogFormat    string
	LogLevel     string
}

const envPrefix = "CHAINIDX"

// defaults mirror spec.md's fixed caps (§4.1, §4.4); they're exposed as
// viper defaults rather than constants purely so tests can override them
// without a second code path.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", string(DriverMySQL))
	v.SetDefault("mode", string(ModeBulk))
	v.SetDefault("insert_row_cap", 9000)
	v.SetDefault("select_row_cap", 1500)
	v.SetDefault("flush_threshold", 100000)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

// New builds a viper instance layered the way the teacher layers cobra
// flags over viper: flags (if cmd is non-nil) > env > config file >
// defaults. configPath, if non-empty, points at a chainidx.yaml file;
// if empty, "./chainidx.yaml" is probed and silently skipped if absent.
func New(cmd *cobra.Command, configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chainidx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	return v, nil
}

// Watch calls onChange whenever v's config file changes on disk. It
// reloads nothing itself and does not filter by setting: what onChange
// re-reads, and whether the DSN is among it, is up to the caller.
func Watch(v *viper.Viper, onChange func()) {
	v.OnConfigChange(func(fsnotify.Event) {
		onChange()
	})
	v.WatchConfig()
}

// Load resolves a Config from an already-layered viper instance and
// validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseDSN:    v.GetString("database.dsn"),
		DatabaseDriver: Driver(v.GetString("database.driver")),
		Mode:           Mode(v.GetString("mode")),
		InsertRowCap:   v.GetInt("insert_row_cap"),
		SelectRowCap:   v.GetInt("select_row_cap"),
		FlushThreshold: v.GetInt("flush_threshold"),
		OTLPEndpoint:   v.GetString("otlp_endpoint"),
		LogFormat:      v.GetString("log.format"),
		LogLevel:       v.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: database.dsn is required: %w", chainerr.Configuration)
	}
	if c.DatabaseDriver != DriverMySQL && c.DatabaseDriver != DriverDolt {
		return fmt.Errorf("config: unknown database.driver %q: %w", c.DatabaseDriver, chainerr.Configuration)
	}
	switch c.Mode {
	case ModeBulk, ModeFresh, ModeNormal:
	default:
		return fmt.Errorf("config: unknown mode %q: %w", c.Mode, chainerr.Configuration)
	}
	if c.InsertRowCap <= 0 || c.SelectRowCap <= 0 || c.FlushThreshold <= 0 {
		return fmt.Errorf("config: row caps and flush threshold must be positive: %w", chainerr.Configuration)
	}
	return nil
}
