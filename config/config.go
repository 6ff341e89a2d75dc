// Package config loads imager settings from a file, the environment and defaults.
package config

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wippyai/imager/errors"
)

// EnvPrefix prefixes every environment override, e.g. IMAGER_ENGINE_RUNTIME.
const EnvPrefix = "IMAGER"

// Engine runtimes.
const (
	RuntimeNative    = "native"
	RuntimeWASM      = "wasm"
	RuntimeReference = "reference"
)

// Config holds the main configuration.
type Config struct {
	Engine    Engine    `mapstructure:"engine"`
	Reference Reference `mapstructure:"reference"`
	Log       Log       `mapstructure:"log"`
}

// Engine selects and tunes the engine backend.
type Engine struct {
	Runtime          string        `mapstructure:"runtime"`            // native, wasm or reference
	Root             string        `mapstructure:"root"`               // directory holding native/<os>/
	WASMModule       string        `mapstructure:"wasm_module"`        // path to the engine .wasm
	MemoryLimitPages uint32        `mapstructure:"memory_limit_pages"` // wasm memory cap, 64KB pages
	Workers          int           `mapstructure:"workers"`            // engine calls in flight
	CallTimeout      time.Duration `mapstructure:"call_timeout"`       // 0 disables
	CacheEntries     int           `mapstructure:"cache_entries"`      // 0 disables
}

// Reference tunes the pure Go engine.
type Reference struct {
	Quality int `mapstructure:"quality"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Engine: Engine{
			Runtime:    RuntimeNative,
			Root:       ".",
			WASMModule: "native/wasm/imager.wasm",
			Workers:    runtime.NumCPU(),
		},
		Reference: Reference{Quality: 82},
		Log:       Log{Level: "info", Format: "console"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("engine.runtime", d.Engine.Runtime)
	v.SetDefault("engine.root", d.Engine.Root)
	v.SetDefault("engine.wasm_module", d.Engine.WASMModule)
	v.SetDefault("engine.memory_limit_pages", d.Engine.MemoryLimitPages)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.call_timeout", d.Engine.CallTimeout)
	v.SetDefault("engine.cache_entries", d.Engine.CacheEntries)
	v.SetDefault("reference.quality", d.Reference.Quality)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration file at path, if any, and applies
// environment overrides. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if stderrors.As(err, &notFound) {
				return nil, errors.Config(fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, errors.Config(fmt.Sprintf("read config %s", path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Config("unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Engine.Runtime {
	case RuntimeNative, RuntimeWASM, RuntimeReference:
	default:
		return errors.Config(fmt.Sprintf("engine.runtime %q: want native, wasm or reference", c.Engine.Runtime), nil)
	}
	if c.Engine.Workers < 1 {
		return errors.Config(fmt.Sprintf("engine.workers %d: must be positive", c.Engine.Workers), nil)
	}
	if c.Engine.CallTimeout < 0 {
		return errors.Config("engine.call_timeout: must not be negative", nil)
	}
	if c.Engine.CacheEntries < 0 {
		return errors.Config("engine.cache_entries: must not be negative", nil)
	}
	if c.Reference.Quality < 1 || c.Reference.Quality > 100 {
		return errors.Config(fmt.Sprintf("reference.quality %d: want 1-100", c.Reference.Quality), nil)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Config(fmt.Sprintf("log.format %q: want console or json", c.Log.Format), nil)
	}
	return nil
}
