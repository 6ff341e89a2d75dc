package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/imager"
	"github.com/wippyai/imager/config"
	"github.com/wippyai/imager/engine"
)

var version = "0.1.0"

var (
	configPath string
	runtimeArg string
)

var rootCmd = &cobra.Command{
	Use:   "imager",
	Short: "Optimize images with the bundled engine",
	Long: `imager resizes and re-encodes images through a prebuilt engine module
selected for the host OS. Output is always JPEG.

Settings come from an optional YAML file and IMAGER_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&runtimeArg, "runtime", "", "engine runtime: native, wasm or reference")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"imager %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if runtimeArg != "" {
		cfg.Engine.Runtime = runtimeArg
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// open builds an Imager from the loaded configuration. The returned
// logger is also installed as the engine package default.
func open() (*imager.Imager, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	engine.SetLogger(log)

	img, err := imager.New(imager.WithConfig(cfg), imager.WithLogger(log))
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return img, log, nil
}
