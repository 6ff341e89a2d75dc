package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wippyai/imager/platform"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Show which engine module this host would load",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := platform.Current()
		if err != nil {
			return err
		}
		fmt.Printf("platform: %s\n", m.Platform)
		fmt.Printf("runtime:  %s\n", cfg.Engine.Runtime)
		fmt.Printf("module:   %s\n", filepath.Join(cfg.Engine.Root, filepath.FromSlash(m.Path)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformCmd)
}
