package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Load the engine and print its version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		img, log, err := open()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		defer func() { _ = img.Close(ctx) }()

		v, err := img.Version(ctx).Await(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("imager %s\nengine %s\n", version, v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
