package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/squirebot/squire/internal/config"
)

func init() {
	rootCmd.AddCommand(sampleConfigCmd, checkConfigCmd)
}

var sampleConfigCmd = &cobra.Command{
	Use:   "sample-config",
	Short: "Write an annotated sample config and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteSample(confPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", confPath)
		return nil
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file without starting the bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(confPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: ok (account %s, engine %s)\n", confPath, cfg.Bot.Username, cfg.Engine.Path)
		return nil
	},
}
