// Package config implements configuration management subcommands.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgconfig "github.com/marmos91/nfsd/pkg/config"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage nfsd configuration files.

Subcommands:
  init      Write a commented default configuration
  validate  Validate a configuration file`,
}

var (
	force  bool
	output string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if output != "" {
			if err := pkgconfig.InitConfigToPath(output, force); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", output)
			return nil
		}
		path, err := pkgconfig.InitConfig(force)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Long: `Load a configuration file the way "nfsd start" does, applying
environment overrides and defaults, and report the first problem found.
Without an argument the --config flag or the default location is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := pkgconfig.Load(path)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration is valid: %d inline exports, %d sources, %d clients\n",
			len(cfg.Exports.Entries), len(cfg.Exports.Sources), len(cfg.Clients))
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of the default location")

	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
}
