// Package commands implements the nfsd command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsd/cmd/nfsd/commands/config"
	pkgconfig "github.com/marmos91/nfsd/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	adminAddr string
)

var rootCmd = &cobra.Command{
	Use:   "nfsd",
	Short: "nfsd - NFSv3 export cache and protocol core",
	Long: `nfsd serves NFSv3 procedures from an in-memory filesystem, deciding
which clients may use which exports through a pair of population-driven
caches: the fsid key cache and the export policy cache.

Use "nfsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nfsd %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nfsd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", pkgconfig.DefaultAdminListen, "address of a running server's admin channel")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(rootfhCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
