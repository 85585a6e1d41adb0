package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and populate a running server's caches",
	Long: `Operate on the key cache (nfsd.fh) and the export cache
(nfsd.export) of a running server through its admin channel.

Subcommands:
  load   Write population lines from a file
  show   Print cache content
  flush  Purge one cache, or all of them`,
}

var cacheLoadCmd = &cobra.Command{
	Use:   "load <cache> <file>",
	Short: "Write population lines from a file",
	Long: `Write every line of file to the cache channel, as the population
agent would. Use "-" to read standard input.

Example:
  echo 'localhost /export 2147483647 8192 65534 65534 1' | nfsd cache load nfsd.export -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := os.Stdin
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[1], err)
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		out, err := adminCall("POST", "/caches/"+args[0]+"/channel", in)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <cache>",
	Short: "Print cache content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := adminCall("GET", "/caches/"+args[0]+"/content", nil)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush [cache]",
	Short: "Purge one cache, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/flush"
		if len(args) == 1 {
			path = "/caches/" + args[0] + "/flush"
		}
		_, err := adminCall("POST", path, nil)
		return err
	},
}

func init() {
	cacheCmd.AddCommand(cacheLoadCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheFlushCmd)
}
