package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
)

var rootfhCmd = &cobra.Command{
	Use:   "rootfh <domain> <path> [maxsize]",
	Short: "Print the root file handle of an export",
	Long: `Ask a running server for the file handle of path as seen by the
client domain, the handle mountd would return. maxsize is at least 32 and
is clamped to 64.

Examples:
  nfsd rootfh localhost /export
  nfsd rootfh --admin 10.0.0.5:2050 '*' /export 32`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRootfh,
}

func runRootfh(cmd *cobra.Command, args []string) error {
	maxSize := fh.MaxSize
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("maxsize %q: %w", args[2], err)
		}
		maxSize = n
	}

	line := fmt.Sprintf("%s %s %d\n", args[0], args[1], maxSize)
	out, err := adminCall("POST", "/filehandle", strings.NewReader(line))
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
