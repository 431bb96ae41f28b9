package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"munind.sh/internal/protocol"
	"munind.sh/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of munind",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "munind version %s (%s)\n", version.Version, protocol.ImplementationName)
			fmt.Fprintf(out, "  commit: %s\n", version.CommitSHA)
			fmt.Fprintf(out, "  built: %s\n", version.BuildTime)
			fmt.Fprintf(out, "  go: %s\n", version.Platform())
		},
	}
}
