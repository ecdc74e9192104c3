package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "calassist version %s\n", version)
			if commit != "" {
				fmt.Fprintf(out, "  commit: %s\n", commit)
			}
			if date != "" {
				fmt.Fprintf(out, "  built:  %s\n", date)
			}
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
		},
	}
}
