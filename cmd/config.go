package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/diyartec/calassist/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the gateway configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the environment and print a summary without secrets",
		Long: `Load the configuration the way 'serve' does, validate it against the
rules of the deployment tier (NODE_ENV) and print a summary that never
contains secret values. Secret fingerprints are included when
PRINT_SECRET_FINGERPRINTS=true outside production.

Exits non-zero when validation fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printConfigSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	})

	return cmd
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "configuration OK")
	for _, attr := range cfg.LogSafe() {
		fmt.Fprintf(w, "  %-28s %s\n", attr.Key, attr.Value.String())
	}
	if !cfg.ShowFingerprints() {
		return
	}
	fps := cfg.Fingerprints()
	fmt.Fprintln(w, "fingerprints")
	for _, name := range fingerprintOrder {
		fmt.Fprintf(w, "  %-28s %s\n", name, fps[name])
	}
}
