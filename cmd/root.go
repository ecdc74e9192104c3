package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the calassist gateway
var rootCmd = &cobra.Command{
	Use:   "calassist",
	Short: "Google sign-in gateway and calendar proxy",
	Long: `calassist runs the backend of the calendar assistant. It signs users in
with Google, keeps their sessions in a shared store and proxies calendar
requests with the user's own access token.

Besides the HTTP server it ships operational commands for migrations,
configuration checks and session invalidation.`,
	SilenceUsage: true,
}

// Build information, set by main.
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// SetBuildInfo records the commit and build date stamped at link time.
func SetBuildInfo(c, d string) {
	commit = c
	date = d
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calassist version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
