package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var buildVersion = "dev"

func SetVersion(v string) {
	buildVersion = v
}

// Global flags.
var (
	flagConfig    string
	flagRoot      string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "releasekit",
	Short: "Automate semantic-version releases",
	Long: `releasekit advances a project's semantic version, propagates it into
documentation and source files, then commits and pushes the result.

The current version lives in VERSION at the project root. A release in
progress is recorded in .git/releasekit/handoff.json so every stage can be
run on its own and an interrupted release resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the CLI with ctx, which stages use for cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: ./.releasekit.yaml, then $XDG_CONFIG_HOME/releasekit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "project root")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: console or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bumpVersionCmd)
	rootCmd.AddCommand(syncDocsCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
