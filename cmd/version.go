package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/logger"
)

var (
	Version   = SQLKEEP_VERSION
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sqlkeep version",
	Run: func(cmd *cobra.Command, args []string) {
		l := logger.FromContext(cmd.Context())
		l.Info("sqlkeep",
			"version", Version,
			"commit", Commit,
			"built_at", BuildDate,
			"go_version", runtime.Version(),
			"os", runtime.GOOS,
			"arch", runtime.GOARCH,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
