package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/config"
	"github.com/sqlkeep/sqlkeep/internal/logger"
)

const SQLKEEP_VERSION = "0.1.0"

var (
	configPath string
	logJSON    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "sqlkeep",
	Short: "sqlkeep backs up every database on a MySQL server to local or remote storage",
	Long: `sqlkeep is a command-line tool that dumps every non-system database on a
MySQL server, compresses the dumps, and stores them locally or on remote
storage (S3-compatible object stores, FTP, SFTP). Old backups are pruned
per database according to a retention count, and runs can be executed once
or on a recurring schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configPath); err != nil {
			return err
		}
		cfg := config.GetConfig()
		l := logger.New(logger.Config{
			JSON:    logJSON || cfg.LogJSON,
			NoColor: noColor || cfg.NoColor,
		})
		cmd.SetContext(logger.WithContext(cmd.Context(), l))
		return nil
	},
}

func init() {
	rootCmd.Version = SQLKEEP_VERSION
	rootCmd.SetVersionTemplate("sqlkeep version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
}

func Execute() error {
	return rootCmd.Execute()
}
