package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/logger"
	"github.com/sqlkeep/sqlkeep/internal/registry"
)

var (
	connHost          string
	connPort          int
	connUser          string
	connPassword      string
	connExcluded      []string
	connMysqldump     string
	connStorageDriver string
	connPath          string
	connS3Bucket      string
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage saved MySQL connections",
	Long: `Saved connections let backup and schedule runs refer to a server by name
instead of repeating host, credentials, and storage preferences on every
invocation. Connections are stored in a file only readable by the current
user.`,
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add or update a saved connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		name := args[0]

		if connUser == "" {
			return fmt.Errorf("--user is required")
		}
		if connPassword == "" {
			connPassword = os.Getenv("SQLKEEP_PASSWORD")
		}

		reg, err := openRegistry()
		if err != nil {
			return err
		}

		err = reg.Set(name, registry.Connection{
			Host:          connHost,
			Port:          connPort,
			User:          connUser,
			Password:      connPassword,
			MysqldumpPath: connMysqldump,
			Excluded:      connExcluded,
			StorageDriver: connStorageDriver,
			Path:          connPath,
			S3Bucket:      connS3Bucket,
		})
		if err != nil {
			return err
		}

		l.Info("Connection saved", "name", name, "host", connHost, "user", connUser)
		return nil
	},
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a saved connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}

		l.Info("Connection removed", "name", args[0])
		return nil
	},
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		reg, err := openRegistry()
		if err != nil {
			return err
		}

		names := reg.List()
		if len(names) == 0 {
			l.Info("No saved connections")
			return nil
		}

		for _, name := range names {
			conn, _ := reg.Get(name)
			// Never print the password.
			l.Info("Connection",
				"name", name,
				"host", conn.Host,
				"port", conn.Port,
				"user", conn.User,
				"excluded", conn.Excluded,
			)
		}
		return nil
	},
}

func openRegistry() (*registry.Registry, error) {
	path, err := registry.DefaultPath()
	if err != nil {
		return nil, err
	}
	return registry.Open(path)
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
	connectionsCmd.AddCommand(connectionsAddCmd)
	connectionsCmd.AddCommand(connectionsRemoveCmd)
	connectionsCmd.AddCommand(connectionsListCmd)

	connectionsAddCmd.Flags().StringVar(&connHost, "host", "127.0.0.1", "MySQL host")
	connectionsAddCmd.Flags().IntVar(&connPort, "port", 3306, "MySQL port")
	connectionsAddCmd.Flags().StringVar(&connUser, "user", "", "MySQL username")
	connectionsAddCmd.Flags().StringVar(&connPassword, "password", "", "MySQL password (falls back to SQLKEEP_PASSWORD)")
	connectionsAddCmd.Flags().StringSliceVar(&connExcluded, "exclude", nil, "database names to skip, repeatable")
	connectionsAddCmd.Flags().StringVar(&connMysqldump, "mysqldump-path", "", "path to the mysqldump binary")
	connectionsAddCmd.Flags().StringVar(&connStorageDriver, "storage", "", "preferred storage driver for this connection")
	connectionsAddCmd.Flags().StringVar(&connPath, "path", "", "preferred backup directory or key prefix")
	connectionsAddCmd.Flags().StringVar(&connS3Bucket, "bucket", "", "preferred S3 bucket")
}
