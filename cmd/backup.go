package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/backup"
	"github.com/sqlkeep/sqlkeep/internal/compress"
	"github.com/sqlkeep/sqlkeep/internal/config"
	"github.com/sqlkeep/sqlkeep/internal/logger"
	"github.com/sqlkeep/sqlkeep/internal/mysql"
	"github.com/sqlkeep/sqlkeep/internal/notify"
	"github.com/sqlkeep/sqlkeep/internal/registry"
	storagepkg "github.com/sqlkeep/sqlkeep/internal/storage"
)

var (
	connectionName string
	host           string
	port           int
	user           string
	password       string
	excluded       []string

	retention       int
	parallel        int
	compressFlag    bool
	compressionAlgo string
	dumpTimeout     time.Duration
	mysqldumpPath   string

	storageDriver string
	storageDir    string
	storageBucket string
	storagePath   string
	storageURI    string
	allowInsecure bool
	showProgress  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up every database on a MySQL server",
	Long: `Enumerate the non-system databases on a MySQL server, dump each one with
mysqldump, compress the dumps, and store them on the configured backend.
After each successful store, backups older than the retention count are
pruned for that database.

A single database failing does not stop the run; the remaining databases
are still backed up and the command exits non-zero at the end.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		target, storageCfg, err := resolveBackupTarget(cmd)
		if err != nil {
			return err
		}

		result, err := runBackup(cmd, l, target, storageCfg)
		if err != nil {
			return err
		}
		if !result.OK() {
			return fmt.Errorf("backup finished with %d of %d databases failed",
				len(result.Failures()), len(result.Databases))
		}
		return nil
	},
}

// resolveBackupTarget merges the three configuration layers. Flags win over
// the named registry connection, which wins over the config file.
func resolveBackupTarget(cmd *cobra.Command) (mysql.Target, config.StorageConfig, error) {
	cfg := config.GetConfig()
	storageCfg := cfg.Storage

	target := mysql.Target{
		Host:          host,
		Port:          port,
		User:          user,
		Password:      password,
		MysqldumpPath: cfg.MysqldumpPath,
		Excluded:      excluded,
	}

	if connectionName != "" {
		path, err := registry.DefaultPath()
		if err != nil {
			return target, storageCfg, err
		}
		reg, err := registry.Open(path)
		if err != nil {
			return target, storageCfg, err
		}
		conn, ok := reg.Get(connectionName)
		if !ok {
			return target, storageCfg, fmt.Errorf("unknown connection %q, add it with: sqlkeep connections add %s", connectionName, connectionName)
		}

		if !cmd.Flags().Changed("host") {
			target.Host = conn.Host
		}
		if !cmd.Flags().Changed("port") && conn.Port != 0 {
			target.Port = conn.Port
		}
		if !cmd.Flags().Changed("user") {
			target.User = conn.User
		}
		if !cmd.Flags().Changed("password") {
			target.Password = conn.Password
		}
		if !cmd.Flags().Changed("exclude") {
			target.Excluded = conn.Excluded
		}
		if conn.MysqldumpPath != "" {
			target.MysqldumpPath = conn.MysqldumpPath
		}
		if conn.StorageDriver != "" && !cmd.Flags().Changed("storage") {
			storageCfg.Driver = conn.StorageDriver
		}
		if conn.S3Bucket != "" && !cmd.Flags().Changed("bucket") {
			storageCfg.Bucket = conn.S3Bucket
		}
		if conn.Path != "" {
			if !cmd.Flags().Changed("dir") {
				storageCfg.Dir = conn.Path
			}
			if !cmd.Flags().Changed("path") {
				storageCfg.Path = conn.Path
			}
		}
	}

	if target.Host == "" {
		target.Host = "127.0.0.1"
	}
	if target.Password == "" {
		target.Password = os.Getenv("SQLKEEP_PASSWORD")
	}
	if target.User == "" {
		return target, storageCfg, fmt.Errorf("--user is required unless --connection names a saved connection")
	}
	if cmd.Flags().Changed("mysqldump-path") {
		target.MysqldumpPath = mysqldumpPath
	}

	if cmd.Flags().Changed("storage") {
		storageCfg.Driver = storageDriver
	}
	if cmd.Flags().Changed("dir") {
		storageCfg.Dir = storageDir
	}
	if cmd.Flags().Changed("bucket") {
		storageCfg.Bucket = storageBucket
	}
	if cmd.Flags().Changed("path") {
		storageCfg.Path = storagePath
	}
	if cmd.Flags().Changed("to") {
		storageCfg.URI = storageURI
	}

	if !compress.Algorithm(compressionAlgo).Valid() {
		return target, storageCfg, fmt.Errorf("unsupported compression algorithm %q (gzip, zstd, lz4, none)", compressionAlgo)
	}

	return target, storageCfg, nil
}

func runBackup(cmd *cobra.Command, l *logger.Logger, target mysql.Target, storageCfg config.StorageConfig) (*backup.RunResult, error) {
	cfg := config.GetConfig()

	backend, err := storagepkg.FromConfig(storageCfg, storagepkg.Options{
		AllowInsecure: allowInsecure || cfg.AllowInsecure,
	})
	if err != nil {
		return nil, err
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	timeout := cfg.DumpTimeout
	if cmd.Flags().Changed("dump-timeout") {
		timeout = dumpTimeout
	}
	source := mysql.NewSource(target,
		mysql.WithLogger(l),
		mysql.WithDumpTimeout(timeout),
	)

	opts := backup.Options{
		Retention:   cfg.Retention,
		Compress:    cfg.Compress,
		Algorithm:   compress.Algorithm(cfg.Algorithm),
		Parallelism: cfg.Parallelism,
		Host:        target.Host,
		Logger:      l,
	}
	if cmd.Flags().Changed("retention") {
		opts.Retention = retention
	}
	if cmd.Flags().Changed("parallel") {
		opts.Parallelism = parallel
	}
	if cmd.Flags().Changed("compress") {
		opts.Compress = compressFlag
	}
	if cmd.Flags().Changed("compression-algo") {
		opts.Algorithm = compress.Algorithm(compressionAlgo)
	}
	if showProgress {
		opts.Progress = backup.NewProgressContainer()
	}

	l.Info("Backup started", "host", target.Host, "storage", backend.Location())
	result, err := orchestrate(cmd, source, backend, opts)

	notifyResult(cmd.Context(), l, result, err)

	if err != nil {
		l.Error("Backup run aborted", "error", err)
		return nil, err
	}
	return result, nil
}

func orchestrate(cmd *cobra.Command, source backup.Source, backend storagepkg.Backend, opts backup.Options) (*backup.RunResult, error) {
	orch := backup.NewOrchestrator(source, backend, opts)
	result, err := orch.Run(cmd.Context())
	if opts.Progress != nil {
		opts.Progress.Wait()
	}
	return result, err
}

func notifyResult(ctx context.Context, l *logger.Logger, result *backup.RunResult, runErr error) {
	notifier := notify.FromConfig(config.GetConfig().Notifications)
	if notifier == nil || result == nil {
		return
	}

	stats := notify.Stats{
		Status:    notify.StatusSuccess,
		Host:      result.Host,
		Databases: len(result.Databases),
		Size:      result.TotalSize(),
		Duration:  result.Duration(),
		Error:     runErr,
	}
	for _, f := range result.Failures() {
		stats.Failures = append(stats.Failures, f.Database)
	}
	if runErr != nil || !result.OK() {
		stats.Status = notify.StatusError
	}

	if err := notifier.Notify(ctx, stats); err != nil {
		l.Warn("Notification delivery failed", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&connectionName, "connection", "c", "", "name of a saved connection")
	backupCmd.Flags().StringVar(&host, "host", "", "MySQL host (default 127.0.0.1)")
	backupCmd.Flags().IntVar(&port, "port", 3306, "MySQL port")
	backupCmd.Flags().StringVar(&user, "user", "", "MySQL username")
	backupCmd.Flags().StringVar(&password, "password", "", "MySQL password (prefer SQLKEEP_PASSWORD or a saved connection)")
	backupCmd.Flags().StringSliceVar(&excluded, "exclude", nil, "database names to skip, repeatable")

	backupCmd.Flags().IntVar(&retention, "retention", 5, "backups to keep per database (0 keeps none)")
	backupCmd.Flags().IntVar(&parallel, "parallel", 4, "databases backed up concurrently")
	backupCmd.Flags().BoolVar(&compressFlag, "compress", true, "compress dumps")
	backupCmd.Flags().StringVar(&compressionAlgo, "compression-algo", "gzip", "compression algorithm (gzip, zstd, lz4, none)")
	backupCmd.Flags().DurationVar(&dumpTimeout, "dump-timeout", time.Hour, "per-database dump timeout")
	backupCmd.Flags().StringVar(&mysqldumpPath, "mysqldump-path", "", "path to the mysqldump binary")

	backupCmd.Flags().StringVar(&storageDriver, "storage", "", "storage driver (local, s3, ftp, ssh)")
	backupCmd.Flags().StringVar(&storageDir, "dir", "", "local backup directory")
	backupCmd.Flags().StringVar(&storageBucket, "bucket", "", "S3 bucket name")
	backupCmd.Flags().StringVar(&storagePath, "path", "", "key prefix or remote base path")
	backupCmd.Flags().StringVarP(&storageURI, "to", "t", "", "remote target URI (ftp://user@host/path, ssh://user@host/path)")
	backupCmd.Flags().BoolVar(&allowInsecure, "allow-insecure", false, "permit plaintext FTP transport")
	backupCmd.Flags().BoolVar(&showProgress, "progress", false, "show per-database progress bars")
}
