package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/backup"
	"github.com/sqlkeep/sqlkeep/internal/compress"
	"github.com/sqlkeep/sqlkeep/internal/config"
	"github.com/sqlkeep/sqlkeep/internal/logger"
	"github.com/sqlkeep/sqlkeep/internal/mysql"
	"github.com/sqlkeep/sqlkeep/internal/scheduler"
	storagepkg "github.com/sqlkeep/sqlkeep/internal/storage"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on a recurring schedule",
	Long: `Run the scheduler in the foreground, executing a backup run for each
schedule in the configuration file. A schedule names a saved connection and
either a cron expression or a list of times like "03:00,15:00". Without
either, backups run at 03:00 and 15:00 daily.`,
}

var scheduleStartCmd = &cobra.Command{
	Use:           "start",
	Short:         "Start the scheduler (foreground)",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		if len(cfg.Schedules) == 0 {
			return fmt.Errorf("no schedules configured, add a schedules section to the config file")
		}

		s := scheduler.New(l)
		for _, sc := range cfg.Schedules {
			job, err := buildScheduledJob(sc, l)
			if err != nil {
				return err
			}
			if err := s.Add(job); err != nil {
				return err
			}
		}

		s.Start()
		defer func() { <-s.Stop().Done() }()

		for _, next := range s.NextRuns() {
			l.Info("Scheduled run", "at", next.Format("2006-01-02 15:04:05"))
		}
		l.Info("Scheduler running", "schedules", len(cfg.Schedules))

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		l.Info("Shutting down scheduler")
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the configured schedules and their cron expressions",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		if len(cfg.Schedules) == 0 {
			l.Info("No schedules configured")
			return nil
		}

		for _, sc := range cfg.Schedules {
			specs, err := scheduleSpecs(sc)
			if err != nil {
				return err
			}
			l.Info("Schedule", "connection", sc.Connection, "cron", specs)
		}
		return nil
	},
}

func scheduleSpecs(sc config.ScheduleConfig) ([]string, error) {
	if sc.Cron != "" {
		return []string{sc.Cron}, nil
	}
	return scheduler.TimesToCron(sc.Times)
}

// buildScheduledJob resolves the schedule's connection once at startup and
// closes over the resulting target. The registry is not re-read per fire.
func buildScheduledJob(sc config.ScheduleConfig, l *logger.Logger) (scheduler.Job, error) {
	cfg := config.GetConfig()

	if sc.Connection == "" {
		return scheduler.Job{}, fmt.Errorf("schedule is missing a connection name")
	}
	reg, err := openRegistry()
	if err != nil {
		return scheduler.Job{}, err
	}
	conn, ok := reg.Get(sc.Connection)
	if !ok {
		return scheduler.Job{}, fmt.Errorf("schedule references unknown connection %q", sc.Connection)
	}

	specs, err := scheduleSpecs(sc)
	if err != nil {
		return scheduler.Job{}, err
	}

	target := mysql.Target{
		Host:          conn.Host,
		Port:          conn.Port,
		User:          conn.User,
		Password:      conn.Password,
		MysqldumpPath: conn.MysqldumpPath,
		Excluded:      conn.Excluded,
	}
	if target.MysqldumpPath == "" {
		target.MysqldumpPath = cfg.MysqldumpPath
	}

	storageCfg := cfg.Storage
	if sc.Storage != "" {
		storageCfg.Driver = sc.Storage
	}
	if conn.StorageDriver != "" && sc.Storage == "" {
		storageCfg.Driver = conn.StorageDriver
	}
	if conn.S3Bucket != "" {
		storageCfg.Bucket = conn.S3Bucket
	}
	if conn.Path != "" {
		storageCfg.Dir = conn.Path
		storageCfg.Path = conn.Path
	}

	jobLog := l.With("connection", sc.Connection)
	run := func(ctx context.Context) error {
		backend, err := storagepkg.FromConfig(storageCfg, storagepkg.Options{AllowInsecure: cfg.AllowInsecure})
		if err != nil {
			return err
		}
		if closer, ok := backend.(interface{ Close() error }); ok {
			defer closer.Close()
		}

		source := mysql.NewSource(target,
			mysql.WithLogger(jobLog),
			mysql.WithDumpTimeout(cfg.DumpTimeout),
		)
		orch := backup.NewOrchestrator(source, backend, backup.Options{
			Retention:   cfg.Retention,
			Compress:    cfg.Compress,
			Algorithm:   compress.Algorithm(cfg.Algorithm),
			Parallelism: cfg.Parallelism,
			Host:        target.Host,
			Logger:      jobLog,
		})

		result, runErr := orch.Run(ctx)
		notifyResult(ctx, jobLog, result, runErr)

		if runErr != nil {
			return runErr
		}
		if !result.OK() {
			return fmt.Errorf("%d of %d databases failed", len(result.Failures()), len(result.Databases))
		}
		return nil
	}

	return scheduler.Job{Name: sc.Connection, Specs: specs, Run: run}, nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
}
