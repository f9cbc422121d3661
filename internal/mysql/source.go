// Package mysql enumerates and dumps databases on a MySQL-compatible server.
// Enumeration goes through the wire protocol; dumping shells out to
// mysqldump so the artifact format stays tool-compatible.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
	"github.com/sqlkeep/sqlkeep/internal/logger"
)

// Schemas that are never backed up, regardless of user configuration.
var systemSchemas = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// Target describes one server for the duration of a run.
type Target struct {
	Host          string
	Port          int
	User          string
	Password      string
	MysqldumpPath string
	Excluded      []string
}

type Source struct {
	target      Target
	runner      Runner
	dumpTimeout time.Duration
	logger      *logger.Logger
}

type SourceOption func(*Source)

func WithRunner(r Runner) SourceOption {
	return func(s *Source) { s.runner = r }
}

// WithDumpTimeout bounds each dump subprocess; zero means no deadline.
func WithDumpTimeout(d time.Duration) SourceOption {
	return func(s *Source) { s.dumpTimeout = d }
}

func WithLogger(l *logger.Logger) SourceOption {
	return func(s *Source) { s.logger = l }
}

func NewSource(target Target, opts ...SourceOption) *Source {
	if target.Port == 0 {
		target.Port = 3306
	}
	if target.MysqldumpPath == "" {
		target.MysqldumpPath = "mysqldump"
	}

	s := &Source{
		target: target,
		runner: LocalRunner{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListDatabases returns the sorted names of all backupable databases on the
// target, with system schemas and the target's exclusion set filtered out
// case-insensitively.
func (s *Source) ListDatabases(ctx context.Context) ([]string, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", s.target.User, s.target.Password, s.target.Host, s.target.Port)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to open MySQL connection", "Check the host, port, and driver availability.")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to reach MySQL server", "Verify the database host, port, and credentials.")
	}

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeCatalog, "failed to enumerate databases", "Ensure the backup user has the SHOW DATABASES privilege.")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeCatalog, "failed to read database name", "")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeCatalog, "database enumeration interrupted", "")
	}

	return filterDatabases(names, s.target.Excluded), nil
}

// filterDatabases drops system schemas and the exclusion set, matching
// case-insensitively, and returns the remainder sorted.
func filterDatabases(names, excluded []string) []string {
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[strings.ToLower(name)] = struct{}{}
	}

	var databases []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if _, ok := systemSchemas[lower]; ok {
			continue
		}
		if _, ok := skip[lower]; ok {
			continue
		}
		databases = append(databases, name)
	}
	sort.Strings(databases)
	return databases
}

// Dump streams a full logical dump of one database into w. The subprocess is
// killed if the configured timeout elapses; a caller that stores w atomically
// will never keep the partial output.
func (s *Source) Dump(ctx context.Context, database string, w io.Writer) error {
	if s.dumpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dumpTimeout)
		defer cancel()
	}

	args := []string{
		fmt.Sprintf("--host=%s", s.target.Host),
		fmt.Sprintf("--port=%d", s.target.Port),
		fmt.Sprintf("--user=%s", s.target.User),
		"--single-transaction",
		"--quick",
		"--skip-lock-tables",
		"--no-tablespaces",
		database,
	}

	// The credential travels via MYSQL_PWD only, never argv.
	env := []string{"MYSQL_PWD=" + s.target.Password}

	if s.logger != nil {
		s.logger.Debug("running mysqldump", "db", database, "host", s.target.Host)
	}

	err := s.runner.Run(ctx, s.target.MysqldumpPath, args, env, w)
	if err == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.Wrap(err, apperrors.TypeDumpTimeout,
			fmt.Sprintf("dump of %s exceeded %s and was killed", database, s.dumpTimeout),
			"Raise dump_timeout or investigate slow tables.")
	}

	var runErr *RunError
	if errors.As(err, &runErr) {
		msg := fmt.Sprintf("mysqldump of %s exited with status %d", database, runErr.ExitCode)
		if stderr := strings.TrimSpace(runErr.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		return apperrors.Wrap(err, apperrors.TypeDumpFailed, msg, "Check the mysqldump output above and the backup user's privileges.")
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return apperrors.Wrap(err, apperrors.TypeDumpTool,
			fmt.Sprintf("cannot execute %s", s.target.MysqldumpPath),
			"Install mysql-client or mariadb-client, or set mysqldump_path.")
	}

	return apperrors.Wrap(err, apperrors.TypeDumpFailed, fmt.Sprintf("mysqldump of %s failed", database), "")
}
