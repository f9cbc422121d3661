// Package backup drives the end-to-end backup run: enumerate databases,
// dump each through an optional compression stage into the storage backend,
// then enforce the retention policy per database.
package backup

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"

	"github.com/sqlkeep/sqlkeep/internal/compress"
	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
	"github.com/sqlkeep/sqlkeep/internal/logger"
	"github.com/sqlkeep/sqlkeep/internal/storage"
)

// Source produces dumps for one server. Implemented by internal/mysql.
type Source interface {
	ListDatabases(ctx context.Context) ([]string, error)
	Dump(ctx context.Context, database string, w io.Writer) error
}

type Options struct {
	// Retention is the maximum artifacts kept per database after a
	// successful store.
	Retention int
	Compress  bool
	Algorithm compress.Algorithm
	// Parallelism bounds concurrent dump subprocesses and storage
	// connections. Zero or one means sequential.
	Parallelism int
	Host        string
	Logger      *logger.Logger
	Progress    *mpb.Progress

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	source  Source
	backend storage.Backend
	opts    Options
}

func NewOrchestrator(source Source, backend storage.Backend, opts Options) *Orchestrator {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Algorithm == "" {
		opts.Algorithm = compress.Gzip
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{source: source, backend: backend, opts: opts}
}

// Run executes one backup run. Enumeration failure fails the whole run with
// zero per-database entries; every later failure is recorded against its
// database and the run continues. The returned error is non-nil only for
// enumeration failures; per-database outcomes live in the RunResult.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		Host:      o.opts.Host,
		StartedAt: o.opts.Now(),
	}

	log := o.opts.Logger
	if log != nil {
		log = log.With("run_id", result.RunID)
	}

	databases, err := o.source.ListDatabases(ctx)
	if err != nil {
		result.FinishedAt = o.opts.Now()
		if log != nil {
			log.Error("Database enumeration failed, aborting run", "error", err)
		}
		return result, err
	}

	if log != nil {
		log.Info("Starting backup run", "databases", len(databases), "storage", o.backend.Location())
	}

	result.Databases = make([]DatabaseResult, len(databases))

	// Bounded worker pool; each worker owns one slice slot, completion order
	// is irrelevant.
	sem := make(chan struct{}, o.opts.Parallelism)
	var wg sync.WaitGroup
	for i, database := range databases {
		wg.Add(1)
		go func(i int, database string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result.Databases[i] = o.backupOne(ctx, database, log)
		}(i, database)
	}
	wg.Wait()

	result.FinishedAt = o.opts.Now()

	if log != nil {
		if result.OK() {
			log.Info("Backup run finished", "databases", len(databases), "bytes", result.TotalSize(), "duration", result.Duration().Round(time.Millisecond))
		} else {
			log.Error("Backup run finished with failures", "failed", len(result.Failures()), "of", len(databases))
		}
	}

	return result, nil
}

// trackReader remembers the first read error it saw and counts bytes handed
// to the backend, so a storage failure can be told apart from an upstream
// dump failure surfacing through the pipe.
type trackReader struct {
	r       io.Reader
	n       int64
	readErr error
}

func (t *trackReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	if err != nil && err != io.EOF && t.readErr == nil {
		t.readErr = err
	}
	return n, err
}

func (o *Orchestrator) backupOne(ctx context.Context, database string, log *logger.Logger) DatabaseResult {
	algo := compress.None
	if o.opts.Compress {
		algo = o.opts.Algorithm
	}

	res := DatabaseResult{
		Database: database,
		Artifact: ArtifactName(database, o.opts.Now(), algo.Ext()),
	}

	if log != nil {
		log.Info("Backing up database", "db", database, "artifact", res.Artifact)
	}

	pr, pw := io.Pipe()

	// The dump side: source -> compressor -> pipe. Runs while the backend
	// consumes the read side, so artifacts stream without buffering in full.
	errChan := make(chan error, 1)
	go func() {
		cw, err := compress.NewWriter(pw, algo)
		if err != nil {
			pw.CloseWithError(err)
			errChan <- err
			return
		}
		if err := o.source.Dump(ctx, database, cw); err != nil {
			cw.Close()
			pw.CloseWithError(err)
			errChan <- err
			return
		}
		if err := cw.Close(); err != nil {
			err = apperrors.Wrap(err, apperrors.TypeCompression, "failed to finalize compressed stream", "")
			pw.CloseWithError(err)
			errChan <- err
			return
		}
		errChan <- pw.Close()
	}()

	var body io.Reader = pr
	if bar := AddBackupBar(o.opts.Progress, database); bar != nil {
		body = NewProgressReader(pr, bar)
		defer bar.SetTotal(-1, true)
	}
	tr := &trackReader{r: body}

	location, putErr := o.backend.Put(ctx, database, res.Artifact, tr)

	// Unblock the dump side if the backend bailed out early, then collect
	// its verdict.
	pr.CloseWithError(io.ErrClosedPipe)
	dumpErr := <-errChan

	switch {
	case tr.readErr != nil:
		// The stream itself failed: the dump side's error is authoritative,
		// the backend only saw its fallout.
		res.Err = dumpErr
	case putErr != nil:
		res.Err = putErr
	case dumpErr != nil && !errors.Is(dumpErr, io.ErrClosedPipe):
		res.Err = dumpErr
	}

	if res.Err != nil {
		if log != nil {
			log.Error("Backup failed", "db", database, "error", res.Err)
		}
		return res
	}

	res.Stored = true
	res.Location = location
	res.Size = tr.n

	// Retention is best-effort: the backup itself already succeeded.
	res.Pruned, res.RetentionErr = EnforceRetention(ctx, o.backend, database, o.opts.Retention, log)
	if res.RetentionErr != nil && log != nil {
		log.Warn("Retention enforcement incomplete", "db", database, "error", res.RetentionErr)
	}

	return res
}
