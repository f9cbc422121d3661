package backup

import (
	"time"

	"github.com/sqlkeep/sqlkeep/internal/storage"
)

// DatabaseResult is the per-database outcome of one run.
type DatabaseResult struct {
	Database string
	Artifact string
	Location string
	Size     int64
	Stored   bool

	// Err is the dump/compress/store failure, if any. Retention problems are
	// reported separately and never flip a stored backup to failed.
	Err          error
	Pruned       []storage.ObjectInfo
	RetentionErr error
}

func (r DatabaseResult) OK() bool {
	return r.Err == nil
}

// RunResult aggregates one orchestrated run. Databases appear in
// enumeration order regardless of completion order.
type RunResult struct {
	RunID      string
	Host       string
	StartedAt  time.Time
	FinishedAt time.Time
	Databases  []DatabaseResult
}

// OK reports overall success: every database dumped and stored.
func (r *RunResult) OK() bool {
	for _, d := range r.Databases {
		if !d.OK() {
			return false
		}
	}
	return true
}

// Failures returns the databases whose backup failed.
func (r *RunResult) Failures() []DatabaseResult {
	var failed []DatabaseResult
	for _, d := range r.Databases {
		if !d.OK() {
			failed = append(failed, d)
		}
	}
	return failed
}

func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalSize sums the stored artifact sizes.
func (r *RunResult) TotalSize() int64 {
	var total int64
	for _, d := range r.Databases {
		if d.Stored {
			total += d.Size
		}
	}
	return total
}
