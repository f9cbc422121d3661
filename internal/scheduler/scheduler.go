// Package scheduler runs recurring backup jobs on cron schedules. Each job
// carries an overlap guard so a slow run is skipped rather than stacked.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
	"github.com/sqlkeep/sqlkeep/internal/logger"
)

// DefaultCronSpec fires twice a day, at 03:00 and 15:00.
const DefaultCronSpec = "0 3,15 * * *"

// Job is one recurring backup. Specs holds the cron expressions it fires on.
type Job struct {
	Name  string
	Specs []string
	Run   func(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger

	mu      sync.Mutex
	running map[string]bool
	entries []cron.EntryID
}

func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		log:     log,
		running: make(map[string]bool),
	}
}

// Add registers the job under each of its cron specs. An invalid spec
// rejects the whole job.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return apperrors.New(apperrors.TypeConfig, "scheduled job needs a name", "")
	}
	if len(job.Specs) == 0 {
		job.Specs = []string{DefaultCronSpec}
	}

	for _, spec := range job.Specs {
		id, err := s.cron.AddFunc(spec, func() {
			s.execute(job)
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeConfig,
				fmt.Sprintf("invalid schedule %q for %s", spec, job.Name),
				"Use a 5-field cron expression or times like \"03:00,15:00\".")
		}
		s.mu.Lock()
		s.entries = append(s.entries, id)
		s.mu.Unlock()
	}
	return nil
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		if s.log != nil {
			s.log.Warn("Skipping scheduled backup, previous run still in progress", "job", job.Name)
		}
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	if s.log != nil {
		s.log.Info("Starting scheduled backup", "job", job.Name)
	}
	if err := job.Run(context.Background()); err != nil && s.log != nil {
		s.log.Error("Scheduled backup failed", "job", job.Name, "error", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done once in-flight jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// NextRuns reports the upcoming fire times, soonest first.
func (s *Scheduler) NextRuns() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []time.Time
	for _, id := range s.entries {
		entry := s.cron.Entry(id)
		if !entry.Next.IsZero() {
			next = append(next, entry.Next)
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Before(next[j]) })
	return next
}

// TimesToCron converts a comma-separated list of HH:MM times into cron
// expressions. Times sharing a minute collapse into one expression; an empty
// list yields the default schedule.
func TimesToCron(times string) ([]string, error) {
	times = strings.TrimSpace(times)
	if times == "" {
		return []string{DefaultCronSpec}, nil
	}

	hoursByMinute := make(map[int][]int)
	var minuteOrder []int
	for _, raw := range strings.Split(times, ",") {
		raw = strings.TrimSpace(raw)
		ts, err := time.Parse("15:04", raw)
		if err != nil {
			return nil, apperrors.New(apperrors.TypeConfig,
				fmt.Sprintf("invalid time %q", raw),
				"Times must be 24-hour HH:MM, e.g. \"03:00,15:30\".")
		}
		minute := ts.Minute()
		if _, seen := hoursByMinute[minute]; !seen {
			minuteOrder = append(minuteOrder, minute)
		}
		hoursByMinute[minute] = append(hoursByMinute[minute], ts.Hour())
	}

	sort.Ints(minuteOrder)
	var specs []string
	for _, minute := range minuteOrder {
		hours := hoursByMinute[minute]
		sort.Ints(hours)
		parts := make([]string, 0, len(hours))
		for _, h := range hours {
			parts = append(parts, strconv.Itoa(h))
		}
		specs = append(specs, fmt.Sprintf("%d %s * * *", minute, strings.Join(parts, ",")))
	}
	return specs, nil
}
