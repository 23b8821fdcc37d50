// Package scheduler submits recurring scans on cron schedules. Each job holds
// a scan configuration and hands it to the lifecycle controller whenever its
// schedule fires. Firings that find a scan already in progress are skipped.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/request"
)

// defaultSubmitTimeout bounds one submission to the backend.
const defaultSubmitTimeout = 30 * time.Second

// Submitter starts scans. *lifecycle.Controller satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cfg request.ScanConfig) (*lifecycle.Accepted, error)
}

// Scheduler manages scheduled scan jobs.
type Scheduler struct {
	cron          *cron.Cron
	submitter     Submitter
	logger        *logging.Logger
	submitTimeout time.Duration
	jobs          map[uuid.UUID]*ScheduledJob
	mu            sync.RWMutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// ScheduledJob is a snapshot of one scheduled scan.
type ScheduledJob struct {
	ID        uuid.UUID
	CronID    cron.EntryID
	Name      string
	Cron      string
	Scan      request.ScanConfig
	LastRun   time.Time
	NextRun   time.Time
	Runs      int
	Skipped   int
	LastError string
	Running   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSubmitTimeout bounds each submission. Non-positive values are ignored.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cron = cron.New(cron.WithLocation(loc))
	}
}

// New creates a scheduler that submits through submitter.
func New(submitter Submitter, logger *logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:          cron.New(),
		submitter:     submitter,
		logger:        logger.WithComponent("scheduler"),
		submitTimeout: defaultSubmitTimeout,
		jobs:          make(map[uuid.UUID]*ScheduledJob),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load adds every entry. It stops at the first entry that cannot be scheduled.
func (s *Scheduler) Load(entries []config.ScheduleEntry) error {
	for _, entry := range entries {
		if _, err := s.AddJob(entry); err != nil {
			return err
		}
	}
	return nil
}

// AddJob schedules entry and returns the new job's ID.
func (s *Scheduler) AddJob(entry config.ScheduleEntry) (uuid.UUID, error) {
	if entry.Name == "" {
		return uuid.Nil, errors.ErrInvalidConfig("name", "schedule entry needs a name")
	}
	if _, err := cron.ParseStandard(entry.Cron); err != nil {
		return uuid.Nil, errors.WrapScanError(errors.CodeInvalidConfig,
			fmt.Sprintf("Invalid cron expression %q for job %q", entry.Cron, entry.Name), err).
			WithContext("field", "cron")
	}

	id := uuid.New()

	// Firings look the job up under mu, so it is registered before they can see it.
	s.mu.Lock()
	cronID, err := s.cron.AddFunc(entry.Cron, func() { s.execute(id) })
	if err != nil {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	s.jobs[id] = &ScheduledJob{
		ID:     id,
		CronID: cronID,
		Name:   entry.Name,
		Cron:   entry.Cron,
		Scan:   entry.Scan,
	}
	s.mu.Unlock()

	s.logger.Info("Added scheduled scan", "job", entry.Name, "schedule", entry.Cron, "network", entry.Scan.NetworkRange)
	return id, nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewScanError(errors.CodeNotFound, "Scheduled job not found").WithContext("job_id", id.String())
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, id)

	s.logger.Info("Removed scheduled scan", "job", job.Name)
	return nil
}

// Jobs returns snapshots of all jobs ordered by name.
func (s *Scheduler) Jobs() []ScheduledJob {
	now := time.Now()

	s.mu.RLock()
	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if next := s.cron.Entry(job.CronID).Next; !next.IsZero() {
			snapshot.NextRun = next
		} else if schedule, err := cron.ParseStandard(job.Cron); err == nil {
			snapshot.NextRun = schedule.Next(now)
		}
		jobs = append(jobs, snapshot)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Start begins firing schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler has been stopped")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops firing schedules, cancels in-flight submissions and waits for
// them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.cancel()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.WrapScanError(errors.CodeTimeout, "Timed out waiting for scheduled submissions", ctx.Err())
	}
}

// execute submits the job's scan once.
func (s *Scheduler) execute(id uuid.UUID) {
	job, ok := s.prepareJobExecution(id)
	if !ok {
		return
	}
	logger := s.logger.WithFields("job", job.Name)

	ctx, cancel := context.WithTimeout(s.ctx, s.submitTimeout)
	defer cancel()

	accepted, err := s.submitter.Submit(ctx, job.Scan)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.jobs[id]
	if !exists {
		return
	}
	current.Running = false

	switch {
	case err == nil:
		current.Runs++
		current.LastError = ""
		logger.InfoScan("Scheduled scan submitted", accepted.Command, "epoch", accepted.Epoch)
	case errors.IsCode(err, errors.CodeAlreadyRunning):
		current.Skipped++
		logger.Info("Scan already in progress, skipping scheduled run")
	default:
		current.LastError = err.Error()
		logger.Error("Scheduled scan failed", "error", err, "code", errors.GetCode(err))
	}
}

// prepareJobExecution marks the job as running. It reports false when the
// job is gone or its previous firing has not returned yet.
func (s *Scheduler) prepareJobExecution(id uuid.UUID) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ScheduledJob{}, false
	}
	if job.Running {
		job.Skipped++
		s.logger.Info("Previous submission still pending, skipping", "job", job.Name)
		return ScheduledJob{}, false
	}

	job.Running = true
	job.LastRun = time.Now()
	return *job, true
}
