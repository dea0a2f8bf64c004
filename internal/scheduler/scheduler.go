package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/report"
)

const stopTimeout = 30 * time.Second

// Submitter queues a report job.
type Submitter interface {
	Submit(req report.Request) (string, error)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running   bool      `json:"running"`
	Cron      string    `json:"cron"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run"`
	LastJobID string    `json:"last_job_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler submits a full report on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.SchedulerConfig
	submitter Submitter
	isRunning bool
	lastJobID string
	lastError string
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg config.SchedulerConfig, submitter Submitter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		config:    cfg,
		submitter: submitter,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	entryID, err := s.cron.AddFunc(s.config.Cron, s.submitReport)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with schedule: %s", s.config.Cron)
	return nil
}

// Stop stops the scheduler and waits for a running tick to finish. The
// lock is released before waiting since a tick records its result under it.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	ctx := s.cron.Stop()
	s.cron.Remove(s.entryID)
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(stopTimeout):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce submits a full report immediately and returns the job id
func (s *Scheduler) RunOnce() (string, error) {
	logrus.Info("Submitting report once")
	return s.submit()
}

// Status returns the current schedule state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:   s.isRunning,
		Cron:      s.config.Cron,
		LastJobID: s.lastJobID,
		LastError: s.lastError,
	}
	if s.isRunning {
		entry := s.cron.Entry(s.entryID)
		st.NextRun = entry.Next
		st.LastRun = entry.Prev
	}
	return st
}

func (s *Scheduler) submitReport() {
	if _, err := s.submit(); err != nil {
		logrus.Errorf("Failed to submit scheduled report: %v", err)
	}
}

func (s *Scheduler) submit() (string, error) {
	id, err := s.submitter.Submit(report.Request{Variant: report.VariantFull})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = err.Error()
		return "", err
	}
	s.lastJobID = id
	s.lastError = ""
	logrus.WithField("job_id", id).Info("Report job submitted")
	return id, nil
}
