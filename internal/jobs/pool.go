// Package jobs runs submitted work on a fixed set of background workers.
// Submission never blocks; callers observe completion through the job record.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrPoolStopped = errors.New("job pool is stopped")
	ErrJobNotFound = errors.New("job not found")
	ErrUnknownKind = errors.New("unknown job kind")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is the externally visible record of one submission.
type Job struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Status      Status      `json:"status"`
	Attempts    int         `json:"attempts"`
	Payload     interface{} `json:"payload,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a final state.
func (j Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Handler executes one attempt of a job. It may be called more than once
// for the same job, so it must be safe to re-run.
type Handler func(ctx context.Context, job Job) (interface{}, error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Options configures a Pool.
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// MaxHistory bounds how many finished jobs are remembered.
	MaxHistory int
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = 1000
	}
}

// Pool is a bounded queue drained by a fixed number of workers.
type Pool struct {
	opts     Options
	handlers map[string]Handler
	queue    chan string

	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	started bool
	stopped bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool creates a pool; register handlers with Handle before Start.
func NewPool(opts Options) *Pool {
	opts.setDefaults()
	return &Pool{
		opts:     opts,
		handlers: make(map[string]Handler),
		queue:    make(chan string, opts.QueueSize),
		jobs:     make(map[string]*Job),
	}
}

// Handle registers the handler for kind.
func (p *Pool) Handle(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the workers. Jobs submitted before Start wait in the queue.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	p.group = g

	logrus.WithFields(logrus.Fields{
		"workers":    p.opts.Workers,
		"queue_size": p.opts.QueueSize,
	}).Info("Job pool started")
}

// Stop refuses further submissions and waits for queued jobs to finish.
// When ctx expires first, running handlers are cancelled and ctx.Err() is
// returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	g, cancel := p.group, p.cancel
	p.mu.Unlock()

	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		logrus.Info("Job pool stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Submit queues a job and returns its id without waiting for it to run.
func (p *Pool) Submit(kind string, payload interface{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return "", ErrPoolStopped
	}
	if _, ok := p.handlers[kind]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      StatusPending,
		Payload:     payload,
		SubmittedAt: time.Now(),
	}

	select {
	case p.queue <- job.ID:
	default:
		return "", ErrQueueFull
	}

	p.jobs[job.ID] = job
	p.order = append(p.order, job.ID)
	p.pruneLocked()

	logrus.WithFields(logrus.Fields{"job_id": job.ID, "kind": kind}).Info("Job submitted")
	return job.ID, nil
}

// Get returns a copy of the job record.
func (p *Pool) Get(id string) (Job, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns every remembered job, most recent first.
func (p *Pool) List() []Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Job, 0, len(p.order))
	for i := len(p.order) - 1; i >= 0; i-- {
		out = append(out, *p.jobs[p.order[i]])
	}
	return out
}

// Pending returns the number of jobs waiting in the queue.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Capacity returns the queue size.
func (p *Pool) Capacity() int {
	return cap(p.queue)
}

// Running reports whether workers are accepting jobs.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started && !p.stopped
}

// pruneLocked drops the oldest finished jobs beyond MaxHistory.
func (p *Pool) pruneLocked() {
	excess := len(p.order) - p.opts.MaxHistory
	if excess <= 0 {
		return
	}
	kept := p.order[:0]
	for _, id := range p.order {
		if excess > 0 && p.jobs[id].Done() {
			delete(p.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	p.order = kept
}

func (p *Pool) work(ctx context.Context, worker int) {
	for id := range p.queue {
		p.run(ctx, worker, id)
	}
}

func (p *Pool) run(ctx context.Context, worker int, id string) {
	p.mu.Lock()
	job, ok := p.jobs[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	handler := p.handlers[job.Kind]
	started := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &started
	p.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"job_id": id, "kind": job.Kind, "worker": worker})

	var (
		result interface{}
		err    error
	)
retry:
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		p.mu.Lock()
		job.Attempts = attempt
		snapshot := *job
		p.mu.Unlock()

		result, err = p.attempt(ctx, handler, snapshot)
		if err == nil {
			break
		}

		var perm *permanentError
		if errors.As(err, &perm) || attempt == p.opts.MaxAttempts {
			break
		}

		wait := p.opts.Backoff * time.Duration(attempt)
		log.WithError(err).Warnf("Attempt %d failed, retrying in %s", attempt, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		}
	}

	finished := time.Now()
	p.mu.Lock()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusSucceeded
		job.Result = result
		job.Error = ""
	}
	attempts := job.Attempts
	p.mu.Unlock()

	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Error("Job failed")
		return
	}
	log.WithFields(logrus.Fields{
		"attempts": attempts,
		"duration": finished.Sub(started).String(),
	}).Info("Job succeeded")
}

func (p *Pool) attempt(ctx context.Context, h Handler, job Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}
