package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"forwarding-audit-go/internal/jobs"
	"forwarding-audit-go/internal/metrics"
	"forwarding-audit-go/internal/report"
)

// KindReport is the job kind of report generation.
const KindReport = "report"

// Deliverer mails a finished artifact.
type Deliverer interface {
	DeliverReport(ctx context.Context, art *report.Artifact) error
}

// ReportService submits report jobs and runs them on the pool.
type ReportService struct {
	pool      *jobs.Pool
	generator *report.Generator
	deliverer Deliverer
	metrics   *metrics.Metrics
	ext       string
}

// NewReportService registers the report handler on pool. deliverer may be
// nil when delivery is disabled.
func NewReportService(pool *jobs.Pool, generator *report.Generator, ext string, deliverer Deliverer, m *metrics.Metrics) *ReportService {
	s := &ReportService{
		pool:      pool,
		generator: generator,
		deliverer: deliverer,
		metrics:   m,
		ext:       ext,
	}
	pool.Handle(KindReport, s.handle)
	return s
}

// Submit validates req and queues it. It returns as soon as the job is
// queued; the artifact shows up in the job result.
func (s *ReportService) Submit(req report.Request) (string, error) {
	variant, err := report.ParseVariant(string(req.Variant))
	if err != nil {
		return "", err
	}
	req.Variant = variant
	if _, err := report.ResolveName(req.Variant, req.Name, s.ext, time.Now()); err != nil {
		return "", err
	}

	id, err := s.pool.Submit(KindReport, req)
	if err != nil {
		return "", err
	}
	s.metrics.JobsSubmitted.WithLabelValues(KindReport).Inc()
	return id, nil
}

// Job returns the record of one report job.
func (s *ReportService) Job(id string) (jobs.Job, error) {
	return s.pool.Get(id)
}

// Jobs returns every remembered job, most recent first.
func (s *ReportService) Jobs() []jobs.Job {
	return s.pool.List()
}

func (s *ReportService) handle(ctx context.Context, job jobs.Job) (interface{}, error) {
	req, ok := job.Payload.(report.Request)
	if !ok {
		return nil, jobs.Permanent(fmt.Errorf("unexpected report payload %T", job.Payload))
	}

	start := time.Now()
	art, err := s.generator.Generate(ctx, req)
	s.metrics.ReportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.ReportsFailed.WithLabelValues(string(req.Variant)).Inc()
		if errors.Is(err, report.ErrInvalidName) || errors.Is(err, report.ErrUnknownVariant) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	s.metrics.ReportsGenerated.WithLabelValues(string(art.Variant)).Inc()

	if s.deliverer != nil {
		// The artifact is already in place, so a failed delivery does not
		// fail the job.
		if err := s.deliverer.DeliverReport(ctx, art); err != nil {
			s.metrics.DeliveryFailures.Inc()
			logrus.WithFields(logrus.Fields{
				"job_id": job.ID,
				"report": art.Name,
			}).WithError(err).Error("Failed to deliver report")
		} else {
			s.metrics.DeliverySuccesses.Inc()
		}
	}

	return art, nil
}
