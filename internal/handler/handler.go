package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"forwarding-audit-go/internal/importer"
	"forwarding-audit-go/internal/jobs"
	"forwarding-audit-go/internal/metrics"
	"forwarding-audit-go/internal/report"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/scheduler"
)

// Backend is the storage view the handlers need besides the two stores.
type Backend interface {
	Ping(ctx context.Context) error
}

// ReportService queues report jobs and exposes their records.
type ReportService interface {
	Submit(req report.Request) (string, error)
	Job(id string) (jobs.Job, error)
	Jobs() []jobs.Job
}

// Queue reports job queue occupancy.
type Queue interface {
	Pending() int
	Capacity() int
	Running() bool
}

// Dependencies groups everything the handlers are built from.
type Dependencies struct {
	BackendName string
	Backend     Backend
	Rules       repository.RuleStore
	Filters     repository.FilterStore
	Importer    *importer.Importer
	Reports     ReportService
	Queue       Queue
	Scheduler   *scheduler.Scheduler
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
}

// Handlers contains all HTTP handlers
type Handlers struct {
	backendName string
	backend     Backend
	rules       repository.RuleStore
	filters     repository.FilterStore
	importer    *importer.Importer
	reports     ReportService
	queue       Queue
	scheduler   *scheduler.Scheduler
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		backendName: deps.BackendName,
		backend:     deps.Backend,
		rules:       deps.Rules,
		filters:     deps.Filters,
		importer:    deps.Importer,
		reports:     deps.Reports,
		queue:       deps.Queue,
		scheduler:   deps.Scheduler,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/rules", h.GetRules)
		api.POST("/rules", h.CreateRule)
		api.GET("/rules/search", h.SearchRules)
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id/investigation", h.UpdateInvestigationNote)
		api.DELETE("/rules/:id", h.DeleteRule)
		api.GET("/rules/:id/filter", h.GetRuleFilter)

		api.GET("/stats", h.GetStatistics)
		api.POST("/import", h.ImportRecords)

		api.POST("/reports", h.SubmitReport)
		api.POST("/reports/generate", h.submitVariant(report.VariantFull))
		api.POST("/reports/stats", h.submitVariant(report.VariantStats))
		api.POST("/reports/rules-only", h.submitVariant(report.VariantRulesOnly))
		api.GET("/reports/jobs", h.ListReportJobs)
		api.GET("/reports/jobs/:id", h.GetReportJob)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Storage:   "ok",
		Backend:   h.backendName,
		Metrics:   make(map[string]string),
	}

	if err := h.backend.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Storage = "error"
		logrus.Errorf("Storage health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		st := h.scheduler.Status()
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = st.NextRun.Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	if h.queue != nil {
		response.Metrics["jobs_pending"] = strconv.Itoa(h.queue.Pending())
		response.Metrics["jobs_capacity"] = strconv.Itoa(h.queue.Capacity())
		if !h.queue.Running() {
			response.Metrics["jobs"] = "stopped"
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
