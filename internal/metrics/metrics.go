package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"forwarding-audit-go/internal/model"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	TotalRules       prometheus.Gauge
	ActiveForwarding prometheus.Gauge
	RulesWithFilters prometheus.Gauge
	RulesWithErrors  prometheus.Gauge
	TotalFilters     prometheus.Gauge

	ImportedRecords   prometheus.Counter
	JobsSubmitted     *prometheus.CounterVec
	ReportsGenerated  *prometheus.CounterVec
	ReportsFailed     *prometheus.CounterVec
	ReportDuration    prometheus.Histogram
	DeliverySuccesses prometheus.Counter
	DeliveryFailures  prometheus.Counter
}

// NewMetrics creates new Prometheus metrics registered with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TotalRules: f.NewGauge(prometheus.GaugeOpts{
			Name: "forwarding_audit_total_rules",
			Help: "Number of stored auto-forwarding rules",
		}),
		ActiveForwarding: f.NewGauge(prometheus.GaugeOpts{
			Name: "forwarding_audit_active_forwarding",
			Help: "Number of rules with a forwarding address",
		}),
		RulesWithFilters: f.NewGauge(prometheus.GaugeOpts{
			Name: "forwarding_audit_rules_with_filters",
			Help: "Number of rules that own a forwarding filter",
		}),
		RulesWithErrors: f.NewGauge(prometheus.GaugeOpts{
			Name: "forwarding_audit_rules_with_errors",
			Help: "Number of rules whose audit recorded an error",
		}),
		TotalFilters: f.NewGauge(prometheus.GaugeOpts{
			Name: "forwarding_audit_total_filters",
			Help: "Number of stored forwarding filters",
		}),
		ImportedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "forwarding_audit_imported_records_total",
			Help: "Total number of records applied by imports",
		}),
		JobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forwarding_audit_jobs_submitted_total",
			Help: "Total number of background jobs submitted",
		}, []string{"kind"}),
		ReportsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forwarding_audit_reports_generated_total",
			Help: "Total number of reports written",
		}, []string{"variant"}),
		ReportsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forwarding_audit_reports_failed_total",
			Help: "Total number of report attempts that failed",
		}, []string{"variant"}),
		ReportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "forwarding_audit_report_duration_seconds",
			Help:    "Time spent generating reports",
			Buckets: prometheus.DefBuckets,
		}),
		DeliverySuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "forwarding_audit_delivery_successes_total",
			Help: "Total number of reports mailed successfully",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "forwarding_audit_delivery_failures_total",
			Help: "Total number of report deliveries that failed",
		}),
	}
}

// ObserveStatistics refreshes the store gauges from a statistics snapshot.
func (m *Metrics) ObserveStatistics(s model.Statistics) {
	m.TotalRules.Set(float64(s.TotalRules))
	m.ActiveForwarding.Set(float64(s.ActiveForwarding))
	m.RulesWithFilters.Set(float64(s.RulesWithFilters))
	m.RulesWithErrors.Set(float64(s.RulesWithErrors))
	m.TotalFilters.Set(float64(s.TotalFilters))
}
