package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/importer"
	"forwarding-audit-go/internal/jobs"
	"forwarding-audit-go/internal/metrics"
	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/report"
	"forwarding-audit-go/internal/repository/memrepo"
	"forwarding-audit-go/internal/scheduler"
	"forwarding-audit-go/internal/service"
)

type testEnv struct {
	router *gin.Engine
	store  *memrepo.Store
	fs     afero.Fs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memrepo.New()
	fs := afero.NewMemMapFs()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	pool := jobs.NewPool(jobs.Options{Workers: 1, QueueSize: 8})
	gen := report.NewGenerator(fs, "/reports", report.TextRenderer{}, store.Rules(), store.Filters())
	svc := service.NewReportService(pool, gen, ".txt", nil, m)
	pool.Start(context.Background())
	t.Cleanup(func() { pool.Stop(context.Background()) })

	sched := scheduler.NewScheduler(config.SchedulerConfig{Cron: "0 0 6 * * *"}, svc)
	t.Cleanup(func() { sched.Stop() })

	h := NewHandlers(Dependencies{
		BackendName: config.BackendMemory,
		Backend:     store,
		Rules:       store.Rules(),
		Filters:     store.Filters(),
		Importer:    importer.New(store.Rules(), store.Filters()),
		Reports:     svc,
		Queue:       pool,
		Scheduler:   sched,
		Metrics:     m,
		Gatherer:    reg,
	})

	r := gin.New()
	h.SetupRoutes(r)
	return &testEnv{router: r, store: store, fs: fs}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (e *testEnv) seed(t *testing.T) (withFilter, plain uint) {
	t.Helper()
	ctx := context.Background()

	a, err := e.store.Rules().Create(ctx, model.Rule{Email: "user1@x.com", Name: "One", ForwardingEmail: "fwd@x.com"})
	require.NoError(t, err)
	_, err = e.store.Filters().Create(ctx, a.ID,
		map[string]interface{}{"from": "a@b.com"},
		map[string]interface{}{"forward": "c@d.com"},
		"2024-01-15")
	require.NoError(t, err)

	b, err := e.store.Rules().Create(ctx, model.Rule{Email: "USER10@x.com", Name: "Ten", Error: "Permission denied"})
	require.NoError(t, err)
	_, err = e.store.Rules().Create(ctx, model.Rule{Email: "other@x.com", Name: "Other"})
	require.NoError(t, err)

	return a.ID, b.ID
}

func TestCreateRule(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/rules", map[string]string{
		"email": "user1@example.com",
		"name":  "John Doe",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rule RuleResponse
	decode(t, w, &rule)
	assert.NotZero(t, rule.ID)
	assert.Equal(t, "user1@example.com", rule.Email)
	assert.Nil(t, rule.ForwardingEmail)
	assert.False(t, rule.HasForwardingFilters)

	w = e.do(t, http.MethodPost, "/api/v1/rules", map[string]string{
		"email": "user1@example.com",
		"name":  "Someone Else",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, "duplicate_email", errResp.Error)

	w = e.do(t, http.MethodPost, "/api/v1/rules", map[string]string{"name": "No Email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/rules", map[string]string{
		"email": "blank@example.com",
		"name":  "   ",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &errResp)
	assert.Equal(t, "invalid_rule", errResp.Error)
}

func TestGetRule(t *testing.T) {
	e := newTestEnv(t)
	withFilter, plain := e.seed(t)

	w := e.do(t, http.MethodGet, "/api/v1/rules/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rule RuleResponse
	decode(t, w, &rule)
	assert.Equal(t, withFilter, rule.ID)
	assert.True(t, rule.HasForwardingFilters)
	require.NotNil(t, rule.Filter)
	assert.Equal(t, "a@b.com", rule.Filter.Criteria["from"])

	w = e.do(t, http.MethodGet, "/api/v1/rules/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rule)
	assert.Equal(t, plain, rule.ID)
	assert.Nil(t, rule.Filter)
	require.NotNil(t, rule.Error)
	assert.Equal(t, "Permission denied", *rule.Error)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/rules/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/rules/abc", nil).Code)
}

func TestListRules(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rules []RuleResponse
	decode(t, w, &rules)
	require.Len(t, rules, 3)
	assert.Equal(t, uint(1), rules[0].ID)
	assert.NotNil(t, rules[0].Filter)

	w = e.do(t, http.MethodGet, "/api/v1/rules?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, uint(2), rules[0].ID)

	w = e.do(t, http.MethodGet, "/api/v1/rules?skip=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rules)
	assert.Empty(t, rules)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/rules?limit=ten", nil).Code)
}

func TestUpdateInvestigationNote(t *testing.T) {
	e := newTestEnv(t)
	_, plain := e.seed(t)

	w := e.do(t, http.MethodPut, "/api/v1/rules/2/investigation", map[string]string{
		"investigation_note": "Approved by manager",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rule RuleResponse
	decode(t, w, &rule)
	require.NotNil(t, rule.InvestigationNote)
	assert.Equal(t, "Approved by manager", *rule.InvestigationNote)

	stored, err := e.store.Rules().GetByID(context.Background(), plain)
	require.NoError(t, err)
	assert.Equal(t, "Approved by manager", stored.InvestigationNote)
	assert.Equal(t, "Ten", stored.Name)

	w = e.do(t, http.MethodPut, "/api/v1/rules/99/investigation", map[string]string{"investigation_note": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRuleRemovesFilter(t *testing.T) {
	e := newTestEnv(t)
	withFilter, _ := e.seed(t)
	ctx := context.Background()

	w := e.do(t, http.MethodDelete, "/api/v1/rules/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	f, err := e.store.Filters().GetForRule(ctx, withFilter)
	require.NoError(t, err)
	assert.Nil(t, f)

	count, err := e.store.Filters().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/rules/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/rules/1", nil).Code)
}

func TestSearchRules(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/v1/rules/search?email=user1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rules []RuleResponse
	decode(t, w, &rules)
	require.Len(t, rules, 2)

	w = e.do(t, http.MethodGet, "/api/v1/rules/search?email=user1&has_filters=false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, "USER10@x.com", rules[0].Email)

	w = e.do(t, http.MethodGet, "/api/v1/rules/search?email=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/rules/search?has_filters=maybe", nil).Code)
}

func TestGetRuleFilter(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/v1/rules/1/filter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var f FilterResponse
	decode(t, w, &f)
	assert.Equal(t, uint(1), f.RuleID)
	assert.Equal(t, "c@d.com", f.Action["forward"])
	require.NotNil(t, f.CreatedAt)
	assert.Equal(t, "2024-01-15", *f.CreatedAt)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/rules/2/filter", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/rules/99/filter", nil).Code)
}

func TestGetStatistics(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int64
	decode(t, w, &stats)
	assert.Equal(t, map[string]int64{
		"total_rules":        3,
		"active_forwarding":  1,
		"rules_with_filters": 1,
		"rules_with_errors":  1,
		"total_filters":      1,
	}, stats)
}

func TestImportRecords(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/import", importer.SampleRecords())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res importer.Result
	decode(t, w, &res)
	assert.Equal(t, importer.Result{Created: 4, FiltersCreated: 3}, res)

	w = e.do(t, http.MethodPost, "/api/v1/import", importer.SampleRecords())
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Equal(t, 4, res.Updated)

	w = e.do(t, http.MethodPost, "/api/v1/import", []map[string]string{{"name": "no email"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/import", map[string]string{"email": "not a list"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func waitForJob(t *testing.T, e *testEnv, id string) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/v1/reports/jobs/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitReport(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodPost, "/api/v1/reports/rules-only?report_name=audit", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted JobAcceptedResponse
	decode(t, w, &accepted)
	assert.NotEmpty(t, accepted.JobID)
	assert.Equal(t, "rules-only", accepted.Variant)

	job := waitForJob(t, e, accepted.JobID)
	assert.Equal(t, jobs.StatusSucceeded, job.Status, job.Error)

	data, err := afero.ReadFile(e.fs, "/reports/audit.txt")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Email Forwarding Rules Only Report")
	assert.NotContains(t, string(data), "Filter Configuration")

	w = e.do(t, http.MethodPost, "/api/v1/reports", ReportRequest{Variant: "stats"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/reports/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []jobs.Job
	decode(t, w, &list)
	assert.Len(t, list, 2)
}

func TestSubmitReportValidation(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/reports/generate?report_name=../../etc/passwd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/reports", ReportRequest{Variant: "weekly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/reports/jobs/nope", nil).Code)
}

type fullQueue struct{ ReportService }

func (fullQueue) Submit(req report.Request) (string, error) { return "", jobs.ErrQueueFull }

func TestSubmitReportQueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(Dependencies{Reports: fullQueue{}})
	r := gin.New()
	h.SetupRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reports/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/scheduler/run-once", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]string
	decode(t, w, &body)
	job := waitForJob(t, e, body["job_id"])
	assert.Equal(t, jobs.StatusSucceeded, job.Status, job.Error)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/scheduler/start", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodPost, "/api/v1/scheduler/start", nil).Code)

	w = e.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	decode(t, w, &status)
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, body["job_id"], status["last_job_id"])

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/scheduler/stop", nil).Code)
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, config.BackendMemory, health.Backend)
	assert.Equal(t, "stopped", health.Metrics["scheduler"])

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
