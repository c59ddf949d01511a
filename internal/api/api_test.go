package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengguiyouziyi/social-auto-upload/internal/engine"
	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/history"
	"github.com/mengguiyouziyi/social-auto-upload/internal/monitor"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

type runnerFunc func(ctx context.Context, t *task.Task, rep engine.Reporter) (any, error)

func (f runnerFunc) Run(ctx context.Context, t *task.Task, rep engine.Reporter) (any, error) {
	return f(ctx, t, rep)
}

type testEnv struct {
	server    *httptest.Server
	scheduler *engine.Scheduler
	history   *history.Store
	monitor   *monitor.Monitor
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := events.NewEmitter(logger)

	sched := engine.New(engine.Options{Logger: logger, Emitter: emitter})
	sched.RegisterRunner(task.TypePublish, runnerFunc(func(ctx context.Context, tk *task.Task, rep engine.Reporter) (any, error) {
		return map[string]any{"published": len(tk.Platforms)}, nil
	}))

	hist := history.New()
	emitter.On(events.TaskCompleted, func(ev events.Event) {
		if ev.Execution != nil {
			hist.Record(ev.Execution)
		}
	})

	mon := monitor.New(monitor.Options{
		Logger:  logger,
		Emitter: emitter,
		Source:  func() []*task.Task { return sched.Tasks(engine.Filter{}) },
	})

	srv := NewServer(Options{
		Addr:      "127.0.0.1:0",
		AuthToken: authToken,
		Scheduler: sched,
		History:   hist,
		Monitor:   mon,
		Logger:    logger,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, scheduler: sched, history: hist, monitor: mon}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func publishSpec(name string) map[string]any {
	return map[string]any{
		"name":        name,
		"description": "publish the evening batch",
		"type":        "publish",
		"platforms":   []string{"douyin"},
		"config": map[string]any{
			"contentType": "video",
			"fileIds":     []string{"f1"},
		},
	}
}

func (e *testEnv) createTask(t *testing.T, name string) task.Task {
	resp := e.do(t, http.MethodPost, "/v1/tasks/", publishSpec(name))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[task.Task](t, resp)
}

func TestCreateAndGetTask(t *testing.T) {
	env := newTestEnv(t, "")

	created := env.createTask(t, "evening publish")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.Equal(t, task.PriorityMedium, created.Priority, "defaults applied")

	resp := env.do(t, http.MethodGet, "/v1/tasks/"+created.ID+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[task.Task](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateTaskValidationErrors(t *testing.T) {
	env := newTestEnv(t, "")

	spec := publishSpec("x") // name too short
	delete(spec, "config")
	resp := env.do(t, http.MethodPost, "/v1/tasks/", spec)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Code       string   `json:"code"`
			Violations []string `json:"violations"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_input", body.Error.Code)
	assert.NotEmpty(t, body.Error.Violations)
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/v1/tasks/ghost/", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunTaskRecordsHistory(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")

	resp := env.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, created.ID, result["task_id"])

	page := env.history.List(history.Query{TaskID: created.ID})
	require.Equal(t, 1, page.Total)
	assert.Equal(t, task.StatusCompleted, page.Records[0].Status)

	resp = env.do(t, http.MethodGet, "/v1/history/?task_id="+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[history.Page](t, resp)
	assert.Equal(t, 1, listed.Total)
}

func TestDependencyEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	a := env.createTask(t, "fetch content")
	b := env.createTask(t, "publish content")

	resp := env.do(t, http.MethodPut, "/v1/tasks/"+b.ID+"/dependencies",
		map[string]any{"dependencies": []string{a.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// closing the cycle is rejected with the offending path
	resp = env.do(t, http.MethodPut, "/v1/tasks/"+a.ID+"/dependencies",
		map[string]any{"dependencies": []string{b.ID}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// running the dependent before the dependency completes is a conflict
	resp = env.do(t, http.MethodPost, "/v1/tasks/"+b.ID+"/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/tasks/"+b.ID+"/dependencies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deps := decode[map[string]any](t, resp)
	assert.Equal(t, false, deps["can_execute"])

	resp = env.do(t, http.MethodGet, "/v1/tasks/dependencies/order", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := decode[map[string]any](t, resp)
	assert.Len(t, order["order"], 2)
}

func TestValidateDependenciesDryRun(t *testing.T) {
	env := newTestEnv(t, "")
	a := env.createTask(t, "fetch content")
	b := env.createTask(t, "publish content")

	resp := env.do(t, http.MethodPost, "/v1/tasks/dependencies/validate",
		map[string][]string{a.ID: {b.ID}, b.ID: {a.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[struct {
		Valid                bool     `json:"valid"`
		CircularDependencies []string `json:"circular_dependencies"`
	}](t, resp)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.CircularDependencies)
}

func TestStopNonRunningTask(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")

	resp := env.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/stop", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestExportUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/v1/history/export?format=pdf", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCronPreview(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/v1/cron/preview", map[string]any{"cron": "0 9 * * *", "count": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview := decode[cronPreviewResponse](t, resp)
	assert.Len(t, preview.Next, 3)

	resp = env.do(t, http.MethodPost, "/v1/cron/preview", map[string]any{"cron": "not a cron"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTaskTypesEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/v1/task-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	types := decode[map[string]any](t, resp)
	assert.Len(t, types, 5)
	assert.Contains(t, types, "publish")
}

func TestMonitorEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")
	env.monitor.Watch(created.ID)

	resp := env.do(t, http.MethodGet, "/v1/monitor/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[monitor.Health](t, resp)
	assert.NotEmpty(t, health.Overall)

	resp = env.do(t, http.MethodGet, "/v1/monitor/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rules := decode[[]monitor.Rule](t, resp)
	assert.Len(t, rules, 3)

	resp = env.do(t, http.MethodPost, "/v1/monitor/rules/"+created.ID,
		map[string]any{"name": "slow", "condition": "execution_time > 1000"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rule := decode[monitor.Rule](t, resp)
	assert.NotEmpty(t, rule.ID)

	resp = env.do(t, http.MethodPost, "/v1/monitor/rules/"+created.ID,
		map[string]any{"condition": "bogus > 1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp := env.do(t, http.MethodGet, "/v1/tasks/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/tasks/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, authed.StatusCode)
	authed.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/tasks/?token=secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// metrics endpoint stays open for scrapers
	resp = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestListTasksFilters(t *testing.T) {
	env := newTestEnv(t, "")
	env.createTask(t, "first publish")
	env.createTask(t, "second publish")

	resp := env.do(t, http.MethodGet, "/v1/tasks/?type=publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks := decode[[]task.Task](t, resp)
	assert.Len(t, tasks, 2)

	resp = env.do(t, http.MethodGet, "/v1/tasks/?type=analysis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]task.Task](t, resp))

	resp = env.do(t, http.MethodGet, "/v1/tasks/counts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := decode[engine.Counts](t, resp)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 2, counts.Pending)
}

func TestUpdateTaskPatch(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")

	resp := env.do(t, http.MethodPatch, "/v1/tasks/"+created.ID+"/",
		map[string]any{"name": "renamed publish", "priority": "high"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[task.Task](t, resp)
	assert.Equal(t, "renamed publish", updated.Name)
	assert.Equal(t, task.PriorityHigh, updated.Priority)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")

	resp := env.do(t, http.MethodDelete, "/v1/tasks/"+created.ID+"/", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/tasks/"+created.ID+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHistoryStatisticsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	created := env.createTask(t, "evening publish")

	resp := env.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/v1/history/statistics?task_id=%s", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[history.Statistics](t, resp)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Success)
}
