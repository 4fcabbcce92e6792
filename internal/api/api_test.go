package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/client"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/container"
	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/internal/monitoring"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/serverledge-faas/smartlambda/internal/results"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/serverledge-faas/smartlambda/utils/etcdtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	echo *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	cli := etcdtest.StartShared(t)
	monitor := monitoring.NewLog(100)
	gateway := invocation.NewGateway(
		container.NewInProcessFactory(executor.NewRunner(function.Builtins()).Serve),
		invocation.WithObserver(monitor.Observe))

	s := &Server{
		Invoker: gateway,
		Results: results.NewEtcdStore(cli, time.Minute),
		Events:  event.NewMemoryStore(),
		Monitor: monitor,
	}
	e := echo.New()
	s.Routes(e)
	return &testServer{Server: s, echo: e}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T, f function.Function) {
	rec := ts.do(t, http.MethodPost, "/create", f)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateAndGetFunction(t *testing.T) {
	ts := newTestServer(t)
	f := function.Function{Name: "api-create", Class: function.BuiltinClass, Method: "inc", HasParameter: true, ParameterType: "int"}
	ts.create(t, f)

	rec := ts.do(t, http.MethodPost, "/create", f)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/create", function.Function{Name: "api-nomethod"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/function/api-create", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[function.Function](t, rec)
	assert.Equal(t, "inc", got.Method)
	assert.Equal(t, "go", got.Runtime)

	rec = ts.do(t, http.MethodGet, "/function", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[[]string](t, rec), "api-create")

	rec = ts.do(t, http.MethodGet, "/function/api-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeSync(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, function.Function{Name: "api-inc", Class: function.BuiltinClass, Method: "inc", HasParameter: true, ParameterType: "int"})
	ts.create(t, function.Function{Name: "api-fail", Class: function.BuiltinClass, Method: "fail", HasParameter: true})

	rec := ts.do(t, http.MethodPost, "/invoke/api-inc", client.InvocationRequest{Params: json.RawMessage(`41`)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[client.InvocationResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "42", string(resp.ReturnValue))
	assert.Equal(t, "api-inc", resp.Function)

	rec = ts.do(t, http.MethodPost, "/invoke/api-fail", client.InvocationRequest{Params: json.RawMessage(`"boom"`)})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[client.InvocationResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, string(executor.UserCodeFailure), resp.Kind)

	rec = ts.do(t, http.MethodPost, "/invoke/api-unknown", client.InvocationRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stats := decode[client.FunctionStatistics](t, ts.do(t, http.MethodGet, "/function/api-inc/stats", nil))
	assert.Equal(t, int64(1), stats.Executions)
	assert.Zero(t, stats.Errors)
}

func TestInvokeDropped(t *testing.T) {
	ts := newTestServer(t)
	var empty node.Resources
	ts.Invoker = invocation.NewGateway(
		container.NewInProcessFactory(executor.NewRunner(function.Builtins()).Serve),
		invocation.WithResources(&empty))
	ts.create(t, function.Function{Name: "api-big", Class: function.BuiltinClass, Method: "hello", MemoryMB: 256})

	rec := ts.do(t, http.MethodPost, "/invoke/api-big", client.InvocationRequest{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestInvokeAsyncAndPoll(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, function.Function{Name: "api-async", Class: function.BuiltinClass, Method: "echo", HasParameter: true, Async: true})

	rec := ts.do(t, http.MethodPost, "/invoke/api-async", client.InvocationRequest{Params: json.RawMessage(`"hi"`)})
	require.Equal(t, http.StatusOK, rec.Code)
	reqId := decode[client.AsyncResponse](t, rec).ReqId
	require.NotEmpty(t, reqId)

	var resp client.InvocationResponse
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/poll/"+reqId, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = decode[client.InvocationResponse](t, rec)
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `"hi"`, string(resp.ReturnValue))

	// the request can force a sync invocation
	sync := false
	rec = ts.do(t, http.MethodPost, "/invoke/api-async", client.InvocationRequest{Params: json.RawMessage(`"now"`), Async: &sync})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"now"`, string(decode[client.InvocationResponse](t, rec).ReturnValue))

	rec = ts.do(t, http.MethodGet, "/poll/never-issued", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateFunction(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, function.Function{Name: "api-update", Class: function.BuiltinClass, Method: "hello"})

	async := true
	timeout := 5
	rec := ts.do(t, http.MethodPost, "/update", client.FunctionUpdateRequest{Name: "api-update", Async: &async, Timeout: &timeout})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[function.Function](t, ts.do(t, http.MethodGet, "/function/api-update", nil))
	assert.True(t, got.Async)
	assert.Equal(t, 5, got.Timeout)
	assert.Equal(t, "hello", got.Method)

	rec = ts.do(t, http.MethodPost, "/update", client.FunctionUpdateRequest{Name: "api-ghost", Async: &async})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedules(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, function.Function{Name: "api-sched", Class: function.BuiltinClass, Method: "inc", HasParameter: true})

	at := time.Now().Add(time.Hour).UTC()
	rec := ts.do(t, http.MethodPost, "/schedule", client.ScheduleRequest{
		Name: "hourly", Function: "api-sched", NextExecution: at, Params: json.RawMessage(`1`),
		Recurrence: event.Recurrence{Kind: event.Every, Every: "1h"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[client.ScheduleResponse](t, rec).ID
	require.NotEmpty(t, id)

	rec = ts.do(t, http.MethodPost, "/schedule", client.ScheduleRequest{Function: "api-sched", NextExecution: at, Recurrence: event.Recurrence{Kind: event.Cron, Cron: "bad"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/schedule", client.ScheduleRequest{Function: "api-none", NextExecution: at})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	list := decode[[]*event.ScheduledEvent](t, ts.do(t, http.MethodGet, "/schedule?function=api-sched", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "hourly", list[0].Name)
	assert.Empty(t, decode[[]*event.ScheduledEvent](t, ts.do(t, http.MethodGet, "/schedule?function=other", nil)))

	got := decode[event.ScheduledEvent](t, ts.do(t, http.MethodGet, "/schedule/"+id, nil))
	assert.True(t, at.Equal(got.NextExecution))

	rec = ts.do(t, http.MethodDelete, "/schedule/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/schedule/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFunctionRemovesSchedules(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, function.Function{Name: "api-delete", Class: function.BuiltinClass, Method: "hello"})
	e := &event.ScheduledEvent{Function: "api-delete", NextExecution: time.Now()}
	require.NoError(t, ts.Events.Create(context.Background(), e))

	rec := ts.do(t, http.MethodPost, "/delete", client.FunctionDeletionRequest{Name: "api-delete"})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := ts.Events.Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, event.ErrNotFound)
	rec = ts.do(t, http.MethodGet, "/function/api-delete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodPost, "/delete", client.FunctionDeletionRequest{Name: "api-delete"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	kinds := []monitoring.Kind{}
	for _, r := range ts.Monitor.Records("api-delete") {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []monitoring.Kind{monitoring.Deployment, monitoring.Deletion}, kinds)
}

func TestServerStatus(t *testing.T) {
	ts := newTestServer(t)
	config.Set(config.POOL_MEMORY_MB, 512)
	ts.Resources = &node.Resources{}
	ts.Resources.Init()
	require.NoError(t, ts.Resources.Acquire(128))
	ts.SchedulerEnabled = true

	rec := ts.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[client.StatusInformation](t, rec)
	assert.True(t, status.Scheduler)
	assert.Equal(t, 1, status.Running)
	assert.Equal(t, int64(512), status.TotalMemMB)
	assert.Equal(t, int64(128), status.UsedMemMB)
	assert.Equal(t, int64(384), status.AvailableMemMB)
}

func TestGetNodes(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/nodes", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	cli, err := utils.GetEtcdClient()
	require.NoError(t, err)
	reg, err := registration.Register(context.Background(), cli, registration.NodeRegistration{
		NodeID: node.NodeID{Area: "ROME", Key: "api-node"}, IPAddress: "127.0.0.1", APIPort: 1323, Scheduler: true,
	})
	require.NoError(t, err)
	defer reg.Deregister()
	ts.Registry = reg

	rec = ts.do(t, http.MethodGet, "/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nodes := decode[[]registration.NodeRegistration](t, rec)
	require.Len(t, nodes, 1)
	assert.Equal(t, "api-node", nodes[0].Key)
	assert.True(t, nodes[0].Scheduler)
}
