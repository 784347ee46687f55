package router_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Integrities/backend-ai/internal/config"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/remote"
	"github.com/Data-Integrities/backend-ai/internal/router"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

const testToken = "callback-secret"

type recordingDispatcher struct {
	mu  sync.Mutex
	ops []remote.Operation
}

func (d *recordingDispatcher) Dispatch(_ context.Context, op remote.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ops)
}

type fixture struct {
	handler    http.Handler
	store      *services.ExecutionStore
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Callback.Token = testToken
	cfg.Stream.Heartbeat = "50ms"

	store := services.NewExecutionStore(services.ExecutionStoreOptions{DefaultTimeout: time.Minute})
	d := &recordingDispatcher{}
	reg := remote.NewRegistry()
	reg.Register(&remote.Actor{Name: "agent-1", Type: config.ActorTypeAgent, Dispatcher: d})
	reg.Register(&remote.Actor{Name: "agent-2", Type: config.ActorTypeAgent, Dispatcher: d})

	batches := services.NewBatchAggregator(store, nil, 2, nil)
	t.Cleanup(batches.Close)
	ops := services.NewOperationService(store, reg, batches, "http://control.test/api", time.Second, nil)
	poller := services.NewStatusPoller(store, reg, time.Minute, time.Second, nil, nil)
	push := services.NewPushReceiver(store, poller, 0, nil, nil)
	broadcaster := services.NewBroadcaster(store, 16, nil)
	t.Cleanup(broadcaster.Close)

	queue := func(name string) *services.TaskQueue {
		return services.NewTaskQueue(services.TaskQueueOptions{Name: name, WaitInterval: 5 * time.Millisecond, MaxWait: 5 * time.Second})
	}

	engine := router.New(cfg, router.Services{
		Store:       store,
		Operations:  ops,
		Poller:      poller,
		Push:        push,
		Broadcaster: broadcaster,
		Commands:    queue(services.QueueCommands),
		UI:          queue(services.QueueUI),
	}, nil)

	return &fixture{handler: engine, store: store, dispatcher: d}
}

func (f *fixture) do(t *testing.T, method, path, body string, agent bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if agent {
		req.Header.Set("X-Callback-Token", testToken)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestRouter_OperationLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/operations", `{"id":"op-1","target":"agent-1","kind":"restart-agent"}`, false)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started map[string]any
	decode(t, w, &started)
	assert.Equal(t, "op-1", started["id"])
	assert.Equal(t, "PENDING", started["status"])
	assert.Equal(t, "/api/executions/stream", started["stream_url"])

	require.Eventually(t, func() bool { return f.dispatcher.count() == 1 }, time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodPost, "/api/executions/op-1/complete", `{"result":"restarted"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.CallbackResponse
	decode(t, w, &resp)
	assert.True(t, resp.Applied)
	assert.Equal(t, models.StatusSuccess, resp.Status)

	// a late failure is acknowledged but does not change the outcome
	w = f.do(t, http.MethodPost, "/api/executions/op-1/fail", `{"error":"too late"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.False(t, resp.Applied)
	assert.Equal(t, models.StatusSuccess, resp.Status)

	w = f.do(t, http.MethodGet, "/api/executions/op-1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var exec models.Execution
	decode(t, w, &exec)
	assert.Equal(t, "restarted", exec.Result)
	assert.Equal(t, models.SourceCallback, exec.FinalizedBy)
}

func TestRouter_CallbacksRequireToken(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Start(services.StartRequest{Target: "agent-1", Kind: "start-agent"})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/executions/"+id+"/complete", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	got, _ := f.store.Get(id)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRouter_CallbackForUnknownExecution(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/executions/ghost/complete", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.CallbackResponse
	decode(t, w, &resp)
	assert.False(t, resp.Applied)
	assert.Empty(t, resp.Status)

	w = f.do(t, http.MethodPost, "/api/executions/ghost/complete", `{broken`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ExecutionNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/executions/ghost", "", false)
	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "EXECUTION_NOT_FOUND", body["code"])

	w = f.do(t, http.MethodPost, "/api/executions/ghost/log", `{"line":"hello"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ListFiltersAndLog(t *testing.T) {
	f := newFixture(t)
	running, _ := f.store.Start(services.StartRequest{Target: "agent-1", Kind: "start-agent"})
	done, _ := f.store.Start(services.StartRequest{Target: "agent-2", Kind: "start-agent"})
	require.True(t, f.store.Fail(done, "exit 2", models.SourceCallback))

	w := f.do(t, http.MethodPost, "/api/executions/"+running+"/log", `{"line":"pulling image"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/executions?status=PENDING", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Executions []models.Execution `json:"executions"`
	}
	decode(t, w, &body)
	require.Len(t, body.Executions, 1)
	assert.Equal(t, running, body.Executions[0].ID)
	require.NotEmpty(t, body.Executions[0].Log)
	assert.Equal(t, "pulling image", body.Executions[0].Log[len(body.Executions[0].Log)-1].Line)

	w = f.do(t, http.MethodGet, "/api/executions?target=agent-2", "", false)
	decode(t, w, &body)
	require.Len(t, body.Executions, 1)
	assert.Equal(t, done, body.Executions[0].ID)

	w = f.do(t, http.MethodGet, "/api/executions/history", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records":[]}`, w.Body.String())
}

func TestRouter_Batch(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/batches/restart", `{"targets":["agent-1","agent-2"]}`, false)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var body struct {
		ParentID string   `json:"parent_id"`
		ChildIDs []string `json:"child_ids"`
	}
	decode(t, w, &body)
	require.Len(t, body.ChildIDs, 2)

	for _, id := range body.ChildIDs {
		require.True(t, f.store.Complete(id, "ok", models.SourceCallback))
	}
	require.Eventually(t, func() bool {
		parent, err := f.store.Get(body.ParentID)
		return err == nil && parent.Status == models.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodPost, "/api/batches/restart", `{"targets":[]}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_PushEventFinalizes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/actors/agent-1/events", `{"event":"offline"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	id, _ := f.store.Start(services.StartRequest{Target: "agent-1", Kind: "start-agent"})

	w = f.do(t, http.MethodPost, "/api/actors/agent-1/events", `{"event":"online"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res services.PushResult
	decode(t, w, &res)
	assert.Equal(t, 1, res.Finalized)

	got, _ := f.store.Get(id)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, models.SourcePush, got.FinalizedBy)

	w = f.do(t, http.MethodPost, "/api/actors/agent-1/events", `{"event":"exploded"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/actors", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var actors struct {
		Actors []models.ActorStatus `json:"actors"`
	}
	decode(t, w, &actors)
	require.Len(t, actors.Actors, 2)
	assert.Equal(t, models.ActorRunning, actors.Actors[0].State)
	assert.Equal(t, models.ActorUnknown, actors.Actors[1].State)
}

func TestRouter_TaskQueueRoundTrip(t *testing.T) {
	f := newFixture(t)

	type waited struct {
		code int
		body string
	}
	result := make(chan waited, 1)
	go func() {
		w := f.do(t, http.MethodPost, "/api/ui/tasks?wait=true&timeout=3s", `{"target":"A","action":"click","params":{"selector":"#save"}}`, false)
		result <- waited{w.Code, w.Body.String()}
	}()

	var claimed []models.QueuedTask
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/ui/tasks/pending?actor=A", "", true)
		var body struct {
			Tasks []models.QueuedTask `json:"tasks"`
		}
		if json.Unmarshal(w.Body.Bytes(), &body) != nil {
			return false
		}
		claimed = body.Tasks
		return len(claimed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the commands queue is a separate instance
	w := f.do(t, http.MethodGet, "/api/tasks/pending?actor=A", "", true)
	assert.JSONEq(t, `{"tasks":[]}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/ui/tasks/"+claimed[0].ID+"/result", `{"result":{"clicked":true}}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	select {
	case res := <-result:
		require.Equal(t, http.StatusOK, res.code, res.body)
		var task models.QueuedTask
		require.NoError(t, json.Unmarshal([]byte(res.body), &task))
		assert.Equal(t, models.TaskCompleted, task.Status)
		assert.JSONEq(t, `{"clicked":true}`, string(task.Result))
	case <-time.After(4 * time.Second):
		t.Fatal("waiting enqueue did not return")
	}
}

func TestRouter_TaskQueueErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tasks/pending", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks", `{"target":"A","action":"run"}`, false)
	require.Equal(t, http.StatusCreated, w.Code)
	var task models.QueuedTask
	decode(t, w, &task)
	assert.Equal(t, services.QueueCommands, task.Queue)

	w = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/result", "", true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/api/tasks/missing", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks?wait=true&timeout=50ms", `{"target":"B","action":"run"}`, false)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks?wait=true&timeout=soon", `{"target":"B","action":"run"}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_HealthAndVersion(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	decode(t, w, &health)
	assert.Equal(t, "ok", health["status"])

	w = f.do(t, http.MethodGet, "/api/version", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]string
	decode(t, w, &info)
	assert.Equal(t, "correlator", info["name"])
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
}

func readFrame(t *testing.T, r *bufio.Reader) (event string, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestRouter_SSEStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	id, _ := f.store.Start(services.StartRequest{Target: "agent-1", Kind: "start-agent"})

	resp, err := http.Get(srv.URL + "/api/executions/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, data := readFrame(t, reader)
	assert.Equal(t, "backfill", event)
	var evt models.TransitionEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, id, evt.Execution.ID)

	require.True(t, f.store.Complete(id, "up", models.SourceCallback))

	event, data = readFrame(t, reader)
	assert.Equal(t, "transition", event)
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, models.StatusPending, evt.From)
	assert.Equal(t, models.StatusSuccess, evt.To)
}

func TestRouter_WebSocketStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	id, _ := f.store.Start(services.StartRequest{Target: "agent-2", Kind: "stop-agent"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/executions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var evt models.TransitionEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, models.EventBackfill, evt.Type)
	assert.Equal(t, id, evt.Execution.ID)

	require.True(t, f.store.Fail(id, "refused", models.SourceCallback))

	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, models.EventTransition, evt.Type)
	assert.Equal(t, models.StatusFailed, evt.To)
	assert.Equal(t, "refused", evt.Execution.Error)
}
