package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/audit"
	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/dedupe"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/mohitkumar/eduflow/schedule"
	"github.com/mohitkumar/eduflow/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundle() model.WorkflowBundle {
	return model.WorkflowBundle{
		Workflow: model.Workflow{Id: "wf-1", InstituteId: "inst-1", Status: model.ACTIVE},
		Nodes: []model.NodeTemplate{
			{Id: "N1", Payload: json.RawMessage(`{"outputDataPoints":[{"fieldName":"batch","value":"b-1"}],"routing":[{"type":"goto","targetNodeId":"N2"}]}`)},
			{Id: "N2", Payload: json.RawMessage(`{"prebuiltKey":"createLiveSession","params":{"batch":"{$.batch}"},"routing":[{"type":"goto","targetNodeId":"N3"}]}`)},
			{Id: "N3", Payload: json.RawMessage(`{"dataProcessor":{"config":{"forEach":{"operation":"SWITCH","eval":"#ctx['level']"}}},
				"routing":[{"operation":"SWITCH","cases":{"LOW":{"targetNodeId":"N4"},"HIGH":{"targetNodeId":"N5"}}}]}`)},
			{Id: "N4", Payload: json.RawMessage(`{"prebuiltKey":"sendWhatsappMessage"}`)},
			{Id: "N5", Payload: json.RawMessage(`{"dataProcessor":{"config":{"forEach":{"operation":"SEND_EMAIL","params":{"session":"{$.N2.sessionId}"}}}}}`)},
		},
		Mappings: []model.WorkflowNodeMapping{
			{NodeTemplateId: "N1", NodeOrder: 1}, {NodeTemplateId: "N2", NodeOrder: 2}, {NodeTemplateId: "N3", NodeOrder: 3},
			{NodeTemplateId: "N4", NodeOrder: 4}, {NodeTemplateId: "N5", NodeOrder: 5},
		},
		Triggers: []model.WorkflowTrigger{
			{Id: "t-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	storage := memory.NewMemoryStorage()
	store := graph.NewStore(storage, cache.NewGraphCache(time.Minute))
	interp := interpreter.New(action.DefaultLabels())

	registry := action.NewRegistry(nil)
	ok := func(out map[string]any) action.InvokerFunc {
		return func(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error) {
			return out, nil
		}
	}
	registry.Register("createLiveSession", ok(map[string]any{"sessionId": "s-1"}))
	registry.Register("sendWhatsappMessage", ok(map[string]any{}))
	registry.Register("SEND_EMAIL", ok(map[string]any{}))

	runs := execution.NewCoordinator(storage, store, interp, dedupe.NewGuard(storage), registry, time.Second)
	var wg sync.WaitGroup
	dispatcher := trigger.NewDispatcher(trigger.NewMatcher(storage), runs, 10, 1, &wg)
	retries := audit.NewCoordinator(storage)
	runner := schedule.NewRunner(storage, runs, schedule.RunnerConfig{})
	retries.Register(schedule.SOURCE_WORKFLOW_EXECUTION, audit.NewWorkflowExecutionSource(runs, runner))

	s, err := NewServer(0, store, runs, dispatcher, interp, retries)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method string, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
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
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Server){
		"invalid bundle lists problems": func(t *testing.T, s *Server) {
			b := bundle()
			b.Nodes = b.Nodes[:2]
			rec, out := do(t, s, http.MethodPost, "/workflows", b)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["problems"])
		},
		"plan of a saved workflow": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodPost, "/workflows", bundle())
			require.Equal(t, http.StatusCreated, rec.Code)

			rec, out := do(t, s, http.MethodGet, "/workflows/wf-1/plan", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			steps := out["steps"].([]any)
			require.Len(t, steps, 3)
			assert.Equal(t, "START", steps[0].(map[string]any)["type"])
			assert.Equal(t, "Create Live Sessions", steps[1].(map[string]any)["description"])
			assert.Len(t, steps[2].(map[string]any)["branches"], 2)
		},
		"plan of a missing workflow": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodGet, "/workflows/nope/plan", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		},
		"start and inspect a run": func(t *testing.T, s *Server) {
			do(t, s, http.MethodPost, "/workflows", bundle())
			rec, out := do(t, s, http.MethodPost, "/workflows/wf-1/runs", map[string]any{"idempotencyKey": "k-1", "input": map[string]any{"level": "HIGH"}})
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, string(model.EXECUTION_COMPLETED), out["status"])

			rec, out = do(t, s, http.MethodGet, "/runs/k-1", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "wf-1", out["workflowId"])

			rec, out = do(t, s, http.MethodGet, "/runs/k-1/logs", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Len(t, out["logs"], 4)
		},
		"run without key is rejected": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodPost, "/workflows/wf-1/runs", map[string]any{})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		},
		"unknown run": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodGet, "/runs/ghost", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			rec, _ = do(t, s, http.MethodGet, "/runs/ghost/logs", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		},
		"event starts matching workflow once": func(t *testing.T, s *Server) {
			do(t, s, http.MethodPost, "/workflows", bundle())
			ev := map[string]any{"eventId": "e-1", "instituteId": "inst-1", "eventName": "LEARNER_ENROLLED", "data": map[string]any{"level": "LOW"}}
			rec, out := do(t, s, http.MethodPost, "/events", ev)
			require.Equal(t, http.StatusOK, rec.Code)
			runs := out["runs"].([]any)
			require.Len(t, runs, 1)
			first := runs[0].(map[string]any)
			assert.Equal(t, trigger.RunKey("e-1", "wf-1"), first["idempotencyKey"])

			_, out = do(t, s, http.MethodPost, "/events", ev)
			again := out["runs"].([]any)[0].(map[string]any)
			assert.Equal(t, first["id"], again["id"])
		},
		"event for another institute matches nothing": func(t *testing.T, s *Server) {
			do(t, s, http.MethodPost, "/workflows", bundle())
			rec, out := do(t, s, http.MethodPost, "/events", map[string]any{"eventId": "e-1", "instituteId": "inst-2", "eventName": "LEARNER_ENROLLED"})
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, out["runs"])
		},
		"event without name": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodPost, "/events", map[string]any{"instituteId": "inst-1"})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		},
		"retry of unknown activity": func(t *testing.T, s *Server) {
			rec, _ := do(t, s, http.MethodPost, "/activity-logs/nope/retry", map[string]any{"source": schedule.SOURCE_WORKFLOW_EXECUTION, "sourceIds": []string{"x"}})
			assert.Equal(t, http.StatusNotFound, rec.Code)
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newTestServer(t))
		})
	}
}
