package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/config"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		StorageType:    config.STORAGE_TYPE_INMEM,
		PartitionCount: 4,
		GraphCacheTTL:  time.Minute,
		EventWorkers:   1,
		ActionConfig:   config.ActionConfig{Timeout: time.Second},
		SchedulerConfig: config.SchedulerConfig{
			Enabled:      true,
			TickInterval: time.Hour,
		},
	}
}

func TestAgent(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig())
	require.NoError(t, err)

	require.NoError(t, a.graphs.SaveBundle(ctx, model.WorkflowBundle{
		Workflow: model.Workflow{Id: "wf", InstituteId: "inst", Status: model.ACTIVE},
		Nodes: []model.NodeTemplate{
			{Id: "N1", Payload: json.RawMessage(`{"outputDataPoints":[{"fieldName":"tag","value":"new"}],"routing":[{"type":"goto","targetNodeId":"N2"}]}`)},
			{Id: "N2", Payload: json.RawMessage(`{"prebuiltKey":"addTags"}`)},
		},
		Mappings: []model.WorkflowNodeMapping{{NodeTemplateId: "N1", NodeOrder: 1}, {NodeTemplateId: "N2", NodeOrder: 2}},
	}))

	plans, err := a.Plan(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, plans["wf"], 3)
	assert.Equal(t, interpreter.STEP_START, plans["wf"][0].Type)
	assert.Equal(t, interpreter.STEP_END, plans["wf"][2].Type)

	_, err = a.Plan(ctx, "missing")
	assert.True(t, graph.IsGraphNotFound(err))

	require.NoError(t, a.Start())
	assert.True(t, a.tickWorker.IsRunning())
	require.NoError(t, a.Shutdown())
	assert.False(t, a.tickWorker.IsRunning())
	// a second shutdown is a no-op
	require.NoError(t, a.Shutdown())
}
