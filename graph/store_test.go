package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/node"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func bundle() model.WorkflowBundle {
	return model.WorkflowBundle{
		Workflow: model.Workflow{Id: "wf-1", InstituteId: "inst-1", Name: "Live class", Status: model.ACTIVE},
		Nodes: []model.NodeTemplate{
			{Id: "N1", Payload: json.RawMessage(`{"outputDataPoints":[{"fieldName":"x","value":1}],"routing":[{"type":"goto","targetNodeId":"N2"}]}`)},
			{Id: "N2", Payload: json.RawMessage(`{"prebuiltKey":"createLiveSession"}`)},
		},
		Mappings: []model.WorkflowNodeMapping{
			{NodeTemplateId: "N2", NodeOrder: 2},
			{NodeTemplateId: "N1", NodeOrder: 1},
		},
		Triggers:  []model.WorkflowTrigger{{Id: "t-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE}},
		Schedules: []model.WorkflowSchedule{{Id: "s-1", CronExpr: "0 * * * *", Status: model.ACTIVE}},
	}
}

func TestStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Store){
		"bundle round trip":           testBundleRoundTrip,
		"missing workflow":            testMissingWorkflow,
		"workflow without mappings":   testNoMappings,
		"writes invalidate the cache": testInvalidation,
		"schedule activation stamp":   testScheduleActivation,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStore(memory.NewMemoryStorage(), cache.NewGraphCache(time.Minute)))
		})
	}
}

func testBundleRoundTrip(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveBundle(ctx, bundle()))

	entry, err := s.EntryNode(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "N1", entry)

	nodes, err := s.LoadNodeTemplates(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, node.Start, nodes["N1"].Kind)
	require.Equal(t, node.Action, nodes["N2"].Kind)

	triggers, err := s.storage.GetTriggersByEvent(ctx, "inst-1", "LEARNER_ENROLLED")
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	require.Equal(t, "wf-1", triggers[0].WorkflowId)

	schedules, err := s.storage.GetSchedules(ctx)
	require.NoError(t, err)
	require.Equal(t, "inst-1", schedules[0].InstituteId)
}

func testMissingWorkflow(t *testing.T, s *Store) {
	_, err := s.EntryNode(context.Background(), "nope")
	require.True(t, IsGraphNotFound(err))
}

func testNoMappings(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveWorkflow(ctx, model.Workflow{Id: "wf-2", Status: model.ACTIVE}))
	_, err := s.LoadNodeTemplates(ctx, "wf-2")
	require.True(t, IsGraphNotFound(err))
}

func testInvalidation(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveBundle(ctx, bundle()))
	_, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, s.SaveNodeTemplate(ctx, model.NodeTemplate{Id: "N2", Payload: json.RawMessage(`{"prebuiltKey":"addTags"}`)}))
	nodes, err := s.LoadNodeTemplates(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "addTags", nodes["N2"].ActionKey)

	require.NoError(t, s.SaveMapping(ctx, model.WorkflowNodeMapping{WorkflowId: "wf-1", NodeTemplateId: "N2", NodeOrder: 0}))
	entry, err := s.EntryNode(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "N2", entry)
}

func TestValidate(t *testing.T) {
	require.NoError(t, ValidateBundle(bundle()))

	b := bundle()
	b.Nodes = append(b.Nodes,
		model.NodeTemplate{Id: "N3", Payload: json.RawMessage(`{"prebuiltKey":"addTags","routing":[{"type":"goto","targetNodeId":"GONE"}]}`)},
		model.NodeTemplate{Id: "N4", Payload: json.RawMessage(`{"what":"ever"}`)},
		model.NodeTemplate{Id: "N5", Payload: json.RawMessage(`not json`)},
	)
	err := ValidateBundle(b)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 3)
	require.Contains(t, verr.Problems[0], "missing node GONE")
	require.Contains(t, verr.Problems[1], "unrecognised payload")

	require.Error(t, ValidateBundle(model.WorkflowBundle{Workflow: model.Workflow{Id: "x"}}))
}

func testScheduleActivation(t *testing.T, s *Store) {
	ctx := context.Background()
	stored := func() model.WorkflowSchedule {
		schedules, err := s.storage.GetSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		return schedules[0]
	}
	sc := model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Status: model.ACTIVE}
	require.NoError(t, s.SaveSchedule(ctx, sc))
	first := stored().ActivatedAt
	require.NotNil(t, first)

	sc.CronExpr = "30 * * * *"
	require.NoError(t, s.SaveSchedule(ctx, sc))
	require.Equal(t, *first, *stored().ActivatedAt)

	sc.Status = model.INACTIVE
	require.NoError(t, s.SaveSchedule(ctx, sc))
	require.Nil(t, stored().ActivatedAt)

	time.Sleep(time.Millisecond)
	sc.Status = model.ACTIVE
	require.NoError(t, s.SaveSchedule(ctx, sc))
	require.True(t, stored().ActivatedAt.After(*first))
}
