package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/node"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

type GraphNotFoundError struct {
	WorkflowId string
	Reason     string
}

func (e GraphNotFoundError) Error() string {
	return fmt.Sprintf("graph for workflow %s not found: %s", e.WorkflowId, e.Reason)
}

func IsGraphNotFound(err error) bool {
	var gnf GraphNotFoundError
	return errors.As(err, &gnf)
}

// Store serves decoded workflow graphs and is the write path for operator
// authored definitions.
type Store struct {
	storage persistence.DefinitionStorage
	cache   *cache.GraphCache
}

func NewStore(storage persistence.DefinitionStorage, graphCache *cache.GraphCache) *Store {
	return &Store{
		storage: storage,
		cache:   graphCache,
	}
}

func (s *Store) Load(ctx context.Context, workflowId string) (cache.CachedGraph, error) {
	if g, ok := s.cache.Get(workflowId); ok {
		return g, nil
	}
	wf, err := s.storage.GetWorkflow(ctx, workflowId)
	if err != nil {
		if persistence.IsNotFound(err) {
			return cache.CachedGraph{}, GraphNotFoundError{WorkflowId: workflowId, Reason: "workflow missing"}
		}
		return cache.CachedGraph{}, err
	}
	mappings, err := s.storage.GetNodeMappings(ctx, workflowId)
	if err != nil {
		return cache.CachedGraph{}, err
	}
	if len(mappings) == 0 {
		return cache.CachedGraph{}, GraphNotFoundError{WorkflowId: workflowId, Reason: "no node mappings"}
	}
	entry := mappings[0]
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.NodeTemplateId)
		if m.NodeOrder < entry.NodeOrder {
			entry = m
		}
	}
	tmpls, err := s.storage.GetNodeTemplates(ctx, ids)
	if err != nil {
		return cache.CachedGraph{}, err
	}
	g := cache.CachedGraph{
		Workflow: *wf,
		Graph: interpreter.WorkflowGraph{
			Entry: entry.NodeTemplateId,
			Nodes: node.DecodeAll(tmpls),
		},
	}
	for id, n := range g.Graph.Nodes {
		if n.Err != nil {
			logger.Warn("node template can not be decoded", zap.String("workflow", workflowId), zap.String("node", id), zap.Error(n.Err))
		}
	}
	s.cache.Put(workflowId, g)
	return g, nil
}

func (s *Store) LoadNodeTemplates(ctx context.Context, workflowId string) (map[string]node.Node, error) {
	g, err := s.Load(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	return g.Graph.Nodes, nil
}

func (s *Store) EntryNode(ctx context.Context, workflowId string) (string, error) {
	g, err := s.Load(ctx, workflowId)
	if err != nil {
		return "", err
	}
	return g.Graph.Entry, nil
}

func (s *Store) GetWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	return s.storage.GetWorkflow(ctx, workflowId)
}

func (s *Store) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	defer s.cache.Invalidate(wf.Id)
	return s.storage.SaveWorkflow(ctx, wf)
}

// SaveNodeTemplate flushes every cached graph since a template may be
// mapped into more than one workflow.
func (s *Store) SaveNodeTemplate(ctx context.Context, tmpl model.NodeTemplate) error {
	defer s.cache.Flush()
	return s.storage.SaveNodeTemplate(ctx, tmpl)
}

func (s *Store) SaveMapping(ctx context.Context, mapping model.WorkflowNodeMapping) error {
	defer s.cache.Invalidate(mapping.WorkflowId)
	return s.storage.SaveNodeMapping(ctx, mapping)
}

func (s *Store) SaveTrigger(ctx context.Context, trigger model.WorkflowTrigger) error {
	return s.storage.SaveTrigger(ctx, trigger)
}

// SaveSchedule stamps ActivatedAt when the schedule turns ACTIVE and keeps
// the stored stamp while it stays ACTIVE.
func (s *Store) SaveSchedule(ctx context.Context, schedule model.WorkflowSchedule) error {
	schedule.ActivatedAt = nil
	if schedule.Status == model.ACTIVE {
		prev, err := s.schedule(ctx, schedule.Id)
		if err != nil {
			return err
		}
		if prev != nil && prev.Status == model.ACTIVE && prev.ActivatedAt != nil {
			schedule.ActivatedAt = prev.ActivatedAt
		} else {
			now := time.Now().UTC()
			schedule.ActivatedAt = &now
		}
	}
	return s.storage.SaveSchedule(ctx, schedule)
}

func (s *Store) schedule(ctx context.Context, id string) (*model.WorkflowSchedule, error) {
	schedules, err := s.storage.GetSchedules(ctx)
	if err != nil {
		return nil, err
	}
	for _, sc := range schedules {
		if sc.Id == id {
			return &sc, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveBundle(ctx context.Context, bundle model.WorkflowBundle) error {
	if err := s.SaveWorkflow(ctx, bundle.Workflow); err != nil {
		return err
	}
	for _, n := range bundle.Nodes {
		if len(n.InstituteId) == 0 {
			n.InstituteId = bundle.Workflow.InstituteId
		}
		if err := s.SaveNodeTemplate(ctx, n); err != nil {
			return err
		}
	}
	for _, m := range bundle.Mappings {
		m.WorkflowId = bundle.Workflow.Id
		if err := s.SaveMapping(ctx, m); err != nil {
			return err
		}
	}
	for _, t := range bundle.Triggers {
		t.WorkflowId = bundle.Workflow.Id
		if len(t.InstituteId) == 0 {
			t.InstituteId = bundle.Workflow.InstituteId
		}
		if err := s.SaveTrigger(ctx, t); err != nil {
			return err
		}
	}
	for _, sc := range bundle.Schedules {
		sc.WorkflowId = bundle.Workflow.Id
		if len(sc.InstituteId) == 0 {
			sc.InstituteId = bundle.Workflow.InstituteId
		}
		if err := s.SaveSchedule(ctx, sc); err != nil {
			return err
		}
	}
	logger.Info("workflow saved", zap.String("workflow", bundle.Workflow.Id), zap.Int("nodes", len(bundle.Nodes)))
	return nil
}
