package trigger

import (
	"context"

	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

type Matcher struct {
	storage persistence.DefinitionStorage
}

func NewMatcher(storage persistence.DefinitionStorage) *Matcher {
	return &Matcher{storage: storage}
}

// MatchingWorkflows returns the ACTIVE workflows bound to eventName through
// an ACTIVE trigger. No match is an empty result, not an error.
func (m *Matcher) MatchingWorkflows(ctx context.Context, instituteId string, eventName string) ([]model.Workflow, error) {
	triggers, err := m.storage.GetTriggersByEvent(ctx, instituteId, eventName)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(triggers))
	var workflows []model.Workflow
	for _, t := range triggers {
		if t.Status != model.ACTIVE {
			continue
		}
		if _, ok := seen[t.WorkflowId]; ok {
			continue
		}
		seen[t.WorkflowId] = struct{}{}
		wf, err := m.storage.GetWorkflow(ctx, t.WorkflowId)
		if err != nil {
			if persistence.IsNotFound(err) {
				logger.Warn("trigger points to missing workflow", zap.String("trigger", t.Id), zap.String("workflow", t.WorkflowId))
				continue
			}
			return nil, err
		}
		if wf.Status != model.ACTIVE {
			continue
		}
		workflows = append(workflows, *wf)
	}
	return workflows, nil
}
