package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/util"
	"go.uber.org/zap"
)

type Event struct {
	Id          string         `json:"eventId"`
	InstituteId string         `json:"instituteId"`
	Name        string         `json:"eventName"`
	Data        map[string]any `json:"data,omitempty"`
}

type Starter interface {
	StartOrResume(ctx context.Context, req execution.StartRequest) (*model.WorkflowExecution, error)
}

// RunKey is the idempotency key of the run an event starts for a workflow.
func RunKey(eventId string, workflowId string) string {
	return fmt.Sprintf("event:%s:%s", eventId, workflowId)
}

type Dispatcher struct {
	matcher *Matcher
	starter Starter
	worker  *util.Worker[Event]
}

func NewDispatcher(matcher *Matcher, starter Starter, capacity int, concurrency int, wg *sync.WaitGroup) *Dispatcher {
	d := &Dispatcher{
		matcher: matcher,
		starter: starter,
	}
	d.worker = util.NewWorker("event-dispatcher", wg, func(ev Event) error {
		_, err := d.Fire(context.Background(), ev)
		return err
	}, capacity, concurrency)
	return d
}

func (d *Dispatcher) Start() {
	d.worker.Start()
}

func (d *Dispatcher) Stop() {
	d.worker.Stop()
}

// Fire starts one run per matching workflow. Delivering the same event id
// again resolves to the runs the first delivery created.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) ([]*model.WorkflowExecution, error) {
	if len(ev.Id) == 0 {
		ev.Id = uuid.NewString()
		logger.Warn("event without id, runs for it are not deduplicated", zap.String("event", ev.Name), zap.String("eventId", ev.Id))
	}
	workflows, err := d.matcher.MatchingWorkflows(ctx, ev.InstituteId, ev.Name)
	if err != nil {
		return nil, err
	}
	var runs []*model.WorkflowExecution
	var errs []error
	for _, wf := range workflows {
		run, err := d.starter.StartOrResume(ctx, execution.StartRequest{
			WorkflowID:     wf.Id,
			IdempotencyKey: RunKey(ev.Id, wf.Id),
			Input:          ev.Data,
		})
		if err != nil {
			logger.Error("error starting run for event", zap.String("event", ev.Name), zap.String("workflow", wf.Id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		runs = append(runs, run)
	}
	logger.Info("event dispatched", zap.String("event", ev.Name), zap.String("institute", ev.InstituteId), zap.Int("runs", len(runs)))
	return runs, errors.Join(errs...)
}

// Enqueue hands the event to the dispatcher pool.
func (d *Dispatcher) Enqueue(ev Event) error {
	if len(ev.Id) == 0 {
		ev.Id = uuid.NewString()
	}
	return d.worker.Submit(ev)
}
