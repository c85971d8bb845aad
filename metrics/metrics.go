package metrics

import (
	"context"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
)

var (
	KeyStatus = tag.MustNewKey("status")
	KeyKind   = tag.MustNewKey("kind")

	runsStarted    = stats.Int64("eduflow/runs_started", "Runs created", stats.UnitDimensionless)
	runsFinished   = stats.Int64("eduflow/runs_finished", "Runs that reached a final status", stats.UnitDimensionless)
	nodeExecutions = stats.Int64("eduflow/node_executions", "Visited nodes by kind and status", stats.UnitDimensionless)
	dedupeHits     = stats.Int64("eduflow/dedupe_hits", "Node side effects skipped as already done", stats.UnitDimensionless)
	scheduleRuns   = stats.Int64("eduflow/schedule_runs", "Schedule firings claimed or skipped", stats.UnitDimensionless)
	retries        = stats.Int64("eduflow/retries", "Audit items re-attempted", stats.UnitDimensionless)
)

var Views = []*view.View{
	{Name: "eduflow/runs_started", Measure: runsStarted, Aggregation: view.Count()},
	{Name: "eduflow/runs_finished", Measure: runsFinished, TagKeys: []tag.Key{KeyStatus}, Aggregation: view.Count()},
	{Name: "eduflow/node_executions", Measure: nodeExecutions, TagKeys: []tag.Key{KeyKind, KeyStatus}, Aggregation: view.Count()},
	{Name: "eduflow/dedupe_hits", Measure: dedupeHits, Aggregation: view.Count()},
	{Name: "eduflow/schedule_runs", Measure: scheduleRuns, TagKeys: []tag.Key{KeyStatus}, Aggregation: view.Count()},
	{Name: "eduflow/retries", Measure: retries, TagKeys: []tag.Key{KeyStatus}, Aggregation: view.Count()},
}

func Register() error {
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(0.1)})
	if err := view.Register(ochttp.DefaultServerViews...); err != nil {
		return err
	}
	return view.Register(Views...)
}

func Unregister() {
	view.Unregister(Views...)
	view.Unregister(ochttp.DefaultServerViews...)
}

func record(ctx context.Context, m stats.Measurement, mutators ...tag.Mutator) {
	_ = stats.RecordWithTags(ctx, mutators, m)
}

func RecordRunStarted(ctx context.Context) {
	record(ctx, runsStarted.M(1))
}

func RecordRunFinished(ctx context.Context, status string) {
	record(ctx, runsFinished.M(1), tag.Upsert(KeyStatus, status))
}

func RecordNodeExecution(ctx context.Context, kind string, status string) {
	record(ctx, nodeExecutions.M(1), tag.Upsert(KeyKind, kind), tag.Upsert(KeyStatus, status))
}

func RecordDedupeHit(ctx context.Context) {
	record(ctx, dedupeHits.M(1))
}

func RecordScheduleRun(ctx context.Context, claimed bool) {
	status := "skipped"
	if claimed {
		status = "claimed"
	}
	record(ctx, scheduleRuns.M(1), tag.Upsert(KeyStatus, status))
}

func RecordRetry(ctx context.Context, status string) {
	record(ctx, retries.M(1), tag.Upsert(KeyStatus, status))
}
