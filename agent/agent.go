package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/analytics"
	"github.com/mohitkumar/eduflow/audit"
	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/cluster"
	"github.com/mohitkumar/eduflow/config"
	"github.com/mohitkumar/eduflow/container"
	"github.com/mohitkumar/eduflow/dedupe"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/metrics"
	"github.com/mohitkumar/eduflow/rest"
	"github.com/mohitkumar/eduflow/schedule"
	"github.com/mohitkumar/eduflow/trigger"
	"github.com/mohitkumar/eduflow/util"
	"go.uber.org/zap"
)

type Agent struct {
	Config       config.Config
	diContainer  *container.DIContiner
	graphs       *graph.Store
	interpreter  *interpreter.Interpreter
	coordinator  *execution.Coordinator
	dispatcher   *trigger.Dispatcher
	retries      *audit.Coordinator
	scheduler    *schedule.Runner
	tickWorker   *util.TickWorker
	httpServer   *rest.Server
	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config: config,
	}
	setup := []func() error{
		a.setupTelemetry,
		a.setupStorage,
		a.setupCoordinator,
		a.setupDispatcher,
		a.setupScheduler,
		a.setupRetries,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupTelemetry() error {
	if err := analytics.InitDataCollector(a.Config.AnalyticsConfig); err != nil {
		return err
	}
	return metrics.Register()
}

func (a *Agent) setupStorage() error {
	ring := cluster.NewRing(cluster.RingConfig{
		PartitionCount: a.Config.PartitionCount,
		LocalNode:      a.Config.NodeName,
	})
	a.diContainer = container.NewDiContainer(ring)
	if err := a.diContainer.Init(context.Background(), a.Config); err != nil {
		return err
	}
	a.graphs = graph.NewStore(a.diContainer.GetStorage(), cache.NewGraphCache(a.Config.GraphCacheTTL))
	return nil
}

// invoker sends every action key to the remote action service when one is
// configured. Without it only in-process handlers are available.
func (a *Agent) invoker() *action.Registry {
	conf := a.Config.ActionConfig
	if len(conf.BaseURL) == 0 {
		logger.Warn("no action service configured, actions without a local handler will fail")
		return action.NewRegistry(nil)
	}
	httpInvoker := action.NewHTTPInvoker(action.HTTPInvokerConfig{
		BaseURL:     conf.BaseURL,
		MaxRetries:  conf.MaxRetries,
		BackoffBase: conf.BackoffBase,
	}, &http.Client{Timeout: conf.Timeout})
	return action.NewRegistry(httpInvoker)
}

func (a *Agent) setupCoordinator() error {
	storage := a.diContainer.GetStorage()
	a.interpreter = interpreter.New(action.DefaultLabels())
	a.coordinator = execution.NewCoordinator(storage, a.graphs, a.interpreter, dedupe.NewGuard(storage), a.invoker(), a.Config.ActionConfig.Timeout)
	return nil
}

func (a *Agent) setupDispatcher() error {
	workers := a.Config.EventWorkers
	if workers <= 0 {
		workers = 1
	}
	a.dispatcher = trigger.NewDispatcher(trigger.NewMatcher(a.diContainer.GetStorage()), a.coordinator, workers*64, workers, &a.wg)
	return nil
}

func (a *Agent) setupRetries() error {
	a.retries = audit.NewCoordinator(a.diContainer.GetStorage())
	a.retries.Register(schedule.SOURCE_WORKFLOW_EXECUTION, audit.NewWorkflowExecutionSource(a.coordinator, a.scheduler))
	return nil
}

func (a *Agent) setupScheduler() error {
	conf := a.Config.SchedulerConfig
	a.scheduler = schedule.NewRunner(a.diContainer.GetStorage(), a.coordinator, schedule.RunnerConfig{
		TaskName:        conf.TaskName,
		Lookback:        conf.Lookback,
		CronProfileUnit: conf.CronProfileUnit,
	})
	if conf.Enabled {
		a.tickWorker = a.scheduler.Worker(conf.TickInterval, &a.wg)
	}
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.graphs, a.coordinator, a.dispatcher, a.interpreter, a.retries)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	a.dispatcher.Start()
	if a.tickWorker != nil {
		a.tickWorker.Start()
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server stopped", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			if a.tickWorker != nil {
				a.tickWorker.Stop()
			}
			return nil
		},
		func() error {
			a.dispatcher.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("timed out waiting for workers")
	}
	metrics.Unregister()
	_ = logger.Sync()
	return a.diContainer.GetStorage().Close()
}

// Plan renders the dry-run plan of one workflow, or of every workflow id
// given, without invoking anything.
func (a *Agent) Plan(ctx context.Context, workflowIds ...string) (map[string][]interpreter.Step, error) {
	graphs := make(map[string]interpreter.WorkflowGraph, len(workflowIds))
	for _, id := range workflowIds {
		g, err := a.graphs.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		graphs[id] = g.Graph
	}
	return a.interpreter.ParseAll(graphs), nil
}
