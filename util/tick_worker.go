package util

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/eduflow/logger"
	"go.uber.org/zap"
)

// TickWorker calls fn once per interval until Stop is called. A tick that is
// still running when the next one is due delays it rather than overlapping.
type TickWorker struct {
	name         string
	tickInterval time.Duration
	fn           func(ctx context.Context)
	wg           *sync.WaitGroup
	cancel       context.CancelFunc
	mu           sync.Mutex
	running      bool
}

func NewTickWorker(name string, interval time.Duration, fn func(ctx context.Context), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:         name,
		tickInterval: interval,
		fn:           fn,
		wg:           wg,
	}
}

func (tw *TickWorker) Start() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	tw.cancel = cancel
	tw.running = true
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.fn(ctx)
			case <-ctx.Done():
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

func (tw *TickWorker) Stop() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.running {
		return
	}
	tw.running = false
	tw.cancel()
}

func (tw *TickWorker) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}
