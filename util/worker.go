package util

import (
	"errors"
	"sync"

	"github.com/mohitkumar/eduflow/logger"
	"go.uber.org/zap"
)

var ErrWorkerFull = errors.New("worker queue is full")
var ErrWorkerStopped = errors.New("worker is stopped")

// Worker drains a bounded queue with a fixed number of goroutines.
type Worker[T any] struct {
	name        string
	concurrency int
	wg          *sync.WaitGroup
	handler     func(T) error
	taskChan    chan T
	mu          sync.RWMutex
	stopped     bool
}

func NewWorker[T any](name string, wg *sync.WaitGroup, handler func(T) error, capacity int, concurrency int) *Worker[T] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker[T]{
		name:        name,
		concurrency: concurrency,
		wg:          wg,
		handler:     handler,
		taskChan:    make(chan T, capacity),
	}
}

func (w *Worker[T]) Start() {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for task := range w.taskChan {
				if err := w.handler(task); err != nil {
					logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Any("task", task), zap.Error(err))
				}
			}
		}()
	}
	logger.Info("worker started", zap.String("worker", w.name), zap.Int("concurrency", w.concurrency))
}

// Submit enqueues without blocking.
func (w *Worker[T]) Submit(task T) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	select {
	case w.taskChan <- task:
		return nil
	default:
		return ErrWorkerFull
	}
}

// Stop refuses new tasks. Tasks already queued are still handled before the
// goroutines exit.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.taskChan)
	logger.Info("stopping worker", zap.String("worker", w.name))
}
