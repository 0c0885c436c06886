// Package handlers runs triage tasks: queued in the background for alerts,
// or inline for callers that wait on the result.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
	"github.com/EasterCompany/dex-triage-service/internal/store"
	"github.com/EasterCompany/dex-triage-service/services"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultTimeout   = 15 * time.Minute
)

var (
	ErrQueueFull    = errors.New("task queue full")
	ErrShuttingDown = errors.New("executor is shutting down")
)

// Recorder persists task records. *store.Store implements it.
type Recorder interface {
	Save(ctx context.Context, t store.Task) error
	Update(ctx context.Context, id string, fn func(*store.Task)) error
}

// Runner is the part of the bridge the executor drives.
type Runner interface {
	Run(ctx context.Context, pub bridge.Publisher, task string) error
}

type Options struct {
	Runner Runner
	// Background receives the output of queued tasks.
	Background bridge.Publisher
	// Recorder is optional.
	Recorder  Recorder
	Stats     *services.TaskStats
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// Logger defaults to the "executor" logger.
	Logger *slog.Logger
}

type job struct {
	task store.Task
}

// Executor owns the background worker pool.
type Executor struct {
	runner   Runner
	pub      bridge.Publisher
	recorder Recorder
	stats    *services.TaskStats
	timeout  time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	jobQueue chan job
	closed   atomic.Bool
	workers  sync.WaitGroup
	inline   sync.WaitGroup

	// baseCtx parents every task; cancelled when Shutdown gives up waiting.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewExecutor starts the workers.
func NewExecutor(opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("executor")
	}
	if opts.Stats == nil {
		opts.Stats = services.NewTaskStats()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		runner:   opts.Runner,
		pub:      opts.Background,
		recorder: opts.Recorder,
		stats:    opts.Stats,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		jobQueue: make(chan job, opts.QueueSize),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		e.workers.Add(1)
		go e.startWorker()
	}
	e.log.Info("executor started", "workers", opts.Workers, "queue", opts.QueueSize)
	return e
}

// Stats returns the shared task counters.
func (e *Executor) Stats() *services.TaskStats { return e.stats }

// Submit records and queues a task whose output goes to the background
// publisher. It never blocks.
func (e *Executor) Submit(source, event string) (store.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		e.stats.IncrementRejected()
		return store.Task{}, ErrShuttingDown
	}
	if len(e.jobQueue) == cap(e.jobQueue) {
		e.stats.IncrementRejected()
		return store.Task{}, ErrQueueFull
	}
	// Recorded before queueing so a fast worker never updates a missing
	// record.
	t := store.NewTask(source, event)
	e.save(t)
	select {
	case e.jobQueue <- job{task: t}:
	default:
		e.stats.IncrementRejected()
		e.finish(t.ID, 0, ErrQueueFull)
		return store.Task{}, ErrQueueFull
	}
	e.stats.IncrementReceived()
	return t, nil
}

// Run executes a task on the caller's goroutine, publishing to pub. The
// caller's ctx bounds the run together with the configured timeout.
func (e *Executor) Run(ctx context.Context, pub bridge.Publisher, source, event string) (store.Task, error) {
	e.mu.RLock()
	if e.closed.Load() {
		e.mu.RUnlock()
		e.stats.IncrementRejected()
		return store.Task{}, ErrShuttingDown
	}
	e.inline.Add(1)
	e.mu.RUnlock()
	defer e.inline.Done()

	t := store.NewTask(source, event)
	e.stats.IncrementReceived()
	e.save(t)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.baseCtx, cancel)
	defer stop()

	return t, e.execute(ctx, pub, t)
}

func (e *Executor) startWorker() {
	defer e.workers.Done()
	for j := range e.jobQueue {
		_ = e.execute(e.baseCtx, e.pub, j.task)
	}
}

func (e *Executor) execute(ctx context.Context, pub bridge.Publisher, t store.Task) (err error) {
	done := e.stats.Started()
	counter := &countingPublisher{Publisher: pub}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("task panicked", "task_id", t.ID, "panic", r)
			err = fmt.Errorf("worker panic: %v", r)
		}
		done(err)
		e.finish(t.ID, counter.n.Load(), err)
	}()

	e.update(t.ID, func(rec *store.Task) { rec.Status = store.StatusRunning })

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err = e.runner.Run(execCtx, counter, t.Event)
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && err != nil {
		err = fmt.Errorf("task timed out after %s: %w", e.timeout, err)
	}
	if err != nil {
		e.log.Warn("task failed", "task_id", t.ID, "source", t.Source, "error", err)
	}
	return err
}

func (e *Executor) finish(id string, messages int64, err error) {
	e.update(id, func(rec *store.Task) {
		rec.Messages = int(messages)
		if err != nil {
			rec.Status = store.StatusFailed
			rec.Error = err.Error()
			return
		}
		rec.Status = store.StatusCompleted
	})
}

func (e *Executor) save(t store.Task) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.Save(ctx, t); err != nil {
		e.log.Error("failed to record task", "task_id", t.ID, "error", err)
	}
}

func (e *Executor) update(id string, fn func(*store.Task)) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.Update(ctx, id, fn); err != nil {
		e.log.Error("failed to update task", "task_id", id, "error", err)
	}
}

// Shutdown stops accepting tasks and waits for queued and running ones.
// If ctx ends first, running tasks are cancelled and ctx.Err is returned
// once they have unwound.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed.Swap(true) {
		e.mu.Unlock()
		return nil
	}
	close(e.jobQueue)
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.workers.Wait()
		e.inline.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.log.Warn("shutdown deadline reached, cancelling running tasks")
		e.cancel()
		<-finished
		return ctx.Err()
	}
}

type countingPublisher struct {
	bridge.Publisher
	n atomic.Int64
}

func (c *countingPublisher) Publish(ctx context.Context, sender, text string) error {
	if err := c.Publisher.Publish(ctx, sender, text); err != nil {
		return err
	}
	c.n.Add(1)
	return nil
}
