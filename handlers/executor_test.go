package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/store"
	"github.com/EasterCompany/dex-triage-service/services"
)

type runnerFunc func(ctx context.Context, pub bridge.Publisher, task string) error

func (f runnerFunc) Run(ctx context.Context, pub bridge.Publisher, task string) error {
	return f(ctx, pub, task)
}

type memRecorder struct {
	mu    sync.Mutex
	tasks map[string]store.Task
}

func newMemRecorder() *memRecorder {
	return &memRecorder{tasks: make(map[string]store.Task)}
}

func (m *memRecorder) Save(_ context.Context, t store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memRecorder) Update(_ context.Context, id string, fn func(*store.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&t)
	m.tasks[id] = t
	return nil
}

func (m *memRecorder) get(id string) store.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func echoRunner(ctx context.Context, pub bridge.Publisher, task string) error {
	return pub.Publish(ctx, "aks_specialist", "looked at "+task)
}

func TestExecutor_SubmitRunsInBackground(t *testing.T) {
	out := &bridge.Collector{}
	rec := newMemRecorder()
	e := NewExecutor(Options{Runner: runnerFunc(echoRunner), Background: out, Recorder: rec, Workers: 2})

	task, err := e.Submit(store.SourceAlert, "pod crashlooping")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	msgs := out.Messages()
	if len(msgs) != 1 || msgs[0].Text != "looked at pod crashlooping" {
		t.Errorf("Expected one background message, got %+v", msgs)
	}
	got := rec.get(task.ID)
	if got.Status != store.StatusCompleted || got.Messages != 1 {
		t.Errorf("Expected completed task with 1 message, got %+v", got)
	}
	if snap := e.Stats().Snapshot(); snap.Received != 1 || snap.Processed != 1 {
		t.Errorf("Expected 1 received and processed, got %+v", snap)
	}
}

func TestExecutor_RunRecordsFailure(t *testing.T) {
	rec := newMemRecorder()
	e := NewExecutor(Options{
		Runner: runnerFunc(func(ctx context.Context, pub bridge.Publisher, task string) error {
			return errors.New("model unavailable")
		}),
		Background: &bridge.Collector{},
		Recorder:   rec,
	})
	defer func() { _ = e.Shutdown(context.Background()) }()

	task, err := e.Run(context.Background(), &bridge.Collector{}, store.SourceRunTask, "check dns")
	if err == nil || err.Error() != "model unavailable" {
		t.Fatalf("Expected runner error, got %v", err)
	}
	got := rec.get(task.ID)
	if got.Status != store.StatusFailed || got.Error != "model unavailable" {
		t.Errorf("Expected failed record, got %+v", got)
	}
	if snap := e.Stats().Snapshot(); snap.Failed != 1 {
		t.Errorf("Expected 1 failed task, got %+v", snap)
	}
}

func TestExecutor_RecoversPanic(t *testing.T) {
	e := NewExecutor(Options{
		Runner: runnerFunc(func(context.Context, bridge.Publisher, string) error {
			panic("nil map")
		}),
		Background: &bridge.Collector{},
	})
	defer func() { _ = e.Shutdown(context.Background()) }()

	_, err := e.Run(context.Background(), &bridge.Collector{}, store.SourceWS, "x")
	if err == nil || !strings.Contains(err.Error(), "worker panic") {
		t.Errorf("Expected worker panic error, got %v", err)
	}
}

func TestExecutor_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e := NewExecutor(Options{
		Runner: runnerFunc(func(ctx context.Context, pub bridge.Publisher, task string) error {
			started <- struct{}{}
			<-release
			return nil
		}),
		Background: &bridge.Collector{},
		Workers:    1,
		QueueSize:  1,
	})

	if _, err := e.Submit(store.SourceAlert, "first"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	if _, err := e.Submit(store.SourceAlert, "second"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := e.Submit(store.SourceAlert, "third"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, err := e.Submit(store.SourceAlert, "late"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
	if snap := e.Stats().Snapshot(); snap.Rejected != 2 || snap.Processed != 2 {
		t.Errorf("Expected 2 rejected and 2 processed, got %+v", snap)
	}
}

func TestExecutor_ShutdownDeadlineCancelsTasks(t *testing.T) {
	started := make(chan struct{})
	e := NewExecutor(Options{
		Runner: runnerFunc(func(ctx context.Context, pub bridge.Publisher, task string) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
		Background: &bridge.Collector{},
		Workers:    1,
	})
	if _, err := e.Submit(store.SourceAlert, "stuck"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if snap := e.Stats().Snapshot(); snap.Failed != 1 || snap.Running != 0 {
		t.Errorf("Expected cancelled task to be counted as failed, got %+v", snap)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(Options{
		Runner: runnerFunc(func(ctx context.Context, pub bridge.Publisher, task string) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		Background: &bridge.Collector{},
		Stats:      services.NewTaskStats(),
		Timeout:    20 * time.Millisecond,
	})
	defer func() { _ = e.Shutdown(context.Background()) }()

	_, err := e.Run(context.Background(), &bridge.Collector{}, store.SourceWS, "slow")
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestExecutor_LogsThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := NewExecutor(Options{
		Runner: runnerFunc(func(context.Context, bridge.Publisher, string) error {
			return errors.New("model unavailable")
		}),
		Background: &bridge.Collector{},
		Workers:    1,
		Logger:     logger,
	})

	task, _ := e.Run(context.Background(), &bridge.Collector{}, store.SourceWS, "check dns")
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`msg="executor started"`, "workers=1", `msg="task failed"`, "task_id=" + task.ID, "source=ws", `error="model unavailable"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %q", want, out)
		}
	}
}
