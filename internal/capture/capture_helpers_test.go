package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var testClock = func() time.Time {
	return time.Date(2025, 3, 14, 10, 30, 0, 0, time.Local)
}

type fakeSubscriber struct {
	name string
	fail bool

	mu    sync.Mutex
	msgs  []Message
	block chan struct{}
}

func newFake(name string) *fakeSubscriber {
	return &fakeSubscriber{name: name}
}

func (f *fakeSubscriber) Send(ctx context.Context, msg Message) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSubscriber) received() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeSubscriber) texts() []string {
	var out []string
	for _, m := range f.received() {
		out = append(out, m.Text)
	}
	return out
}

// countingStream records how often it was intercepted and restored.
type countingStream struct {
	*WriterStream

	mu         sync.Mutex
	intercepts int
	restores   int
	failWith   error
}

func newCountingStream(tag string, target *SwapWriter) *countingStream {
	return &countingStream{WriterStream: NewWriterStream(tag, target)}
}

func (s *countingStream) Intercept(wrap func(io.Writer) io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.intercepts++
	return s.WriterStream.Intercept(wrap)
}

func (s *countingStream) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriterStream.active {
		s.restores++
	}
	return s.WriterStream.Restore()
}

func (s *countingStream) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intercepts, s.restores
}

// tb is the subset of testing.TB that *rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newQuietRouter(opts Options) *Router {
	if opts.Now == nil {
		opts.Now = testClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return NewRouter(opts)
}

func closeRouter(r *Router) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.Close(ctx)
}

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	r := newQuietRouter(opts)
	t.Cleanup(func() { closeRouter(r) })
	return r
}

func flush(t tb, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
