package bridge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

// ErrorPrefix starts the text of the ERROR message published for a failed run.
const ErrorPrefix = "Error processing alert: "

// ErrPublish wraps a publisher failure. The run is abandoned because its
// destination is gone.
var ErrPublish = errors.New("bridge: publish failed")

// Executor runs a task and yields its messages in order. A non-nil error
// ends the sequence.
type Executor interface {
	Run(ctx context.Context, task string) iter.Seq2[AgentMessage, error]
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task string) iter.Seq2[AgentMessage, error]

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, task string) iter.Seq2[AgentMessage, error] {
	return f(ctx, task)
}

// Publisher is the destination of a run's messages.
type Publisher interface {
	Publish(ctx context.Context, sender, text string) error
}

// RouterPublisher broadcasts to every subscriber of a router. It never fails.
type RouterPublisher struct {
	Router *capture.Router
}

// Publish implements Publisher.
func (p RouterPublisher) Publish(_ context.Context, sender, text string) error {
	p.Router.Broadcast(sender, text)
	return nil
}

// SubscriberPublisher sends to one subscriber only, typically the connection
// that submitted the task.
type SubscriberPublisher struct {
	Sub capture.Subscriber
	Now func() time.Time
}

// Publish implements Publisher.
func (p SubscriberPublisher) Publish(ctx context.Context, sender, text string) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	msg, ok := capture.NewMessage(sender, text, now())
	if !ok {
		return nil
	}
	return p.Sub.Send(ctx, msg)
}

// Collector accumulates messages in memory.
type Collector struct {
	Now func() time.Time

	mu   sync.Mutex
	msgs []capture.Message
}

// Publish implements Publisher.
func (c *Collector) Publish(_ context.Context, sender, text string) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	msg, ok := capture.NewMessage(sender, text, now())
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of everything collected so far.
func (c *Collector) Messages() []capture.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capture.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Bridge drives an Executor.
type Bridge struct {
	exec Executor
	log  *slog.Logger
}

// New returns a bridge over exec. A nil logger uses the "agent" logger.
func New(exec Executor, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = logging.Named("agent")
	}
	return &Bridge{exec: exec, log: logger}
}

// Run executes task and publishes each message in the order the executor
// yields it. If the executor fails or panics, exactly one ERROR message is
// published and the error is returned. A publish failure stops the run and
// is returned wrapped in ErrPublish.
func (b *Bridge) Run(ctx context.Context, pub Publisher, task string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("executor panicked: %v", p)
			b.fail(ctx, pub, err)
		}
	}()

	for msg, runErr := range b.exec.Run(ctx, task) {
		if runErr != nil {
			b.fail(ctx, pub, runErr)
			return runErr
		}
		sender, text, ok := msg.Normalize()
		if !ok {
			continue
		}
		b.log.Debug("agent message", "sender", sender, "text", text)
		if perr := pub.Publish(ctx, sender, text); perr != nil {
			return fmt.Errorf("%w: %w", ErrPublish, perr)
		}
	}
	if err := ctx.Err(); err != nil {
		b.fail(ctx, pub, err)
		return err
	}
	return nil
}

// Collect runs task synchronously and returns every message it produced,
// including the ERROR message of a failed run.
func (b *Bridge) Collect(ctx context.Context, task string) ([]capture.Message, error) {
	c := &Collector{}
	err := b.Run(ctx, c, task)
	return c.Messages(), err
}

func (b *Bridge) fail(ctx context.Context, pub Publisher, err error) {
	b.log.Error("task failed", "error", err)
	// The run's own context may be what failed; the ERROR message still
	// goes out.
	if perr := pub.Publish(context.WithoutCancel(ctx), capture.SenderError, ErrorPrefix+err.Error()); perr != nil {
		b.log.Warn("failed to publish task error", "error", perr)
	}
}
