package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("capture: router closed")

const (
	defaultQueueSize      = 1024
	defaultSendTimeout    = 5 * time.Second
	defaultMaxConcurrency = 16
)

// Options configures a Router.
type Options struct {
	// Streams are intercepted on the first subscriber and restored after
	// the last one leaves.
	Streams []Stream
	// Loggers receive the record interceptor alongside the streams.
	Loggers []LogSource

	QueueSize      int
	SendTimeout    time.Duration
	MaxConcurrency int

	// Now stamps messages. Defaults to time.Now.
	Now func() time.Time
	// Logger reports subscriber drops. It should not be one of Loggers.
	Logger *slog.Logger
}

// Stats is a point-in-time view of the router for status reports.
type Stats struct {
	Active      bool   `json:"active"`
	Subscribers int    `json:"subscribers"`
	Queued      int    `json:"queued"`
	Activations int64  `json:"activations"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
}

type envelope struct {
	msg     Message
	barrier chan struct{}
}

// Router fans captured output out to subscribers.
//
// Subscribe and Unsubscribe are serialized; Broadcast never blocks and may
// be called from any goroutine, including from inside intercepted writes.
// A single dispatcher delivers queued messages in order, so every
// subscriber observes messages in the order they were broadcast.
type Router struct {
	streams        []Stream
	loggers        []LogSource
	sendTimeout    time.Duration
	maxConcurrency int
	now            func() time.Time
	log            *slog.Logger

	mu       sync.Mutex
	registry *Registry
	hook     *recordHook
	active   bool

	queue   chan envelope
	stop    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	closing sync.Once

	activations atomic.Int64
	delivered   atomic.Uint64
	dropped     atomic.Uint64
	failed      atomic.Uint64
}

// NewRouter builds a router and starts its dispatcher.
func NewRouter(opts Options) *Router {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("capture")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		streams:        opts.Streams,
		loggers:        opts.Loggers,
		sendTimeout:    opts.SendTimeout,
		maxConcurrency: opts.MaxConcurrency,
		now:            opts.Now,
		log:            opts.Logger,
		registry:       NewRegistry(),
		queue:          make(chan envelope, opts.QueueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	r.hook = &recordHook{emit: r.Broadcast}

	go r.run()
	return r
}

// Subscribe registers sub. The first subscriber activates capture; adding
// a subscriber that is already registered does nothing. If activation fails
// the subscriber is not registered and every partially installed
// interceptor is removed again.
func (r *Router) Subscribe(sub Subscriber) error {
	if r.closed.Load() {
		return ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registry.Add(sub) || r.active {
		return nil
	}
	if err := r.activate(); err != nil {
		r.registry.Remove(sub)
		return fmt.Errorf("capture: failed to activate: %w", err)
	}
	return nil
}

// Unsubscribe removes sub. Removing the last subscriber restores the
// original sinks. Unknown subscribers are ignored.
func (r *Router) Unsubscribe(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(sub)
}

func (r *Router) removeLocked(sub Subscriber) error {
	if !r.registry.Remove(sub) {
		return nil
	}
	if r.registry.Len() > 0 || !r.active {
		return nil
	}
	if err := r.deactivate(); err != nil {
		return fmt.Errorf("capture: failed to deactivate: %w", err)
	}
	return nil
}

func (r *Router) wrap(tag string) func(io.Writer) io.Writer {
	return func(orig io.Writer) io.Writer {
		return &streamWriter{orig: orig, tag: tag, emit: r.Broadcast}
	}
}

func (r *Router) activate() error {
	for i, s := range r.streams {
		if err := s.Intercept(r.wrap(s.Tag())); err != nil {
			r.restoreStreams(r.streams[:i])
			return err
		}
	}
	for i, l := range r.loggers {
		if err := l.AddHook(r.hook); err != nil {
			for _, attached := range r.loggers[:i] {
				attached.RemoveHook(r.hook)
			}
			r.restoreStreams(r.streams)
			return err
		}
	}
	r.active = true
	r.activations.Add(1)
	r.log.Debug("capture activated", "streams", len(r.streams), "loggers", len(r.loggers))
	return nil
}

func (r *Router) deactivate() error {
	for _, l := range r.loggers {
		l.RemoveHook(r.hook)
	}
	err := r.restoreStreams(r.streams)
	r.active = false
	r.log.Debug("capture deactivated")
	return err
}

// restoreStreams restores in reverse interception order.
func (r *Router) restoreStreams(streams []Stream) error {
	var errs []error
	for i := len(streams) - 1; i >= 0; i-- {
		if err := streams[i].Restore(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcast stamps a message and schedules it for delivery to every
// subscriber registered when it is dispatched. Blank text is dropped, as is
// anything broadcast while nobody is subscribed or the queue is full.
func (r *Router) Broadcast(sender, text string) {
	if r.closed.Load() || r.registry.Len() == 0 {
		return
	}
	msg, ok := NewMessage(sender, text, r.now())
	if !ok {
		return
	}
	select {
	case r.queue <- envelope{msg: msg}:
	default:
		r.dropped.Add(1)
	}
}

// Flush blocks until every message queued before the call has been
// delivered, or ctx is done.
func (r *Router) Flush(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	barrier := make(chan struct{})
	select {
	case r.queue <- envelope{barrier: barrier}:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case env := <-r.queue:
			if env.barrier != nil {
				close(env.barrier)
				continue
			}
			r.deliver(env.msg)
		}
	}
}

func (r *Router) deliver(msg Message) {
	subs := r.registry.Snapshot()
	if len(subs) == 0 {
		return
	}

	var mu sync.Mutex
	var failed []Subscriber

	p := pool.New().WithMaxGoroutines(r.maxConcurrency)
	for _, sub := range subs {
		p.Go(func() {
			if err := r.send(sub, msg); err != nil {
				mu.Lock()
				failed = append(failed, sub)
				mu.Unlock()
				r.log.Debug("dropping subscriber", "sender", msg.Sender, "error", err)
			}
		})
	}
	p.Wait()

	r.delivered.Add(uint64(len(subs) - len(failed)))
	for _, sub := range failed {
		r.failed.Add(1)
		if err := r.Unsubscribe(sub); err != nil {
			r.log.Error("failed to release capture after subscriber drop", "error", err)
		}
	}
}

func (r *Router) send(sub Subscriber, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subscriber panicked: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(r.ctx, r.sendTimeout)
	defer cancel()
	return sub.Send(ctx, msg)
}

// Active reports whether sinks are currently intercepted.
func (r *Router) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Subscribed reports whether sub is registered.
func (r *Router) Subscribed(sub Subscriber) bool {
	return r.registry.Contains(sub)
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	return Stats{
		Active:      r.Active(),
		Subscribers: r.registry.Len(),
		Queued:      len(r.queue),
		Activations: r.activations.Load(),
		Delivered:   r.delivered.Load(),
		Dropped:     r.dropped.Load(),
		Failed:      r.failed.Load(),
	}
}

// Close drains pending messages (bounded by ctx), stops the dispatcher,
// drops every subscriber and restores the original sinks. Broadcast is a
// no-op afterwards.
func (r *Router) Close(ctx context.Context) error {
	var err error
	r.closing.Do(func() {
		if ferr := r.Flush(ctx); ferr != nil && !errors.Is(ferr, ErrClosed) {
			err = ferr
		}
		r.closed.Store(true)
		close(r.stop)
		r.cancel()
		<-r.done

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, sub := range r.registry.Snapshot() {
			r.registry.Remove(sub)
		}
		if r.active {
			err = errors.Join(err, r.deactivate())
		}
	})
	return err
}
