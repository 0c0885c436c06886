package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrAlreadyIntercepted is returned when a stream is intercepted twice
// without being restored in between.
var ErrAlreadyIntercepted = errors.New("capture: stream already intercepted")

// Stream is a process-wide text sink the router may redirect.
//
// Intercept replaces the sink's destination with wrap(original) and saves
// original. A stream that passes bytes through itself may call wrap(nil) and
// feed the result only the text to broadcast. Restore reinstates exactly the
// saved destination; it is a no-op on a stream that is not intercepted.
type Stream interface {
	Tag() string
	Intercept(wrap func(orig io.Writer) io.Writer) error
	Restore() error
}

// streamWriter passes every write through to the original sink and hands a
// trimmed copy to emit. emit must not block.
type streamWriter struct {
	orig io.Writer
	tag  string
	emit func(sender, text string)
}

type flusher interface {
	Flush() error
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := len(p), error(nil)
	if w.orig != nil {
		n, err = w.orig.Write(p)
		if f, ok := w.orig.(flusher); ok {
			_ = f.Flush()
		}
	}
	if text := strings.TrimSpace(string(p)); text != "" {
		w.emit(w.tag, text)
	}
	return n, err
}

// SwapWriter is an io.Writer whose destination can be replaced at runtime.
// Components that want their output to be capturable write through one.
type SwapWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

// NewSwapWriter returns a SwapWriter delegating to w.
func NewSwapWriter(w io.Writer) *SwapWriter {
	return &SwapWriter{w: w}
}

// Write implements io.Writer.
func (s *SwapWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	w := s.w
	s.mu.RUnlock()
	if w == nil {
		return len(p), nil
	}
	return w.Write(p)
}

// Set changes the destination.
func (s *SwapWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

// Get returns the current destination.
func (s *SwapWriter) Get() io.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w
}

// WriterStream intercepts a SwapWriter. Writes are passed through and
// broadcast synchronously with the caller's Write.
type WriterStream struct {
	tag    string
	target *SwapWriter

	mu     sync.Mutex
	saved  io.Writer
	active bool
}

// NewWriterStream returns a stream over target tagged with tag.
func NewWriterStream(tag string, target *SwapWriter) *WriterStream {
	return &WriterStream{tag: tag, target: target}
}

// Tag returns the sender used for captured writes.
func (s *WriterStream) Tag() string { return s.tag }

// Intercept implements Stream.
func (s *WriterStream) Intercept(wrap func(orig io.Writer) io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return fmt.Errorf("%s: %w", s.tag, ErrAlreadyIntercepted)
	}
	cur := s.target.Get()
	if _, ok := cur.(*streamWriter); ok {
		return fmt.Errorf("%s: %w", s.tag, ErrAlreadyIntercepted)
	}
	s.saved = cur
	s.target.Set(wrap(cur))
	s.active = true
	return nil
}

// Restore implements Stream.
func (s *WriterStream) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.target.Set(s.saved)
	s.saved = nil
	s.active = false
	return nil
}
