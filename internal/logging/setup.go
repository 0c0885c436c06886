package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log levels supported by the configuration.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Well-known logger names. These are the loggers the capture router hooks
// in addition to the root logger.
const (
	LoggerServer = "server"
	LoggerHTTP   = "http"
	LoggerMain   = "main"
)

// WellKnown lists the named loggers created by Setup.
var WellKnown = []string{LoggerServer, LoggerHTTP, LoggerMain}

// Options controls how Setup builds the handlers.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

// Registry owns the root handler and every named handler.
type Registry struct {
	mu     sync.Mutex
	level  *slog.LevelVar
	output io.Writer
	json   bool
	root   *Handler
	named  map[string]*Handler
}

var (
	stdMu sync.Mutex
	std   *Registry
)

// ParseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRegistry builds a registry without touching process-wide state.
// The output writer is resolved once, so later reassignment of os.Stderr
// does not change where log lines go.
func NewRegistry(opts Options) *Registry {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	lv := &slog.LevelVar{}
	lv.Set(ParseLevel(opts.Level))

	r := &Registry{
		level:  lv,
		output: out,
		json:   strings.EqualFold(opts.Format, "json"),
		named:  make(map[string]*Handler),
	}
	r.root = NewHandler("", lv, r.newBase(""))
	for _, name := range WellKnown {
		r.lookup(name)
	}
	return r
}

// Setup builds the process registry and installs its root handler as the
// slog default, which also routes the standard log package through it.
func Setup(opts Options) *Registry {
	r := NewRegistry(opts)
	slog.SetDefault(slog.New(r.root))

	stdMu.Lock()
	std = r
	stdMu.Unlock()
	return r
}

func (r *Registry) newBase(name string) slog.Handler {
	hopts := &slog.HandlerOptions{Level: r.level}
	var h slog.Handler
	if r.json {
		h = slog.NewJSONHandler(r.output, hopts)
	} else {
		h = slog.NewTextHandler(r.output, hopts)
	}
	if name != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("logger", name)})
	}
	return h
}

// Root returns the root handler.
func (r *Registry) Root() *Handler { return r.root }

// Lookup returns the handler registered under name, creating it if needed.
func (r *Registry) Lookup(name string) *Handler {
	if name == "" {
		return r.root
	}
	return r.lookup(name)
}

func (r *Registry) lookup(name string) *Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.named[name]; ok {
		return h
	}
	h := NewHandler(name, r.level, r.newBase(name))
	r.named[name] = h
	return h
}

// Logger returns a slog.Logger for the named handler.
func (r *Registry) Logger(name string) *slog.Logger {
	return slog.New(r.Lookup(name))
}

// SetLevel changes the threshold of every logger in the registry.
func (r *Registry) SetLevel(level string) {
	r.level.Set(ParseLevel(level))
}

// Default returns the registry installed by Setup, building a stderr one
// on first use if Setup was never called.
func Default() *Registry {
	stdMu.Lock()
	defer stdMu.Unlock()
	if std == nil {
		std = NewRegistry(Options{})
	}
	return std
}

// Named returns a logger from the default registry.
func Named(name string) *slog.Logger {
	return Default().Logger(name)
}
