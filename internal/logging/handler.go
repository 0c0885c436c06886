// Package logging configures the service's slog loggers and exposes the
// hook points other components use to observe emitted records.
//
// Every logger handed out by this package is backed by a Handler. A Handler
// writes enabled records to its base handler and additionally forwards them
// to any hooks attached at runtime. Hooks never affect the base output: a
// panicking or failing hook is recovered and ignored.
package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrHookAttached is returned when the same hook is attached twice.
var ErrHookAttached = errors.New("logging: hook already attached")

// hookSet is shared between a Handler and the clones produced by WithAttrs
// and WithGroup, so attaching a hook to a named logger also covers loggers
// derived from it.
type hookSet struct {
	mu    sync.RWMutex
	hooks []slog.Handler
}

func (s *hookSet) snapshot() []slog.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.hooks) == 0 {
		return nil
	}
	return slices.Clone(s.hooks)
}

// Handler is a slog.Handler with attachable hooks.
type Handler struct {
	name   string
	level  slog.Leveler
	base   slog.Handler
	hooks  *hookSet
	bound  []slog.Attr
	prefix string
}

// NewHandler wraps base. Records below level are dropped before reaching
// either the base handler or the hooks.
func NewHandler(name string, level slog.Leveler, base slog.Handler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		name:  name,
		level: level,
		base:  base,
		hooks: &hookSet{},
	}
}

// Name returns the logger name this handler was registered under.
func (h *Handler) Name() string { return h.name }

// Enabled reports whether the logger's threshold admits level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes r to the base handler and then offers it to every hook.
// Only the base handler's error is returned.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.base != nil && h.base.Enabled(ctx, r.Level) {
		err = h.base.Handle(ctx, r)
	}

	for _, hook := range h.hooks.snapshot() {
		h.callHook(ctx, hook, r)
	}
	return err
}

func (h *Handler) callHook(ctx context.Context, hook slog.Handler, r slog.Record) {
	defer func() {
		_ = recover()
	}()
	if !hook.Enabled(ctx, r.Level) {
		return
	}
	hr := r
	if len(h.bound) > 0 || h.prefix != "" {
		hr = slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
		hr.AddAttrs(h.bound...)
		r.Attrs(func(a slog.Attr) bool {
			if h.prefix != "" {
				a.Key = h.prefix + a.Key
			}
			hr.AddAttrs(a)
			return true
		})
	} else {
		hr = r.Clone()
	}
	_ = hook.Handle(ctx, hr)
}

// WithAttrs returns a handler whose base output and hook output both carry attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	if h.base != nil {
		c.base = h.base.WithAttrs(attrs)
	}
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.bound = append(c.bound, a)
	}
	return c
}

// WithGroup returns a handler that qualifies subsequent attributes with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if h.base != nil {
		c.base = h.base.WithGroup(name)
	}
	c.prefix = h.prefix + name + "."
	return c
}

func (h *Handler) clone() *Handler {
	return &Handler{
		name:   h.name,
		level:  h.level,
		base:   h.base,
		hooks:  h.hooks,
		bound:  slices.Clone(h.bound),
		prefix: h.prefix,
	}
}

// AddHook attaches hook. Attaching the same hook twice is an error.
func (h *Handler) AddHook(hook slog.Handler) error {
	h.hooks.mu.Lock()
	defer h.hooks.mu.Unlock()
	if slices.Contains(h.hooks.hooks, hook) {
		return ErrHookAttached
	}
	h.hooks.hooks = append(h.hooks.hooks, hook)
	return nil
}

// RemoveHook detaches hook and reports whether it was attached.
func (h *Handler) RemoveHook(hook slog.Handler) bool {
	h.hooks.mu.Lock()
	defer h.hooks.mu.Unlock()
	i := slices.Index(h.hooks.hooks, hook)
	if i < 0 {
		return false
	}
	h.hooks.hooks = slices.Delete(h.hooks.hooks, i, i+1)
	return true
}

// HookCount returns the number of attached hooks.
func (h *Handler) HookCount() int {
	h.hooks.mu.RLock()
	defer h.hooks.mu.RUnlock()
	return len(h.hooks.hooks)
}
