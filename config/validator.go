package config

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

var (
	validLevels  = []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR"}
	validFormats = []string{"text", "json"}
	validStreams = []string{"stdout", "stderr"}
)

func oneOf(value string, options []string) bool {
	for _, o := range options {
		if strings.EqualFold(value, o) {
			return true
		}
	}
	return false
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", c.Server.Port, "must be between 1 and 65535")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", c.Server.ShutdownTimeout, "must be positive")
	}

	if !oneOf(c.Log.Level, validLevels) {
		add("log.level", c.Log.Level, "must be one of DEBUG, INFO, WARN, ERROR")
	}
	if !oneOf(c.Log.Format, validFormats) {
		add("log.format", c.Log.Format, "must be text or json")
	}

	if c.Capture.QueueSize < 1 {
		add("capture.queue_size", c.Capture.QueueSize, "must be at least 1")
	}
	if c.Capture.SendTimeout <= 0 {
		add("capture.send_timeout", c.Capture.SendTimeout, "must be positive")
	}
	if c.Capture.MaxConcurrency < 1 {
		add("capture.max_concurrency", c.Capture.MaxConcurrency, "must be at least 1")
	}
	for _, s := range c.Capture.Streams {
		if !oneOf(s, validStreams) {
			add("capture.streams", s, "must be stdout or stderr")
		}
	}
	for _, l := range c.Capture.Loggers {
		if strings.TrimSpace(l) == "" {
			add("capture.loggers", l, "logger names must not be empty")
		}
	}

	if c.Tasks.Workers < 1 {
		add("tasks.workers", c.Tasks.Workers, "must be at least 1")
	}
	if c.Tasks.QueueSize < 1 {
		add("tasks.queue_size", c.Tasks.QueueSize, "must be at least 1")
	}

	if c.Model.URL == "" {
		add("model.url", c.Model.URL, "must be set")
	}
	if c.Agents.MaxTurns < 1 {
		add("agents.max_turns", c.Agents.MaxTurns, "must be at least 1")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr", c.Redis.Addr, "must be set when redis is enabled")
	}
	if c.Redis.Mirror && !c.Redis.Enabled {
		add("redis.mirror", c.Redis.Mirror, "requires redis.enabled")
	}

	return errs
}
