package utils

import (
	"fmt"
	"sync"
	"time"
)

// Health statuses reported on /service.
const (
	StatusStarting     = "STARTING"
	StatusOK           = "OK"
	StatusDegraded     = "DEGRADED"
	StatusError        = "ERROR"
	StatusShuttingDown = "SHUTTING_DOWN"
)

// HealthTracker holds the service status and its start time.
type HealthTracker struct {
	startTime time.Time

	mu      sync.RWMutex
	current Health
}

var (
	defaultTracker *HealthTracker
	trackerOnce    sync.Once
)

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		startTime: time.Now(),
		current: Health{
			Status:  StatusStarting,
			Message: "Service is initializing",
		},
	}
}

// DefaultTracker returns the process wide tracker.
func DefaultTracker() *HealthTracker {
	trackerOnce.Do(func() {
		defaultTracker = NewHealthTracker()
	})
	return defaultTracker
}

func (h *HealthTracker) Get() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health := h.current
	health.Uptime = FormatUptime(time.Since(h.startTime))
	return health
}

func (h *HealthTracker) Set(status, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Status = status
	h.current.Message = message
}

func (h *HealthTracker) UptimeSeconds() int64 {
	return int64(time.Since(h.startTime).Seconds())
}

// FormatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// GetHealth returns the current health status of the service.
func GetHealth() Health {
	return DefaultTracker().Get()
}

// GetUptimeSeconds returns the uptime in seconds.
func GetUptimeSeconds() int64 {
	return DefaultTracker().UptimeSeconds()
}

// SetHealthStatus updates the health status of the service.
func SetHealthStatus(status string, message string) {
	DefaultTracker().Set(status, message)
}
