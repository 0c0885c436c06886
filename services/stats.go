package services

import (
	"runtime"
	"sync/atomic"
	"time"
)

// TaskStats counts triage tasks across every entry point.
type TaskStats struct {
	startTime time.Time

	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	running   atomic.Int64
}

// NewTaskStats returns zeroed counters starting now.
func NewTaskStats() *TaskStats {
	return &TaskStats{startTime: time.Now()}
}

// IncrementReceived counts a task that was accepted.
func (s *TaskStats) IncrementReceived() { s.received.Add(1) }

// IncrementRejected counts a task refused because the queue was full or
// the service was stopping.
func (s *TaskStats) IncrementRejected() { s.rejected.Add(1) }

// Started marks a task as running. The returned func records the outcome.
func (s *TaskStats) Started() func(err error) {
	s.running.Add(1)
	return func(err error) {
		s.running.Add(-1)
		if err != nil {
			s.failed.Add(1)
			return
		}
		s.processed.Add(1)
	}
}

// TaskSnapshot is the JSON view of TaskStats.
type TaskSnapshot struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Running   int64  `json:"running"`
}

func (s *TaskStats) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		Received:  s.received.Load(),
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
		Running:   s.running.Load(),
	}
}

// Uptime returns the time since the counters were created.
func (s *TaskStats) Uptime() time.Duration { return time.Since(s.startTime) }

// RuntimeMetrics reports process level figures for the service report.
func RuntimeMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]interface{}{
		"goroutines":      runtime.NumGoroutine(),
		"memory_alloc_mb": float64(m.Alloc) / 1024 / 1024,
		"memory_total_mb": float64(m.TotalAlloc) / 1024 / 1024,
		"memory_sys_mb":   float64(m.Sys) / 1024 / 1024,
		"gc_runs":         m.NumGC,
	}
}
