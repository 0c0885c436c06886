// Package store keeps a short-lived record of triage tasks in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

const (
	DefaultTTL = 7 * 24 * time.Hour

	taskKeyPrefix = "task:"
	timelineKey   = "tasks:timeline"
	sourcePrefix  = "tasks:source:"
)

var ErrNotFound = errors.New("task not found")

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task sources.
const (
	SourceAlert   = "alert"
	SourceWS      = "ws"
	SourceRunTask = "run_task"
)

type Task struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Event     string `json:"event"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Messages  int    `json:"messages"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewTask returns a queued task with a fresh ID.
func NewTask(source, event string) Task {
	now := time.Now().Unix()
	return Task{
		ID:        uuid.New().String(),
		Source:    source,
		Event:     event,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store persists tasks in Redis: one JSON value per task with a TTL, plus a
// global timeline and a per-source timeline ordered by creation time.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Client() *redis.Client { return s.client }

// Save writes t and indexes it on first save.
func (s *Store) Save(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, taskKeyPrefix+t.ID, data, s.ttl)
	pipe.ZAddNX(ctx, timelineKey, redis.Z{Score: float64(t.CreatedAt), Member: t.ID})
	pipe.ZAddNX(ctx, sourcePrefix+t.Source, redis.Z{Score: float64(t.CreatedAt), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// Update loads the task, applies fn and saves the result.
func (s *Store) Update(ctx context.Context, id string, fn func(*Task)) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(&t)
	t.UpdatedAt = time.Now().Unix()
	return s.Save(ctx, t)
}

func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	data, err := s.client.Get(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("corrupt task %s: %w", id, err)
	}
	return t, nil
}

// List returns up to limit tasks, newest first. Timeline entries whose
// record has expired are pruned.
func (s *Store) List(ctx context.Context, limit int) ([]Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, timelineKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task IDs: %w", err)
	}

	tasks := make([]Task, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			logging.Named("store").Warn("skipping task", "task_id", id, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, timelineKey, expired...)
	}
	return tasks, nil
}

// IDs returns every task ID on the timeline, oldest first.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, timelineKey, 0, -1).Result()
}

// Delete removes a task from every structure.
func (s *Store) Delete(ctx context.Context, id string) error {
	var source string
	if t, err := s.Get(ctx, id); err == nil {
		source = t.Source
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, taskKeyPrefix+id)
	pipe.ZRem(ctx, timelineKey, id)
	if source != "" {
		pipe.ZRem(ctx, sourcePrefix+source, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// MatchesAnyPattern reports whether id matches one of the glob patterns.
func MatchesAnyPattern(id string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(id, pattern) {
			return true
		}
	}
	return false
}

// matchesPattern supports * and ? wildcards.
func matchesPattern(id, pattern string) bool {
	regexPattern := regexp.QuoteMeta(pattern)
	regexPattern = strings.ReplaceAll(regexPattern, `\*`, ".*")
	regexPattern = strings.ReplaceAll(regexPattern, `\?`, ".")
	regexPattern = "^" + regexPattern + "$"

	matched, err := regexp.MatchString(regexPattern, id)
	if err != nil {
		logging.Named("store").Warn("invalid pattern", "pattern", pattern, "error", err)
		return false
	}
	return matched
}
