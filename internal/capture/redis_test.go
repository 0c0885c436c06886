package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakePublisher struct {
	err       error
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.published = append(f.published, channel+" "+string(message.([]byte)))
	cmd.SetVal(1)
	return cmd
}

func TestRedisSubscriber_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	s := NewRedisSubscriber(pub, "", slog.New(slog.DiscardHandler))

	msg := Message{Sender: SenderSystem, Text: "Console streaming started.", Timestamp: "10:30:00"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(pub.published))
	}

	data, _ := json.Marshal(msg)
	want := DefaultRedisChannel + " " + string(data)
	if pub.published[0] != want {
		t.Errorf("Expected %q, got %q", want, pub.published[0])
	}
}

func TestRedisSubscriber_SwallowsOutage(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	s := NewRedisSubscriber(pub, "console", nil)

	for i := 0; i < 3; i++ {
		if err := s.Send(context.Background(), Message{Sender: SenderStdout, Text: "x", Timestamp: "00:00:00"}); err != nil {
			t.Errorf("Expected publish errors to be swallowed, got %v", err)
		}
	}
	if s.Failures() != 3 {
		t.Errorf("Expected 3 failures, got %d", s.Failures())
	}

	pub.err = nil
	_ = s.Send(context.Background(), Message{Sender: SenderStdout, Text: "back", Timestamp: "00:00:01"})
	if len(pub.published) != 1 {
		t.Errorf("Expected publishing to resume, got %d publishes", len(pub.published))
	}
}
