package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EasterCompany/dex-triage-service/handlers"
	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/store"
)

const (
	writeWait = 10 * time.Second

	welcomeText   = "Console streaming started. All output will be shown here."
	completedText = "Alert processing completed successfully"
)

// wsSubscriber pushes messages to one WebSocket connection. Writes from the
// router and from the connection's own task are serialized.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) Send(ctx context.Context, msg capture.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// bestEffort drops publish errors. A task started from a connection keeps
// running after the connection goes away; its output is simply lost.
type bestEffort struct {
	bridge.Publisher
}

func (p bestEffort) Publish(ctx context.Context, sender, text string) error {
	_ = p.Publisher.Publish(ctx, sender, text)
	return nil
}

type wsRequest struct {
	Event json.RawMessage `json:"event"`
}

// handleWS subscribes the connection to the console for its lifetime and
// runs every {"event": ...} it sends, streaming that task's messages back
// to this connection only.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := &wsSubscriber{conn: conn}
	pub := bridge.SubscriberPublisher{Sub: sub, Now: s.now}
	// Tasks outlive the request; the executor's timeout and shutdown bound them.
	taskCtx := context.WithoutCancel(r.Context())

	if err := s.router.Subscribe(sub); err != nil {
		s.log.Error("failed to start console capture", "error", err)
		_ = pub.Publish(taskCtx, capture.SenderError, "Console capture unavailable: "+err.Error())
		return
	}
	defer func() {
		if err := s.router.Unsubscribe(sub); err != nil {
			s.log.Error("failed to stop console capture", "error", err)
		}
		s.log.Info("websocket connection closed", "remote", r.RemoteAddr)
	}()
	s.log.Info("websocket connection established", "remote", r.RemoteAddr)

	if err := pub.Publish(taskCtx, capture.SenderSystem, welcomeText); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("invalid websocket message", "error", err)
			_ = pub.Publish(taskCtx, capture.SenderError, "Invalid message: "+err.Error())
			continue
		}
		event := eventText(req.Event)
		if event == "" {
			continue
		}
		s.log.Info("processing websocket alert event", "event", event)

		_ = pub.Publish(taskCtx, capture.SenderCommand, "Processing alert: "+event)
		if _, err := s.executor.Run(taskCtx, bestEffort{pub}, store.SourceWS, event); err != nil {
			// Failed runs have already reported through the bridge.
			if errors.Is(err, handlers.ErrShuttingDown) {
				_ = pub.Publish(taskCtx, capture.SenderError, bridge.ErrorPrefix+err.Error())
			}
			continue
		}
		_ = pub.Publish(taskCtx, capture.SenderSystem, completedText)
	}
}
