package endpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/store"
)

type runTaskRequest struct {
	Event json.RawMessage `json:"event"`
}

type runTaskResponse struct {
	TaskID   string            `json:"task_id"`
	Messages []capture.Message `json:"messages"`
}

// handleRunTask runs a task while the client waits and returns every
// message the agents produced.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Error processing task: %v", err), http.StatusBadRequest)
		return
	}
	event := eventText(req.Event)
	if event == "" {
		http.Error(w, "Missing 'event' parameter", http.StatusBadRequest)
		return
	}

	collector := &bridge.Collector{Now: s.now}
	task, err := s.executor.Run(r.Context(), collector, store.SourceRunTask, event)
	if err != nil {
		s.log.Error("run_task failed", "task_id", task.ID, "error", err)
		http.Error(w, fmt.Sprintf("Error processing task: %v", err), http.StatusInternalServerError)
		return
	}

	messages := collector.Messages()
	if messages == nil {
		messages = []capture.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": runTaskResponse{TaskID: task.ID, Messages: messages},
	})
}
