package endpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/EasterCompany/dex-triage-service/handlers"
	"github.com/EasterCompany/dex-triage-service/internal/store"
)

// Alertmanager webhook payload, reduced to the fields used in the task text.
type alertmanagerWebhook struct {
	Status       string              `json:"status"`
	Receiver     string              `json:"receiver"`
	CommonLabels map[string]string   `json:"commonLabels"`
	Alerts       []alertmanagerAlert `json:"alerts"`
}

type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// handleAlert queues any JSON payload as a background triage task whose
// output is broadcast to every console subscriber.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		if err == nil {
			err = errors.New("body is not valid JSON")
		}
		http.Error(w, fmt.Sprintf("Error processing payload: %v", err), http.StatusBadRequest)
		return
	}

	task, err := s.executor.Submit(store.SourceAlert, alertTaskText(body))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, handlers.ErrQueueFull) || errors.Is(err, handlers.ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("Error processing payload: %v", err), status)
		return
	}
	s.log.Info("alert received", "remote", r.RemoteAddr, "task_id", task.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"task_id": task.ID,
	})
}

// alertTaskText turns an alert payload into the task handed to the agents.
// Alertmanager payloads get a readable summary ahead of the raw JSON; any
// other payload is passed on as compact JSON.
func alertTaskText(body []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		compact.Reset()
		compact.Write(body)
	}

	var hook alertmanagerWebhook
	if err := json.Unmarshal(body, &hook); err != nil || len(hook.Alerts) == 0 {
		return compact.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Alertmanager notification (%s, %d alert(s))", hook.Status, len(hook.Alerts))
	if hook.Receiver != "" {
		fmt.Fprintf(&b, " for receiver %s", hook.Receiver)
	}
	b.WriteString("\n")
	for _, a := range hook.Alerts {
		labels := mergeLabels(hook.CommonLabels, a.Labels)
		fmt.Fprintf(&b, "- [%s] %s", a.Status, labels["alertname"])
		for _, key := range []string{"severity", "namespace", "pod", "instance"} {
			if v := labels[key]; v != "" {
				fmt.Fprintf(&b, " %s=%s", key, v)
			}
		}
		if summary := a.Annotations["summary"]; summary != "" {
			fmt.Fprintf(&b, ": %s", summary)
		} else if desc := a.Annotations["description"]; desc != "" {
			fmt.Fprintf(&b, ": %s", desc)
		}
		b.WriteString("\n")
	}
	b.WriteString("Payload: ")
	b.Write(compact.Bytes())
	return b.String()
}

func mergeLabels(common, own map[string]string) map[string]string {
	out := make(map[string]string, len(common)+len(own))
	for k, v := range common {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

// eventText reads the opaque "event" field: strings are used as they are,
// any other JSON value as its compact text.
func eventText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
