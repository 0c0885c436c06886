// Package bridge connects a task executor to the capture pipeline. Executors
// yield agent messages; the bridge normalizes them into (sender, text) pairs
// and hands them to a Publisher, turning a failed run into a single ERROR
// message.
package bridge

import (
	"strings"

	"github.com/EasterCompany/dex-triage-service/internal/capture"
)

// AgentMessage is either a structured message with a source and content, or
// bare text produced by an executor that does not attribute its output.
type AgentMessage struct {
	source  string
	content string
	plain   bool
}

// Structured returns a message attributed to source.
func Structured(source, content string) AgentMessage {
	return AgentMessage{source: source, content: content}
}

// PlainText returns an unattributed message.
func PlainText(text string) AgentMessage {
	return AgentMessage{content: text, plain: true}
}

// IsPlainText reports whether m carries no source.
func (m AgentMessage) IsPlainText() bool { return m.plain }

// Source returns the structured source, or "" for plain text.
func (m AgentMessage) Source() string { return m.source }

// Content returns the message body.
func (m AgentMessage) Content() string { return m.content }

// Normalize returns the sender and trimmed text to publish. Plain text and
// structured messages without a source are attributed to SYSTEM. ok is false
// when there is nothing to publish.
func (m AgentMessage) Normalize() (sender, text string, ok bool) {
	text = strings.TrimSpace(m.content)
	if text == "" {
		return "", "", false
	}
	sender = strings.TrimSpace(m.source)
	if m.plain || sender == "" {
		sender = capture.SenderSystem
	}
	return sender, text, true
}

func (m AgentMessage) String() string {
	sender, text, _ := m.Normalize()
	return sender + ": " + text
}
