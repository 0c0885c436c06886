// Package capture mirrors the process's console output and log records to a
// dynamic set of subscribers.
//
// A Router owns the decision of when capture is on. The first subscriber
// redirects stdout, stderr and the hooked loggers; the last one leaving puts
// the exact original sinks back. Everything written while capture is active
// still reaches the real console unchanged, and a trimmed copy is fanned out
// to every subscriber on a best-effort, at-most-once basis.
package capture

import (
	"context"
	"strings"
	"time"
)

// TimestampLayout is the display format of Message.Timestamp.
const TimestampLayout = "15:04:05"

// Well-known senders.
const (
	SenderStdout  = "STDOUT"
	SenderStderr  = "STDERR"
	SenderSystem  = "SYSTEM"
	SenderCommand = "COMMAND"
	SenderError   = "ERROR"

	// LogSenderPrefix is prepended to the level name of relayed log records.
	LogSenderPrefix = "LOG_"
)

// Message is the unit of broadcast. All three fields are always set and
// Text is never blank.
type Message struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a Message stamped with at. It reports false when text
// is empty after trimming; such writes are never broadcast.
func NewMessage(sender, text string, at time.Time) (Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}
	return Message{
		Sender:    sender,
		Text:      text,
		Timestamp: at.Format(TimestampLayout),
	}, true
}

// Subscriber is a push endpoint. Identity is handle equality, so
// implementations should be pointers.
type Subscriber interface {
	Send(ctx context.Context, msg Message) error
}
