package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/model"
)

const (
	maxChatRetries = 3
	chatTimeout    = 5 * time.Minute
)

// chatWithRetry makes up to three attempts, giving each a fresh timeout.
func chatWithRetry(ctx context.Context, chat Chatter, modelName string, history []model.Message) (model.Message, error) {
	var lastError error
	for i := 0; i < maxChatRetries; i++ {
		if err := ctx.Err(); err != nil {
			return model.Message{}, err
		}
		tCtx, cancel := context.WithTimeout(ctx, chatTimeout)
		resp, err := chat.Chat(tCtx, modelName, history)
		cancel()
		if err != nil {
			lastError = err
			continue
		}
		if strings.TrimSpace(resp.Content) == "" {
			lastError = fmt.Errorf("model returned empty content")
			continue
		}
		return resp, nil
	}
	return model.Message{}, fmt.Errorf("max retries reached: %w", lastError)
}

// stripCodeFence removes a markdown fence wrapping the whole response.
func stripCodeFence(response string) string {
	clean := strings.TrimSpace(response)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	if firstNewline := strings.Index(clean, "\n"); firstNewline != -1 {
		clean = clean[firstNewline+1:]
	} else {
		clean = strings.TrimPrefix(clean, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(clean), "```"))
}

// parseToolCall recognizes a reply that consists of a single tool call.
func parseToolCall(response string) (ToolCall, bool) {
	clean := stripCodeFence(response)
	if !strings.HasPrefix(clean, "{") {
		return ToolCall{}, false
	}
	var call ToolCall
	if err := json.Unmarshal([]byte(clean), &call); err != nil || call.Tool == "" {
		return ToolCall{}, false
	}
	return call, true
}

func hasStopToken(response string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(response, token) {
			return true
		}
	}
	return false
}
