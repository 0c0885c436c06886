package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

const DefaultHubURL = "http://127.0.0.1:8400"

// Client talks to the model hub that fronts the triage LLM deployment.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	calls     atomic.Uint64
	evalCount atomic.Uint64
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultHubURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{BaseURL: url, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}}
}

// ModelRequest represents the standard request format for the Model Hub
type ModelRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type ChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Response        string  `json:"response"` // Dedicated spoke fallback
	Done            bool    `json:"done"`
	EvalCount       int     `json:"eval_count,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
}

// Stats is a snapshot of usage since startup.
type Stats struct {
	Calls     uint64 `json:"calls"`
	EvalCount uint64 `json:"eval_count"`
}

func (c *Client) Stats() Stats {
	return Stats{Calls: c.calls.Load(), EvalCount: c.evalCount.Load()}
}

func (c *Client) Chat(ctx context.Context, model string, messages []Message) (Message, error) {
	return c.ChatWithOptions(ctx, model, messages, map[string]interface{}{
		"temperature": 0,
	})
}

func (c *Client) ChatWithOptions(ctx context.Context, model string, messages []Message, options map[string]interface{}) (Message, error) {
	// Options are passed through opaque
	optsBytes, _ := json.Marshal(options)

	reqBody := ModelRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  optsBytes,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/model/run", bytes.NewBuffer(jsonData))
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("api-key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Named("model").Warn("failed to close hub response body", "error", err)
		}
	}()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("hub returned status %d: %s", resp.StatusCode, string(body))
	}

	c.calls.Add(1)

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		// Fallback: It might be a simple JSON from a custom service
		var simpleResp map[string]string
		if err2 := json.Unmarshal(body, &simpleResp); err2 == nil {
			if val, ok := simpleResp["response"]; ok {
				return Message{Role: "assistant", Content: val}, nil
			}
		}
		return Message{}, fmt.Errorf("failed to unmarshal hub response: %w. Body: %s", err, string(body))
	}

	content := response.Message.Content
	if content == "" {
		content = response.Response
	}
	if content == "" {
		logging.Named("model").Warn("model returned empty content", "model", model)
	}
	c.evalCount.Add(uint64(response.EvalCount))

	return Message{Role: "assistant", Content: content}, nil
}
