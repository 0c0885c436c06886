package agent

import (
	"context"

	"github.com/EasterCompany/dex-triage-service/internal/model"
)

// Specialist is one member of the triage team.
type Specialist struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Prompt      string   `yaml:"prompt"`
	Tools       []string `yaml:"tools"`
}

// Prompts holds the shared protocol and the specialist definitions.
type Prompts struct {
	Protocol    string       `yaml:"protocol"`
	Specialists []Specialist `yaml:"specialists"`
}

// Chatter is the model backend a team talks to. *model.Client implements it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []model.Message) (model.Message, error)
}

// ToolCall is the reply format a specialist uses to invoke a tool.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Config holds parameters for the team's behavior.
type Config struct {
	Model    string
	MaxTurns int
	// Members selects specialists by name; empty means all of them.
	Members    []string
	StopTokens []string
}
