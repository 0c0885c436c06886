// Package agent runs the triage team: specialists backed by the model hub
// take turns on an alert, calling tools until one of them reaches a
// diagnosis.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
	"github.com/EasterCompany/dex-triage-service/internal/model"
	"github.com/EasterCompany/dex-triage-service/internal/tools"
)

const (
	DefaultMaxTurns = 20
	TaskSource      = "user"
)

var DefaultStopTokens = []string{"TERMINATE"}

type entry struct {
	speaker string
	content string
	tool    string
}

// Team is built once and shared; each Run keeps its own transcript.
type Team struct {
	chat     Chatter
	tools    *tools.Registry
	cfg      Config
	protocol string
	members  []Specialist
	log      *slog.Logger
}

// NewTeam selects cfg.Members from prompts. Tools a specialist lists but
// the registry lacks are dropped with a warning.
func NewTeam(chat Chatter, reg *tools.Registry, prompts Prompts, cfg Config, logger *slog.Logger) (*Team, error) {
	if chat == nil {
		return nil, errors.New("agent: no model client")
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	if logger == nil {
		logger = logging.Named("agent")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if len(cfg.StopTokens) == 0 {
		cfg.StopTokens = DefaultStopTokens
	}

	selected, err := prompts.Select(cfg.Members)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if len(selected) == 0 {
		return nil, errors.New("agent: team has no specialists")
	}

	members := make([]Specialist, 0, len(selected))
	for _, s := range selected {
		var available []string
		for _, name := range s.Tools {
			if _, ok := reg.Get(name); ok {
				available = append(available, name)
			} else {
				logger.Warn("tool not configured", "specialist", s.Name, "tool", name)
			}
		}
		s.Tools = available
		members = append(members, s)
	}

	return &Team{
		chat:     chat,
		tools:    reg,
		cfg:      cfg,
		protocol: prompts.Protocol,
		members:  members,
		log:      logger,
	}, nil
}

// Members returns the specialist names in speaking order.
func (t *Team) Members() []string {
	names := make([]string, len(t.members))
	for i, s := range t.members {
		names[i] = s.Name
	}
	return names
}

// Run implements bridge.Executor. The task is yielded first, attributed to
// "user"; specialists then speak round-robin until a reply carries a stop
// token or the turn limit is reached.
func (t *Team) Run(ctx context.Context, task string) iter.Seq2[bridge.AgentMessage, error] {
	return func(yield func(bridge.AgentMessage, error) bool) {
		if !yield(bridge.Structured(TaskSource, task), nil) {
			return
		}
		transcript := []entry{{speaker: TaskSource, content: task}}

		for turn := 0; turn < t.cfg.MaxTurns; turn++ {
			if err := ctx.Err(); err != nil {
				yield(bridge.AgentMessage{}, err)
				return
			}
			member := t.members[turn%len(t.members)]

			reply, err := chatWithRetry(ctx, t.chat, t.cfg.Model, t.history(member, transcript))
			if err != nil {
				yield(bridge.AgentMessage{}, fmt.Errorf("%s: %w", member.Name, err))
				return
			}
			content := strings.TrimSpace(reply.Content)

			if call, ok := parseToolCall(content); ok {
				if !yield(bridge.Structured(member.Name, content), nil) {
					return
				}
				result := t.callTool(ctx, member, call)
				transcript = append(transcript,
					entry{speaker: member.Name, content: content},
					entry{speaker: member.Name, content: result, tool: call.Tool},
				)
				if !yield(bridge.Structured(member.Name, result), nil) {
					return
				}
				continue
			}

			transcript = append(transcript, entry{speaker: member.Name, content: content})
			if !yield(bridge.Structured(member.Name, content), nil) {
				return
			}
			if hasStopToken(content, t.cfg.StopTokens) {
				return
			}
		}

		yield(bridge.PlainText(fmt.Sprintf("Triage stopped after %d turns without a final answer", t.cfg.MaxTurns)), nil)
	}
}

func (t *Team) callTool(ctx context.Context, member Specialist, call ToolCall) string {
	allowed := false
	for _, name := range member.Tools {
		if name == call.Tool {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Sprintf("Error: tool %q is not available to %s", call.Tool, member.Name)
	}

	args, _ := json.Marshal(call.Args)
	t.log.Info("calling tool", "specialist", member.Name, "tool", call.Tool)
	result, err := t.tools.Call(ctx, call.Tool, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	if strings.TrimSpace(result) == "" {
		return "(no output)"
	}
	return result
}

// history renders the shared transcript from member's point of view.
func (t *Team) history(member Specialist, transcript []entry) []model.Message {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(t.protocol))
	fmt.Fprintf(&sys, "\n\nYou are %s. %s\n%s", member.Name, member.Description, strings.TrimSpace(member.Prompt))

	var mates []string
	for _, m := range t.members {
		if m.Name != member.Name {
			mates = append(mates, m.Name+" ("+m.Description+")")
		}
	}
	if len(mates) > 0 {
		fmt.Fprintf(&sys, "\n\nTeammates: %s", strings.Join(mates, ", "))
	}
	if len(member.Tools) > 0 {
		fmt.Fprintf(&sys, "\n\nYour tools:\n%s", t.tools.Describe(member.Tools))
	} else {
		sys.WriteString("\n\nYou have no tools; reason from what your teammates found.")
	}

	msgs := []model.Message{{Role: "system", Content: sys.String()}}
	for _, e := range transcript {
		switch {
		case e.tool != "":
			msgs = append(msgs, model.Message{Role: "tool", Name: e.tool, Content: e.content})
		case e.speaker == member.Name:
			msgs = append(msgs, model.Message{Role: "assistant", Content: e.content})
		case e.speaker == TaskSource:
			msgs = append(msgs, model.Message{Role: "user", Content: e.content})
		default:
			msgs = append(msgs, model.Message{Role: "user", Name: e.speaker, Content: e.speaker + ": " + e.content})
		}
	}
	return msgs
}
