package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// DefaultPrompts returns the built-in team definition.
func DefaultPrompts() (Prompts, error) {
	return parsePrompts(defaultPrompts)
}

// LoadPrompts reads a prompts file and overlays it on the defaults: a
// non-empty protocol replaces the default one and specialists replace the
// built-in specialist of the same name or are appended.
func LoadPrompts(path string) (Prompts, error) {
	p, err := DefaultPrompts()
	if err != nil {
		return Prompts{}, err
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to read prompts: %w", err)
	}
	override, err := parsePrompts(data)
	if err != nil {
		return Prompts{}, fmt.Errorf("%s: %w", path, err)
	}

	if strings.TrimSpace(override.Protocol) != "" {
		p.Protocol = override.Protocol
	}
	for _, s := range override.Specialists {
		replaced := false
		for i := range p.Specialists {
			if p.Specialists[i].Name == s.Name {
				p.Specialists[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			p.Specialists = append(p.Specialists, s)
		}
	}
	return p, nil
}

func parsePrompts(data []byte) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("failed to parse prompts: %w", err)
	}
	for i, s := range p.Specialists {
		if strings.TrimSpace(s.Name) == "" {
			return Prompts{}, fmt.Errorf("specialist %d has no name", i)
		}
	}
	return p, nil
}

// Select returns the named specialists in the given order, or all of them
// when names is empty.
func (p Prompts) Select(names []string) ([]Specialist, error) {
	if len(names) == 0 {
		return p.Specialists, nil
	}
	out := make([]Specialist, 0, len(names))
	for _, name := range names {
		found := false
		for _, s := range p.Specialists {
			if s.Name == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown specialist %q", name)
		}
	}
	return out, nil
}
