package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultCommandTimeout = 2 * time.Minute

// Runner executes a shell command line and returns its stdout and stderr.
type Runner func(ctx context.Context, command string) (stdout, stderr string, err error)

// ExecRunner runs command with sh -c.
func ExecRunner(ctx context.Context, command string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func commandFailure(stderr string, err error) string {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return "Error executing command: " + detail
}

// Shell runs arbitrary commands on the service host.
type Shell struct {
	Run     Runner
	Timeout time.Duration
}

func NewShell(timeout time.Duration) *Shell {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Shell{Run: ExecRunner, Timeout: timeout}
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Description() string {
	return `Runs a command in a Linux shell, e.g. "kubectl get pods -A" or "az account show". Args: {"command": string}`
}

func (s *Shell) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := required(map[string]string{"command": args.Command}); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	stdout, stderr, err := s.Run(ctx, args.Command)
	if err != nil {
		return commandFailure(stderr, err), nil
	}
	return strings.TrimSpace(stdout), nil
}

// AKSCommand runs kubectl against a configured AKS cluster after fetching
// its credentials with the az CLI.
type AKSCommand struct {
	ResourceGroup string
	ClusterName   string
	Run           Runner
	Timeout       time.Duration
}

func NewAKSCommand(resourceGroup, clusterName string, timeout time.Duration) *AKSCommand {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &AKSCommand{ResourceGroup: resourceGroup, ClusterName: clusterName, Run: ExecRunner, Timeout: timeout}
}

func (a *AKSCommand) Name() string { return "aks_command" }

func (a *AKSCommand) Description() string {
	return fmt.Sprintf(`Runs kubectl inside AKS cluster %s (resource group %s). Args: {"command": string} such as "get pods -n default"`, a.ClusterName, a.ResourceGroup)
}

func (a *AKSCommand) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := required(map[string]string{"command": args.Command}); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	login := fmt.Sprintf("az aks get-credentials --resource-group %s --name %s --overwrite-existing", a.ResourceGroup, a.ClusterName)
	if _, stderr, err := a.Run(ctx, login); err != nil {
		return commandFailure(stderr, err), nil
	}

	stdout, stderr, err := a.Run(ctx, "kubectl "+args.Command)
	if err != nil {
		return commandFailure(stderr, err), nil
	}
	return strings.TrimSpace(stdout), nil
}
