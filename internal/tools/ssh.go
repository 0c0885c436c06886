package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

// SSHKubectl runs kubectl on a jump host that holds the cluster contexts.
type SSHKubectl struct {
	User           string
	KeyPath        string
	KnownHostsPath string
	Port           int
	KubectlPath    string
	Timeout        time.Duration

	// Signer overrides KeyPath when set.
	Signer ssh.Signer
	// HostKeyCallback overrides KnownHostsPath when set.
	HostKeyCallback ssh.HostKeyCallback
}

func (k *SSHKubectl) Name() string { return "kubectl" }

func (k *SSHKubectl) Description() string {
	return `Runs a kubectl command over SSH on a host with cluster access. Args: {"command": string, "namespace": string, "context": string, "host": string}`
}

func (k *SSHKubectl) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Command   string `json:"command"`
		Namespace string `json:"namespace"`
		Context   string `json:"context"`
		Host      string `json:"host"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := required(map[string]string{
		"command":   args.Command,
		"namespace": args.Namespace,
		"context":   args.Context,
		"host":      args.Host,
	}); err != nil {
		return "", err
	}

	kubectl := k.KubectlPath
	if kubectl == "" {
		kubectl = "kubectl"
	}
	cmd := fmt.Sprintf("%s --context %s --namespace %s %s", kubectl, args.Context, args.Namespace, args.Command)

	out, err := k.exec(ctx, args.Host, cmd)
	if err != nil {
		return fmt.Sprintf("SSH execution failed: %v", err), nil
	}
	return out, nil
}

func (k *SSHKubectl) clientConfig() (*ssh.ClientConfig, error) {
	if k.User == "" {
		return nil, fmt.Errorf("SSH configuration is incomplete: user is not set")
	}

	signer := k.Signer
	if signer == nil {
		if k.KeyPath == "" {
			return nil, fmt.Errorf("SSH configuration is incomplete: key path is not set")
		}
		pem, err := os.ReadFile(k.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err = ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
	}

	hostKey := k.HostKeyCallback
	if hostKey == nil {
		if k.KnownHostsPath != "" {
			cb, err := knownhosts.New(k.KnownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load known hosts: %w", err)
			}
			hostKey = cb
		} else {
			logging.Named("tools").Warn("SSH host keys are not verified; set tools.ssh.known_hosts")
			hostKey = ssh.InsecureIgnoreHostKey()
		}
	}

	timeout := k.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            k.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func (k *SSHKubectl) exec(ctx context.Context, host, cmd string) (string, error) {
	cfg, err := k.clientConfig()
	if err != nil {
		return "", err
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		port := k.Port
		if port == 0 {
			port = 22
		}
		addr = net.JoinHostPort(host, fmt.Sprint(port))
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	// Tear the connection down if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(cmd)
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", fmt.Errorf("command failed: %s", msg)
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", runErr
	}
	return stdout.String(), nil
}
