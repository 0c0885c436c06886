package tools

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// startSSHServer serves exec requests with handle until the test ends.
func startSSHServer(t *testing.T, authorized ssh.PublicKey, handle func(cmd string) (stdout, stderr string)) (string, ssh.PublicKey) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("Failed to create host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg, handle)
		}
	}()
	return ln.Addr().String(), hostSigner.PublicKey()
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, handle func(string) (string, string)) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "sessions only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				stdout, stderr := handle(payload.Command)
				_, _ = io.WriteString(ch, stdout)
				_, _ = io.WriteString(ch.Stderr(), stderr)
				status := uint32(0)
				if stderr != "" {
					status = 1
				}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestSSHKubectl(t *testing.T) {
	_, clientPriv, _ := ed25519.GenerateKey(rand.Reader)
	signer, err := ssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Fatalf("Failed to create client signer: %v", err)
	}

	cmds := make(chan string, 4)
	addr, hostKey := startSSHServer(t, signer.PublicKey(), func(cmd string) (string, string) {
		cmds <- cmd
		if strings.Contains(cmd, "describe") {
			return "", "Error from server (NotFound): pods \"ghost\" not found"
		}
		return "payments-5d8 0/1 CrashLoopBackOff\n", ""
	})

	k := &SSHKubectl{
		User:            "triage",
		Signer:          signer,
		HostKeyCallback: ssh.FixedHostKey(hostKey),
	}

	args, _ := json.Marshal(map[string]string{
		"command":   "get pods",
		"namespace": "payments",
		"context":   "aks-prod",
		"host":      addr,
	})
	got, err := k.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "payments-5d8 0/1 CrashLoopBackOff\n" {
		t.Errorf("Expected pod listing, got %q", got)
	}
	if gotCmd := <-cmds; gotCmd != "kubectl --context aks-prod --namespace payments get pods" {
		t.Errorf("Expected kubectl invocation, got %q", gotCmd)
	}

	args, _ = json.Marshal(map[string]string{
		"command":   "describe pod ghost",
		"namespace": "payments",
		"context":   "aks-prod",
		"host":      addr,
	})
	got, _ = k.Call(context.Background(), args)
	if !strings.HasPrefix(got, "SSH execution failed: command failed: Error from server (NotFound)") {
		t.Errorf("Expected stderr to surface as failure, got %q", got)
	}
}

func TestSSHKubectl_Validation(t *testing.T) {
	k := &SSHKubectl{User: "triage"}

	_, err := k.Call(context.Background(), json.RawMessage(`{"command":"get pods"}`))
	if !errors.Is(err, ErrBadArgs) {
		t.Errorf("Expected ErrBadArgs for missing fields, got %v", err)
	}

	got, err := k.Call(context.Background(), json.RawMessage(`{"command":"get pods","namespace":"a","context":"b","host":"127.0.0.1"}`))
	if err != nil {
		t.Fatalf("Expected failure text, got error %v", err)
	}
	if !strings.Contains(got, "key path is not set") {
		t.Errorf("Expected incomplete configuration message, got %q", got)
	}
}
