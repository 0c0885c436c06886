package main

import (
	"bytes"
	"context"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EasterCompany/dex-triage-service/config"
	"github.com/EasterCompany/dex-triage-service/internal/store"
)

func TestBuildTools(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.ToolsConfig)
		expected []string
	}{
		{
			name:     "defaults",
			mutate:   func(*config.ToolsConfig) {},
			expected: []string{"shell"},
		},
		{
			name:     "shell disabled",
			mutate:   func(c *config.ToolsConfig) { c.Shell.Enabled = false },
			expected: []string{},
		},
		{
			name: "everything configured",
			mutate: func(c *config.ToolsConfig) {
				c.AKS.ResourceGroup = "rg"
				c.AKS.ClusterName = "aks"
				c.SSH.User = "ops"
				c.SSH.KeyPath = "/tmp/id"
				c.Azure.ClientID = "client"
				c.Dynatrace.URL = "https://dt.example.com"
			},
			expected: []string{"aks_command", "get_dynatrace_logs", "kubectl", "query_azure_monitor", "shell"},
		},
		{
			name: "half configured AKS is skipped",
			mutate: func(c *config.ToolsConfig) {
				c.Shell.Enabled = false
				c.AKS.ResourceGroup = "rg"
			},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Tools
			tt.mutate(&cfg)
			got := buildTools(cfg).Names()
			if !slices.Equal(got, tt.expected) {
				t.Errorf("Expected tools %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCaptureStreams(t *testing.T) {
	streams, err := captureStreams([]string{"stdout", "stderr"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(streams) != 2 || streams[0].Tag() != "STDOUT" || streams[1].Tag() != "STDERR" {
		t.Errorf("Expected STDOUT and STDERR streams, got %v", streams)
	}

	if _, err := captureStreams([]string{"stdin"}); err == nil {
		t.Error("Expected error for unknown stream")
	}
}

func TestRecorder_NilStore(t *testing.T) {
	if r := recorder(nil); r != nil {
		t.Errorf("Expected nil recorder, got %#v", r)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("disk\n  full   on node-1", 60); got != "disk full on node-1" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}
	if got := preview(strings.Repeat("a", 70), 60); got != strings.Repeat("a", 60)+"..." {
		t.Errorf("Expected truncated preview, got %q", got)
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	addr := os.Getenv("TRIAGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRIAGE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 14})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return store.New(client, time.Hour)
}

func TestDeleteTasks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	keep := store.NewTask(store.SourceAlert, "keep me")
	keep.ID = "keep-1"
	drop := store.NewTask(store.SourceAlert, "drop me")
	drop.ID = "drop-1"
	for _, task := range []store.Task{keep, drop} {
		if err := s.Save(ctx, task); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	var out bytes.Buffer
	if err := deleteTasks(ctx, s, []string{"drop-*"}, strings.NewReader("no\n"), &out, false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "Deletion cancelled") {
		t.Errorf("Expected cancellation, got %q", out.String())
	}

	out.Reset()
	if err := deleteTasks(ctx, s, []string{"drop-*"}, strings.NewReader("yes\n"), &out, false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "Deleted 1 out of 1 tasks") {
		t.Errorf("Expected one deletion, got %q", out.String())
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if !slices.Equal(ids, []string{"keep-1"}) {
		t.Errorf("Expected [keep-1], got %v", ids)
	}

	out.Reset()
	if err := listTasks(ctx, s, &out); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "keep-1") || !strings.Contains(out.String(), "keep me") {
		t.Errorf("Expected listing to show keep-1, got %q", out.String())
	}
}
