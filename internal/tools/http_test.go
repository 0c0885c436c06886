package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAzureMonitor(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("Expected client_credentials grant, got %q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotBody map[string]string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path == "/v1/subscriptions/s1/resourceGroups/rg/providers/x/denied/query" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"InsufficientAccess","message":"no read permission"}}`))
			return
		}
		if r.URL.Path != "/v1/subscriptions/s1/resourceGroups/rg/providers/x/aks/query" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"tables":[{"name":"PrimaryResult",
			"columns":[{"name":"Reason","type":"string"},{"name":"Count","type":"long"}],
			"rows":[["OOMKilled",4],["BackOff",2]]}]}`))
	}))
	defer apiSrv.Close()

	am := NewAzureMonitor(apiSrv.URL, AzureCredentials{
		TenantID: "t", ClientID: "c", ClientSecret: "s", TokenURL: tokenSrv.URL,
	}, 0)

	args := `{"resource_id":"/subscriptions/s1/resourceGroups/rg/providers/x/aks","query":"KubeEvents | summarize count() by Reason","timespan":"1h30m"}`
	got, err := am.Call(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var res struct {
		Status string                   `json:"status"`
		Logs   []map[string]interface{} `json:"logs"`
	}
	if err := json.Unmarshal([]byte(got), &res); err != nil {
		t.Fatalf("Expected JSON result, got %q", got)
	}
	if res.Status != "success" || len(res.Logs) != 2 || res.Logs[0]["Reason"] != "OOMKilled" {
		t.Errorf("Expected two rows, got %+v", res)
	}
	if gotBody["timespan"] != "PT1H30M" {
		t.Errorf("Expected timespan PT1H30M, got %q", gotBody["timespan"])
	}

	got, _ = am.Call(context.Background(), json.RawMessage(`{"resource_id":"/subscriptions/s1/resourceGroups/rg/providers/x/denied","query":"x"}`))
	if !strings.Contains(got, `"status":"error"`) || !strings.Contains(got, "no read permission") {
		t.Errorf("Expected error result, got %q", got)
	}
}

func TestIsoTimespan(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"PT1H":  "PT1H",
		"p1d":   "p1d",
		"30m":   "PT30M",
		"90s":   "PT1M30S",
		"2h":    "PT2H",
		"later": "later",
	}
	for in, want := range tests {
		if got := isoTimespan(in); got != want {
			t.Errorf("Expected isoTimespan(%q) = %q, got %q", in, want, got)
		}
	}
}

func TestDynatrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Api-Token dt0c01.abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		if r.URL.Path != "/api/v2/logs/search" || r.URL.Query().Get("from") != "now-1h" {
			t.Errorf("Unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"results":[{"content":"OutOfMemoryError"}]}`))
	}))
	defer srv.Close()

	dt := NewDynatrace(srv.URL, "dt0c01.abc", 0)
	got, err := dt.Call(context.Background(), json.RawMessage(`{"path":"/api/v2/logs/search","query":"?from=now-1h"}`))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !strings.Contains(got, "OutOfMemoryError") {
		t.Errorf("Expected log body, got %q", got)
	}

	bad := NewDynatrace(srv.URL, "wrong", 0)
	got, _ = bad.Call(context.Background(), json.RawMessage(`{"path":"api/v2/logs/search"}`))
	if !strings.HasPrefix(got, "Request failed: status 401") {
		t.Errorf("Expected failure text, got %q", got)
	}
}
