package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxDynatraceBody = 64 * 1024

// Dynatrace fetches logs from the Dynatrace environment API.
type Dynatrace struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewDynatrace(baseURL, token string, timeout time.Duration) *Dynatrace {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Dynatrace{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (d *Dynatrace) Name() string { return "get_dynatrace_logs" }

func (d *Dynatrace) Description() string {
	return `Fetches logs from Dynatrace. Args: {"path": string, "query": string} e.g. {"path": "api/v2/logs/search", "query": "query=status%3D%22ERROR%22&from=now-1h"}`
}

func (d *Dynatrace) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path  string `json:"path"`
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := required(map[string]string{"path": args.Path}); err != nil {
		return "", err
	}
	if d.BaseURL == "" {
		return "Request failed: Dynatrace endpoint is not configured", nil
	}

	url := d.BaseURL + "/" + strings.TrimLeft(args.Path, "/")
	if q := strings.TrimLeft(args.Query, "?"); q != "" {
		url += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	req.Header.Set("Accept", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Api-Token "+d.Token)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return fmt.Sprintf("Request failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDynatraceBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("Request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil
	}
	return string(body), nil
}
