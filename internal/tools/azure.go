package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultLogAnalyticsURL = "https://api.loganalytics.io"
	logAnalyticsScope      = "https://api.loganalytics.io/.default"
)

// AzureCredentials identifies the service principal used for Azure Monitor.
type AzureCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL defaults to the Azure AD v2 endpoint of TenantID.
	TokenURL string
}

// AzureMonitor runs KQL queries against the logs of an Azure resource.
type AzureMonitor struct {
	Endpoint string
	HTTP     *http.Client
}

// NewAzureMonitor builds a client that authenticates with the client
// credentials flow. Without credentials requests are sent unauthenticated,
// which only works behind an authenticating proxy.
func NewAzureMonitor(endpoint string, creds AzureCredentials, timeout time.Duration) *AzureMonitor {
	if endpoint == "" {
		endpoint = DefaultLogAnalyticsURL
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	client := &http.Client{Timeout: timeout}
	if creds.ClientID != "" && creds.ClientSecret != "" {
		tokenURL := creds.TokenURL
		if tokenURL == "" {
			tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", creds.TenantID)
		}
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{logAnalyticsScope},
		}
		client = cc.Client(context.Background())
		client.Timeout = timeout
	}
	return &AzureMonitor{Endpoint: strings.TrimRight(endpoint, "/"), HTTP: client}
}

func (a *AzureMonitor) Name() string { return "query_azure_monitor" }

func (a *AzureMonitor) Description() string {
	return `Runs a Kusto (KQL) query against the logs of an Azure resource. Args: {"resource_id": string, "query": string, "timespan": string} where timespan is an ISO 8601 duration like "PT1H" or a Go duration like "30m"`
}

type logsTable struct {
	Name    string `json:"name"`
	Columns []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"columns"`
	Rows [][]interface{} `json:"rows"`
}

type logsResponse struct {
	Tables []logsTable `json:"tables"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *AzureMonitor) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		ResourceID string `json:"resource_id"`
		Query      string `json:"query"`
		Timespan   string `json:"timespan"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := required(map[string]string{"resource_id": args.ResourceID, "query": args.Query}); err != nil {
		return "", err
	}

	logs, err := a.query(ctx, args.ResourceID, args.Query, isoTimespan(args.Timespan))
	if err != nil {
		return azureResult(map[string]interface{}{"status": "error", "message": err.Error()}), nil
	}
	return azureResult(map[string]interface{}{"status": "success", "logs": logs}), nil
}

func azureResult(v map[string]interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (a *AzureMonitor) query(ctx context.Context, resourceID, query, timespan string) ([]map[string]interface{}, error) {
	body := map[string]string{"query": query}
	if timespan != "" {
		body["timespan"] = timespan
	}
	payload, _ := json.Marshal(body)

	url := a.Endpoint + "/v1/" + strings.TrimLeft(resourceID, "/") + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var parsed logsResponse
	_ = json.Unmarshal(data, &parsed)

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("%s: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return nil, fmt.Errorf("azure monitor returned status %d", resp.StatusCode)
	}

	results := []map[string]interface{}{}
	for _, table := range parsed.Tables {
		for _, row := range table.Rows {
			entry := make(map[string]interface{}, len(table.Columns))
			for i, col := range table.Columns {
				if i < len(row) {
					entry[col.Name] = row[i]
				}
			}
			results = append(results, entry)
		}
	}
	return results, nil
}

// isoTimespan accepts ISO 8601 durations unchanged and converts Go
// durations. Anything else is passed through for the API to reject.
func isoTimespan(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(strings.ToUpper(s), "P") {
		return s
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return s
	}
	secs := int64(d / time.Second)
	if secs <= 0 {
		return s
	}
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	var sb strings.Builder
	sb.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&sb, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&sb, "%dM", m)
	}
	if sec > 0 {
		fmt.Fprintf(&sb, "%dS", sec)
	}
	return sb.String()
}
