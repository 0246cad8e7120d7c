// Package logstore fetches raw chatbot log records from a log-analytics
// query API.
package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/secrets"
	"github.com/emergent-company/goldzone/pkg/logger"
)

var Module = fx.Module("logstore",
	fx.Provide(NewClient),
	fx.Provide(func(c *Client) transform.LogFetcher { return c }),
)

// Column names of the query result.
const (
	columnTimeGenerated = "TimeGenerated"
	columnProperties    = "Properties"
)

// Client queries one workspace. Requests are rate limited.
type Client struct {
	http    *http.Client
	cfg     config.LogStoreConfig
	secrets secrets.Store
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a log store client.
func NewClient(cfg *config.Config, store secrets.Store, log *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.LogStore.RateLimit > 0 {
		limit = rate.Limit(cfg.LogStore.RateLimit)
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.LogStore.Timeout},
		cfg:     cfg.LogStore,
		secrets: store,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With(logger.Scope("logstore")),
	}
}

type queryRequest struct {
	Query    string `json:"query"`
	Timespan string `json:"timespan"`
}

type queryResponse struct {
	Tables []struct {
		Name    string `json:"name"`
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]json.RawMessage `json:"rows"`
	} `json:"tables"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Query builds the query selecting one log category.
func Query(table, category string) string {
	return fmt.Sprintf("%s | where Message == %s | project %s, %s",
		table, quote(category), columnTimeGenerated, columnProperties)
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Fetch returns the records of category generated in [start, end]. An empty
// result is not an error.
func (c *Client) Fetch(ctx context.Context, category string, start, end time.Time) ([]transform.RawRecord, error) {
	workspace, err := c.secrets.Get(ctx, c.cfg.WorkspaceSecret)
	if err != nil {
		return nil, err
	}
	token, err := c.secrets.Get(ctx, c.cfg.TokenSecret)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(queryRequest{
		Query:    Query(c.cfg.Table, category),
		Timespan: start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/v1/workspaces/" + url.PathEscape(workspace) + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	startedAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var qr queryResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("query logs: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || qr.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if qr.Error != nil {
			msg = qr.Error.Code + ": " + qr.Error.Message
		}
		return nil, fmt.Errorf("query logs: status %d: %s", resp.StatusCode, msg)
	}

	records, err := qr.records()
	if err != nil {
		return nil, err
	}

	c.log.Info("logs fetched",
		slog.String("category", category),
		slog.Int("rows", len(records)),
		slog.Duration("duration", time.Since(startedAt)),
	)
	return records, nil
}

func (qr *queryResponse) records() ([]transform.RawRecord, error) {
	if len(qr.Tables) == 0 {
		return nil, nil
	}
	table := qr.Tables[0]
	tsIdx, propIdx := -1, -1
	for i, col := range table.Columns {
		switch col.Name {
		case columnTimeGenerated:
			tsIdx = i
		case columnProperties:
			propIdx = i
		}
	}
	if tsIdx < 0 || propIdx < 0 {
		return nil, fmt.Errorf("query result lacks %s or %s", columnTimeGenerated, columnProperties)
	}

	out := make([]transform.RawRecord, 0, len(table.Rows))
	for i, row := range table.Rows {
		if len(row) <= tsIdx || len(row) <= propIdx {
			return nil, fmt.Errorf("row %d: short row", i)
		}
		ts, err := parseTimestamp(row[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, transform.RawRecord{
			Payload:           payloadString(row[propIdx]),
			GeneratedAtMillis: ts.UnixMilli(),
		})
	}
	return out, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", columnTimeGenerated, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", columnTimeGenerated, err)
	}
	return ts, nil
}

// payloadString returns the properties blob as JSON text. The API returns
// dynamic columns either as a string or as an inline object.
func payloadString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
