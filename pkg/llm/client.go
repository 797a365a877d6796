// Package llm is the client for the language-model collaborator used by
// intent classification and narrative analysis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Timeouts per call site. Narrative analysis runs a much larger prompt.
const (
	IntentTimeout    = 60 * time.Second
	NarrativeTimeout = 120 * time.Second
)

// QueryRequest is the collaborator's request envelope.
type QueryRequest struct {
	Query          string         `json:"query"`
	ConversationID string         `json:"conversation_id"`
	Context        map[string]any `json:"context,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// QueryResponse is the collaborator's response envelope. Response is free
// text that may or may not contain JSON.
type QueryResponse struct {
	Response string `json:"response"`
	Metadata struct {
		Model        string  `json:"model"`
		ResponseTime float64 `json:"response_time"`
	} `json:"metadata"`
}

// Client talks to the collaborator's query endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a collaborator client. The per-request timeout comes from
// the caller's context, not the transport.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Query sends one request and returns the raw text response.
func (c *Client) Query(ctx context.Context, req *QueryRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}

	var out QueryResponse
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/echo/query", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("collaborator returned status %d", resp.StatusCode)
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			// Tolerate bare-text responses.
			out.Response = string(raw)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("collaborator query failed: %w", err)
	}

	c.logger.Debug("Collaborator query completed",
		"model", out.Metadata.Model,
		"response_time", out.Metadata.ResponseTime)
	return out.Response, nil
}

// QueryJSON sends one request and decodes the response into dst. The
// collaborator often wraps JSON in prose or code fences; ExtractJSON digs it
// out before decoding.
func (c *Client) QueryJSON(ctx context.Context, req *QueryRequest, dst any) error {
	text, err := c.Query(ctx, req)
	if err != nil {
		return err
	}
	fragment := ExtractJSON(text)
	if fragment == "" {
		return fmt.Errorf("collaborator response contains no JSON")
	}
	if err := json.Unmarshal([]byte(fragment), dst); err != nil {
		return fmt.Errorf("failed to parse collaborator JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the first JSON object or array embedded in text, or ""
// when none is found. Code fences are stripped first.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = strings.TrimSpace(rest[:end])
		} else {
			text = strings.TrimSpace(rest)
		}
	}
	for _, pair := range [2][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		if start < 0 {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if escaped {
				escaped = false
				continue
			}
			switch {
			case ch == '\\' && inString:
				escaped = true
			case ch == '"':
				inString = !inString
			case inString:
			case ch == pair[0]:
				depth++
			case ch == pair[1]:
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
