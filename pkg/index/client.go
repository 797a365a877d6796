// Package index is the client for the reference index: semantic search over
// catalog-derived text that returns only (table, id) references. The catalog
// store remains authoritative for all payload data.
package index

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CollectionName is the single collection holding all catalog references.
const CollectionName = "story_bible"

// VectorDim is the embedding dimensionality of the collection.
const VectorDim = 768

// Payload is the full reference payload. Nothing else is ever stored: the
// index returns pointers into the catalog, never data.
type Payload struct {
	Type        string `json:"type"`
	SourceTable string `json:"source_table"`
	SourceID    string `json:"source_id"`
	SearchText  string `json:"search_text"`
	IndexedAt   string `json:"indexed_at"`
	DisplayName string `json:"display_name,omitempty"`
}

// Point is one upserted index entry.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Reference is one search hit.
type Reference struct {
	SourceTable string  `json:"source_table"`
	SourceID    string  `json:"source_id"`
	Type        string  `json:"type"`
	DisplayName string  `json:"display_name,omitempty"`
	Score       float64 `json:"score"`
}

// Embedder turns search text into a fixed-dimension vector.
type Embedder interface {
	Embed(text string) []float32
}

// Client talks to the vector index over its REST surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	embedder   Embedder
	logger     *slog.Logger
}

// NewClient creates an index client.
func NewClient(baseURL string, embedder Embedder, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		embedder:   embedder,
		logger:     logger,
	}
}

// PointID derives the stable index id for a catalog row. Rebuilds with the
// same catalog contents always produce the same ids.
func PointID(table, rowID string) string {
	sum := md5.Sum([]byte(table + ":" + rowID))
	return fmt.Sprintf("%x", sum)[:12]
}

// CreateCollection provisions the collection with cosine distance.
func (c *Client) CreateCollection(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+CollectionName, body, nil)
}

// DropCollection removes the collection entirely.
func (c *Client) DropCollection(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+CollectionName, nil, nil)
}

// Upsert writes a batch of points.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut,
		"/collections/"+CollectionName+"/points?wait=true", body, nil)
}

// Search embeds the query text and returns reference hits, optionally
// filtered by payload type.
func (c *Client) Search(ctx context.Context, queryText string, limit int, typeFilter string) ([]Reference, error) {
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"vector":       c.embedder.Embed(queryText),
		"limit":        limit,
		"with_payload": true,
	}
	if typeFilter != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "type", "match": map[string]any{"value": typeFilter}},
			},
		}
	}

	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	err := c.do(ctx, http.MethodPost,
		"/collections/"+CollectionName+"/points/search", body, &resp)
	if err != nil {
		return nil, err
	}

	refs := make([]Reference, 0, len(resp.Result))
	for _, hit := range resp.Result {
		refs = append(refs, Reference{
			SourceTable: hit.Payload.SourceTable,
			SourceID:    hit.Payload.SourceID,
			Type:        hit.Payload.Type,
			DisplayName: hit.Payload.DisplayName,
			Score:       hit.Score,
		})
	}
	return refs, nil
}

// Healthy reports whether the index answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/collections", nil, nil) == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode index request: %w", err)
		}
	}

	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("index returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("index returned status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(raw))))
		}
		if dst != nil {
			if err := json.Unmarshal(raw, dst); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to parse index response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(op, policy)
}
