package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthd/hearth/pkg/types"
)

// ChromaIndex talks to a chroma-like ANN service over HTTP. The client is
// lazy in the sense that no connection exists until the first call; a dead
// service surfaces as ErrBackendUnavailable per call, never at boot.
type ChromaIndex struct {
	baseURL string
	client  *http.Client
}

// NewChromaIndex creates an adapter for the service at baseURL.
func NewChromaIndex(baseURL string) *ChromaIndex {
	return &ChromaIndex{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type chromaQueryRequest struct {
	Embedding []float32         `json:"embedding"`
	TopK      int               `json:"top_k"`
	Where     map[string]string `json:"where,omitempty"`
}

type chromaQueryResponse struct {
	Results []struct {
		ID       string            `json:"id"`
		Score    float64           `json:"score"`
		Document string            `json:"document,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"results"`
}

// Upsert stores or replaces a record by id.
func (c *ChromaIndex) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("vector: record id is required")
	}
	return c.post(ctx, "/upsert", map[string]any{
		"id":        rec.ID,
		"document":  rec.Text,
		"embedding": rec.Embedding,
		"metadata":  rec.Metadata,
	}, nil)
}

// Query asks the service for the topK nearest records.
func (c *ChromaIndex) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]types.SemanticHit, error) {
	if topK <= 0 {
		return []types.SemanticHit{}, nil
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	var resp chromaQueryResponse
	err := c.post(ctx, "/query", chromaQueryRequest{
		Embedding: embedding,
		TopK:      topK,
		Where:     filters,
	}, &resp)
	if err != nil {
		return nil, err
	}

	hits := make([]types.SemanticHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, types.SemanticHit{
			ID:       r.ID,
			Score:    r.Score,
			Text:     r.Document,
			Key:      r.Metadata["key"],
			Metadata: r.Metadata,
		})
	}
	return hits, nil
}

// Delete removes a record by id.
func (c *ChromaIndex) Delete(ctx context.Context, id string) error {
	return c.post(ctx, "/delete", map[string]string{"id": id}, nil)
}

// Close is a no-op; the adapter holds no persistent connection.
func (c *ChromaIndex) Close() error { return nil }

func (c *ChromaIndex) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d from %s", ErrBackendUnavailable, resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
