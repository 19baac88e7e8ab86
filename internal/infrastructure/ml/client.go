package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"BdLens/internal/config"
)

// Task intents understood by the embedding endpoint.
const (
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"
)

const documentInputRunes = 1000

// Client talks to a Gemini-style embedContent endpoint.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	http       *http.Client
}

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.EmbeddingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      strings.TrimPrefix(cfg.Model, "models/"),
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
		http:       &http.Client{Timeout: timeout},
	}
}

// EmbedDocument embeds a chunk for storage; input beyond 1000 runes is cut.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	runes := []rune(text)
	if len(runes) > documentInputRunes {
		text = string(runes[:documentInputRunes])
	}
	return c.embed(ctx, text, TaskDocument)
}

// EmbedQuery embeds search text with the query intent.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, TaskQuery)
}

type embedRequest struct {
	Model                string       `json:"model"`
	Content              embedContent `json:"content"`
	TaskType             string       `json:"taskType"`
	OutputDimensionality int          `json:"outputDimensionality,omitempty"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *Client) embed(ctx context.Context, text, task string) ([]float32, error) {
	if c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("embedding client misconfigured")
	}

	payload := embedRequest{
		Model:                "models/" + c.model,
		Content:              embedContent{Parts: []embedPart{{Text: text}}},
		TaskType:             task,
		OutputDimensionality: c.dimensions,
	}

	var resp embedResponse
	if err := c.post(ctx, "/models/"+c.model+":embedContent", payload, &resp); err != nil {
		return nil, err
	}

	values := resp.Embedding.Values
	if len(values) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	if c.dimensions > 0 && len(values) != c.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(values), c.dimensions)
	}
	return values, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
