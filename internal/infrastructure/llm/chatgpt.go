package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"BdLens/internal/config"
	"BdLens/internal/domain"
)

const (
	longInputRunes  = 4000
	shortInputRunes = 3000
)

// Categories is the closed topic vocabulary offered to the model.
var Categories = []string{
	"housing", "transportation", "education", "health", "environment", "safety",
	"budget", "planning", "zoning", "infrastructure", "utilities", "parks",
	"community", "business", "legal", "employment", "taxes", "elections", "public-services",
}

// ChatGPTClient produces document enrichment through an OpenAI-compatible
// chat completions API.
type ChatGPTClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.LLMConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatGPTClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Summarize asks for a 2-3 sentence citizen-facing summary.
func (c *ChatGPTClient) Summarize(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following government document in 2-3 clear sentences that a regular citizen can understand. " +
		"Focus on what the document is about and why it matters to the community.\n\nDocument:\n" +
		truncate(text, longInputRunes) + "\n\nSummary:"
	return c.complete(ctx, prompt)
}

// Explain asks for a longer plain-language explanation.
func (c *ChatGPTClient) Explain(ctx context.Context, text string) (string, error) {
	prompt := "Provide a detailed but accessible explanation of this government document. Break down the key points, " +
		"explain any technical or legal terms, and describe the practical implications for citizens. " +
		"Write in plain language that anyone can understand.\n\nDocument:\n" +
		truncate(text, longInputRunes) + "\n\nExplanation:"
	return c.complete(ctx, prompt)
}

// ClassifyTags returns 1-5 category names chosen by the model.
func (c *ChatGPTClient) ClassifyTags(ctx context.Context, text string) ([]string, error) {
	prompt := "Analyze this government document and identify the most relevant topic categories. " +
		"Choose from the following categories (select 1-5 that apply):\n\nCategories: " +
		strings.Join(Categories, ", ") +
		"\n\nReturn ONLY a JSON array of applicable categories, nothing else.\n\nDocument:\n" +
		truncate(text, shortInputRunes) + "\n\nTags (JSON array):"

	answer, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var raw []string
	if err := json.Unmarshal([]byte(extractJSON(answer)), &raw); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

// ExtractEntities returns named entities typed as organization, location,
// person, event or law.
func (c *ChatGPTClient) ExtractEntities(ctx context.Context, text string) ([]domain.EntityMention, error) {
	prompt := "Extract important named entities from this government document. " +
		"Identify organizations, locations, people, and other key entities.\n\n" +
		`Return ONLY a JSON array of objects with "name" and "type" fields, where type is one of: ` +
		"organization, location, person, event, law\n\nDocument:\n" +
		truncate(text, shortInputRunes) + "\n\nEntities (JSON array):"

	answer, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var entities []domain.EntityMention
	if err := json.Unmarshal([]byte(extractJSON(answer)), &entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return entities, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatGPTClient) complete(ctx context.Context, prompt string) (string, error) {
	if c == nil {
		return "", errors.New("chat client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", errors.New("chat client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

// extractJSON strips a ```json or ``` fence around the answer, if any.
func extractJSON(answer string) string {
	answer = strings.TrimSpace(answer)
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(answer, fence)
		if start < 0 {
			continue
		}
		rest := answer[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return answer
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a helpful assistant that explains government documents."
	}
	return prompt
}
