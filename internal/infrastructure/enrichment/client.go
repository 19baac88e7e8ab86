package enrichment

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"BdLens/internal/config"
	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

// TextGenerator produces the document-level enrichment fields.
type TextGenerator interface {
	Summarize(ctx context.Context, text string) (string, error)
	Explain(ctx context.Context, text string) (string, error)
	ClassifyTags(ctx context.Context, text string) ([]string, error)
	ExtractEntities(ctx context.Context, text string) ([]domain.EntityMention, error)
}

// Embedder produces document and query vectors.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client is the process-wide EnrichmentClient. Every call, embeddings
// included, first takes a token from one shared limiter.
type Client struct {
	text    TextGenerator
	embed   Embedder
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ports.EnrichmentClient = (*Client)(nil)

// New composes the text and embedding services behind one rate limit.
func New(text TextGenerator, embed Embedder, cfg config.EnrichmentConfig, logger *slog.Logger) *Client {
	perSecond := cfg.CallsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		text:    text,
		embed:   embed,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	return call(ctx, c, "summarize", func(ctx context.Context) (string, error) {
		return c.text.Summarize(ctx, text)
	})
}

func (c *Client) Explain(ctx context.Context, text string) (string, error) {
	return call(ctx, c, "explain", func(ctx context.Context) (string, error) {
		return c.text.Explain(ctx, text)
	})
}

func (c *Client) ClassifyTags(ctx context.Context, text string) ([]string, error) {
	return call(ctx, c, "classify_tags", func(ctx context.Context) ([]string, error) {
		return c.text.ClassifyTags(ctx, text)
	})
}

func (c *Client) ExtractEntities(ctx context.Context, text string) ([]domain.EntityMention, error) {
	return call(ctx, c, "extract_entities", func(ctx context.Context) ([]domain.EntityMention, error) {
		return c.text.ExtractEntities(ctx, text)
	})
}

func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, c, "embed_document", func(ctx context.Context) ([]float32, error) {
		return checkDimension(c.embed.EmbedDocument(ctx, text))
	})
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, c, "embed_query", func(ctx context.Context) ([]float32, error) {
		return checkDimension(c.embed.EmbedQuery(ctx, text))
	})
}

func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, &domain.ProviderError{Op: op, Err: err}
	}
	out, err := fn(ctx)
	if err != nil {
		c.logger.Debug("provider call failed", "op", op, "error", err)
		return zero, &domain.ProviderError{Op: op, Err: err}
	}
	return out, nil
}

func checkDimension(vec []float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vec) != domain.EmbeddingDimension {
		return nil, fmt.Errorf("embedding has %d components, want %d", len(vec), domain.EmbeddingDimension)
	}
	return vec, nil
}
