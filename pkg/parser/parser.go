package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/metrics"
	"github.com/graphmill/graphmill/pkg/ratelimit"
	"github.com/graphmill/graphmill/pkg/retry"
)

// DefaultSystemPrompt is used when the caller supplies none
const DefaultSystemPrompt = `# DIRECTIVES :
- Act like an experienced information extractor.
- If you do not find the right information, keep its place empty.`

// Options bound batch sizes and pending work for structured extraction
type Options struct {
	MaxElementsPerBatch int
	MaxTokensPerBatch   int
	MaxPendingRequests  int
	SleepBetweenBatches time.Duration
}

// Throttled wraps the chat and embedding clients with rate limiters,
// retries, and concurrency caps. All provider traffic goes through here.
type Throttled struct {
	chat       llm.ChatClient
	embeddings llm.EmbeddingsClient
	tokens     *llm.TokenCounter

	llmLimiter *ratelimit.Limiter
	embLimiter *ratelimit.Limiter
	llmRetry   retry.Policy
	embRetry   retry.Policy

	llmSem *semaphore.Weighted // nil when uncapped
	embSem *semaphore.Weighted // nil when uncapped

	opts Options
}

// New creates a throttled parser. Zero concurrency caps disable the
// corresponding semaphore.
func New(
	chat llm.ChatClient,
	embeddings llm.EmbeddingsClient,
	tokens *llm.TokenCounter,
	llmLimiter, embLimiter *ratelimit.Limiter,
	llmRetry, embRetry retry.Policy,
	llmMaxConcurrency, embMaxInFlight int,
	opts Options,
) *Throttled {
	t := &Throttled{
		chat:       chat,
		embeddings: embeddings,
		tokens:     tokens,
		llmLimiter: llmLimiter,
		embLimiter: embLimiter,
		llmRetry:   llmRetry,
		embRetry:   embRetry,
		opts:       opts,
	}
	if llmMaxConcurrency > 0 {
		t.llmSem = semaphore.NewWeighted(int64(llmMaxConcurrency))
	}
	if embMaxInFlight > 0 {
		t.embSem = semaphore.NewWeighted(int64(embMaxInFlight))
	}
	return t
}

// Embed embeds a batch of texts under the embedding limiter and retry policy
func (t *Throttled) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := t.acquire(ctx, t.embLimiter, "embeddings", 1, t.tokens.CountAll(texts)); err != nil {
		return nil, err
	}
	out, err := retry.DoValue(ctx, t.embRetry, func(ctx context.Context) ([][]float32, error) {
		if t.embSem != nil {
			if err := t.embSem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer t.embSem.Release(1)
		}
		return t.embeddings.EmbedDocuments(ctx, texts)
	})
	metrics.LLMRequestsTotal.WithLabelValues("embeddings", outcome(err)).Inc()
	return out, err
}

// EmbedQuery embeds a single text
func (t *Throttled) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := t.acquire(ctx, t.embLimiter, "embeddings", 1, t.tokens.Count(text)); err != nil {
		return nil, err
	}
	out, err := retry.DoValue(ctx, t.embRetry, func(ctx context.Context) ([]float32, error) {
		if t.embSem != nil {
			if err := t.embSem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer t.embSem.Release(1)
		}
		return t.embeddings.EmbedQuery(ctx, text)
	})
	metrics.LLMRequestsTotal.WithLabelValues("embeddings", outcome(err)).Inc()
	return out, err
}

// ExtractStructured runs one structured-output call per context, batched
// under the configured element/token limits, and returns the raw JSON
// results in input order. Fails before any call when the context count
// exceeds MaxPendingRequests.
func (t *Throttled) ExtractStructured(ctx context.Context, schema llm.Schema, contexts []string, systemPrompt string) ([]json.RawMessage, error) {
	if t.opts.MaxPendingRequests > 0 && len(contexts) > t.opts.MaxPendingRequests {
		return nil, fmt.Errorf("number of contexts (%d) exceeds the %d pending request limit", len(contexts), t.opts.MaxPendingRequests)
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	prompts := make([]string, len(contexts))
	for i, c := range contexts {
		prompts[i] = fmt.Sprintf("# Context: %s\n\n# Question: %s\n\nAnswer: ", c, systemPrompt)
	}
	batches := t.splitIntoBatches(prompts)

	results := make([]json.RawMessage, len(prompts))
	offset := 0
	for i, batch := range batches {
		if err := t.acquire(ctx, t.llmLimiter, "llm", len(batch), t.tokens.CountAll(batch)); err != nil {
			return nil, err
		}

		start := offset
		g, gctx := errgroup.WithContext(ctx)
		for j, prompt := range batch {
			prompt := prompt
			idx := start + j
			g.Go(func() error {
				out, err := retry.DoValue(gctx, t.llmRetry, func(ctx context.Context) (json.RawMessage, error) {
					if t.llmSem != nil {
						if err := t.llmSem.Acquire(ctx, 1); err != nil {
							return nil, err
						}
						defer t.llmSem.Release(1)
					}
					return t.chat.CompleteStructured(ctx, systemPrompt, prompt, schema)
				})
				metrics.LLMRequestsTotal.WithLabelValues("chat", outcome(err)).Inc()
				if err != nil {
					return err
				}
				results[idx] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		offset += len(batch)

		if i < len(batches)-1 && t.opts.SleepBetweenBatches > 0 {
			timer := time.NewTimer(t.opts.SleepBetweenBatches)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return results, nil
}

// acquire waits on the rate limiter and records the time spent waiting
func (t *Throttled) acquire(ctx context.Context, limiter *ratelimit.Limiter, bucket string, requests, tokens int) error {
	start := time.Now()
	err := limiter.Acquire(ctx, requests, tokens)
	metrics.RateLimitWaitSeconds.WithLabelValues(bucket).Observe(time.Since(start).Seconds())
	return err
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// splitIntoBatches partitions prompts under the element and token limits,
// preserving order. A single oversized prompt still forms its own batch.
func (t *Throttled) splitIntoBatches(prompts []string) [][]string {
	maxElems := t.opts.MaxElementsPerBatch
	maxTokens := t.opts.MaxTokensPerBatch
	if maxElems <= 0 && maxTokens <= 0 {
		if len(prompts) == 0 {
			return nil
		}
		return [][]string{prompts}
	}

	var batches [][]string
	var current []string
	currentTokens := 0
	for _, p := range prompts {
		pTokens := t.tokens.Count(p)
		tooManyElems := maxElems > 0 && len(current) >= maxElems
		tooManyTokens := maxTokens > 0 && len(current) > 0 && currentTokens+pTokens > maxTokens
		if tooManyElems || tooManyTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, p)
		currentTokens += pTokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
