package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/graphmill/graphmill/pkg/config"
)

// Schema names a JSON schema for structured chat output
type Schema struct {
	Name       string
	Definition json.RawMessage
}

// ChatClient produces structured JSON output for a single prompt
type ChatClient interface {
	CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema) (json.RawMessage, error)
}

// EmbeddingsClient turns text into embedding vectors
type EmbeddingsClient interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// OpenAIChat is a ChatClient backed by an OpenAI-compatible endpoint
type OpenAIChat struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIChat creates a chat client from config
func NewOpenAIChat(cfg config.LLM) *OpenAIChat {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBaseURL != "" {
		oc.BaseURL = cfg.APIBaseURL
	}
	return &OpenAIChat{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// CompleteStructured requests a chat completion constrained to the schema
// and returns the raw JSON content.
func (c *OpenAIChat) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema) (json.RawMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name,
				Schema: schema.Definition,
				Strict: true,
			},
		},
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

// OpenAIEmbeddings is an EmbeddingsClient backed by an OpenAI-compatible endpoint
type OpenAIEmbeddings struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbeddings creates an embeddings client from config
func NewOpenAIEmbeddings(cfg config.Embeddings) *OpenAIEmbeddings {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBaseURL != "" {
		oc.BaseURL = cfg.APIBaseURL
	}
	return &OpenAIEmbeddings{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}
}

// EmbedDocuments embeds a batch of texts, preserving input order
func (c *OpenAIEmbeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response size mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response index out of range: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbedQuery embeds a single text
func (c *OpenAIEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
