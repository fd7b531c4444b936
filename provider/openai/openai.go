// Package openai implements both provider contracts on the OpenAI API:
// chat completions for classification and the embeddings endpoint for
// vectors.
package openai

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evermind-ai/recall/provider"
)

const (
	// DefaultChatModel is the cheap classification tier.
	DefaultChatModel = "gpt-4o-mini"

	defaultTemperature = 0.2

	// embeddingDimensions matches text-embedding-3-small.
	embeddingDimensions = 1536

	providerName = "openai"
)

// Client implements provider.Classifier and provider.Embedder.
type Client struct {
	api            *openai.Client
	chatModel      string
	embeddingModel openai.EmbeddingModel
	capabilities   *provider.CapabilityCache
}

// Option configures the client.
type Option func(*Client)

// WithChatModel overrides the classification model.
func WithChatModel(model string) Option {
	return func(c *Client) {
		c.chatModel = model
	}
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model openai.EmbeddingModel) Option {
	return func(c *Client) {
		c.embeddingModel = model
	}
}

// WithCapabilityCache shares a capability memo across providers.
func WithCapabilityCache(cc *provider.CapabilityCache) Option {
	return func(c *Client) {
		c.capabilities = cc
	}
}

// New creates a client from an API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		api:            openai.NewClient(apiKey),
		chatModel:      DefaultChatModel,
		embeddingModel: openai.SmallEmbedding3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.capabilities == nil {
		cc, err := provider.NewCapabilityCache()
		if err != nil {
			return nil, err
		}
		c.capabilities = cc
	}
	return c, nil
}

// Classify sends one chat completion and returns the raw response text.
func (c *Client) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	withTemperature := true
	if caps, ok := c.capabilities.Lookup(providerName, c.chatModel); ok && caps.RejectsTemperature {
		withTemperature = false
	}

	resp, err := c.send(ctx, systemPrompt, text, withTemperature)
	if err != nil && withTemperature && provider.IsTemperatureRejection(err) {
		log.Printf("[PROVIDER] %s/%s rejects temperature, retrying without", providerName, c.chatModel)
		c.capabilities.MarkRejectsTemperature(providerName, c.chatModel)
		resp, err = c.send(ctx, systemPrompt, text, false)
	}
	if err != nil {
		return "", fmt.Errorf("openai classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai classify: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) send(ctx context.Context, systemPrompt, text string, withTemperature bool) (openai.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	}
	if withTemperature {
		req.Temperature = defaultTemperature
	}
	return c.api.CreateChatCompletion(ctx, req)
}

// Embed converts a single text to an embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the embedding vector size.
func (c *Client) Dimensions() int {
	return embeddingDimensions
}
