// Package anthropic implements provider.Classifier on the Anthropic
// Messages API. Anthropic exposes no embeddings endpoint, so deployments
// pair this with an embedder from another package.
package anthropic

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/evermind-ai/recall/provider"
)

const (
	// DefaultModel is a cheap/fast tier suited to classification, not
	// primary conversation generation.
	DefaultModel = "claude-3-5-haiku-latest"

	defaultMaxTokens   = 1024
	defaultTemperature = 0.2

	providerName = "anthropic"
)

// Classifier sends classification prompts to Claude.
type Classifier struct {
	client       *anthropic.Client
	model        string
	maxTokens    int64
	capabilities *provider.CapabilityCache
}

// Option configures the classifier.
type Option func(*Classifier)

// WithModel overrides the default classification model.
func WithModel(model string) Option {
	return func(c *Classifier) {
		c.model = model
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(c *Classifier) {
		c.maxTokens = n
	}
}

// WithCapabilityCache shares a capability memo across providers.
func WithCapabilityCache(cc *provider.CapabilityCache) Option {
	return func(c *Classifier) {
		c.capabilities = cc
	}
}

// New creates a classifier around an existing Anthropic client.
func New(client *anthropic.Client, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		client:    client,
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
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

// Classify sends one classification call and returns the raw text.
func (c *Classifier) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	withTemperature := true
	if caps, ok := c.capabilities.Lookup(providerName, c.model); ok && caps.RejectsTemperature {
		withTemperature = false
	}

	resp, err := c.send(ctx, systemPrompt, text, withTemperature)
	if err != nil && withTemperature && provider.IsTemperatureRejection(err) {
		// Remember the rejection and retry once without the parameter.
		log.Printf("[PROVIDER] %s/%s rejects temperature, retrying without", providerName, c.model)
		c.capabilities.MarkRejectsTemperature(providerName, c.model)
		resp, err = c.send(ctx, systemPrompt, text, false)
	}
	if err != nil {
		return "", fmt.Errorf("anthropic classify: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

func (c *Classifier) send(ctx context.Context, systemPrompt, text string, withTemperature bool) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if withTemperature {
		params.Temperature = anthropic.Float(defaultTemperature)
	}
	return c.client.Messages.New(ctx, params)
}
