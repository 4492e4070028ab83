// Package advisory adapts hosted language models to the plain text
// completion the proposal synthesizer needs.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Completer turns a prompt into a response text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ErrEmptyResponse means the model answered without any text.
var ErrEmptyResponse = errors.New("advisory model returned no text")

const systemPrompt = "You are a careful engineer tuning a chess move selector that imitates human players. " +
	"Answer with the requested fenced block and nothing the block does not need."

// Options selects and configures the provider.
type Options struct {
	// Provider is "openai", "gemini" or "none".
	Provider string
	Model    string
	APIKey   string
	// BaseURL points the OpenAI client at a compatible endpoint.
	BaseURL string
	// Timeout bounds one completion. Zero leaves it to the caller's context.
	Timeout time.Duration
}

// New returns the configured completer, or nil when the provider is disabled
// or has no API key. A nil completer makes the synthesizer use its fallback.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" || provider == "none" {
		return nil, nil
	}
	if opts.APIKey == "" {
		logger.Warn("No API key for the advisory model, proposals will use the statistical fallback",
			zap.String("provider", provider))
		return nil, nil
	}

	var c Completer
	switch provider {
	case "openai":
		c = NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL)
	case "gemini":
		g, err := NewGemini(ctx, opts.APIKey, opts.Model)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		return nil, fmt.Errorf("unknown advisory provider %q", opts.Provider)
	}
	if opts.Timeout > 0 {
		c = &timeoutCompleter{inner: c, timeout: opts.Timeout}
	}
	logger.Info("Advisory model configured", zap.String("model", c.Name()))
	return c, nil
}

// OpenAI completes prompts with the chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI completer. An empty model selects gpt-4o-mini.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Gemini completes prompts with Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini completer. An empty model selects gemini-2.5-flash.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type timeoutCompleter struct {
	inner   Completer
	timeout time.Duration
}

func (t *timeoutCompleter) Name() string { return t.inner.Name() }

func (t *timeoutCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, prompt)
}
