package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Turn is one prior exchange: what the user asked and what the model said.
type Turn struct {
	User      string
	Assistant string
}

// Generator is the capability a session consumes: take a message, optional
// prior turns and an optional header (system instruction), and return the
// generated text. Backends are interchangeable behind it.
type Generator interface {
	Generate(ctx context.Context, message string, history []Turn, header string) (string, error)
}

// Provider hands out Generators to new sessions.
type Provider interface {
	Generator() (Generator, error)
}

// SingletonProvider shares one Generator across all sessions.
type SingletonProvider struct {
	gen Generator
}

// NewSingletonProvider returns a Provider that always yields gen.
func NewSingletonProvider(gen Generator) *SingletonProvider {
	return &SingletonProvider{gen: gen}
}

// Generator returns the shared Generator.
func (p *SingletonProvider) Generator() (Generator, error) {
	if p.gen == nil {
		return nil, errors.New("no generator configured")
	}
	return p.gen, nil
}

// Usage describes the token cost of one generation.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// UsageFunc observes completed generations. ctx is the generation's
// context, so request-scoped values set by the caller are visible.
type UsageFunc func(ctx context.Context, u Usage)

// ChatGenerator adapts a chat [Client] to the [Generator] capability.
type ChatGenerator struct {
	client   Client
	provider string
	model    string
	onUsage  UsageFunc
}

// NewChatGenerator creates a Generator that sends every request to model
// on client. provider names the backend in usage reports.
func NewChatGenerator(client Client, provider, model string) *ChatGenerator {
	return &ChatGenerator{client: client, provider: provider, model: model}
}

// OnUsage registers fn to be called after each successful generation.
func (g *ChatGenerator) OnUsage(fn UsageFunc) {
	g.onUsage = fn
}

// Model returns the model requests are sent to.
func (g *ChatGenerator) Model() string {
	return g.model
}

// Generate implements [Generator]. The header becomes the system message,
// history becomes alternating user/assistant messages, and message is the
// final user turn.
func (g *ChatGenerator) Generate(ctx context.Context, message string, history []Turn, header string) (string, error) {
	resp, err := g.client.Chat(ctx, g.model, buildMessages(message, history, header))
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.provider, err)
	}
	if resp.Message.Content == "" {
		return "", fmt.Errorf("%s: %w", g.provider, ErrEmptyResponse)
	}

	if g.onUsage != nil {
		model := resp.Model
		if model == "" {
			model = g.model
		}
		g.onUsage(ctx, Usage{
			Provider:     g.provider,
			Model:        model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Duration:     resp.Duration,
		})
	}
	return resp.Message.Content, nil
}

func buildMessages(message string, history []Turn, header string) []Message {
	msgs := make([]Message, 0, 2*len(history)+2)
	if header != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: header})
	}
	for _, t := range history {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: t.User},
			Message{Role: RoleAssistant, Content: t.Assistant},
		)
	}
	return append(msgs, Message{Role: RoleUser, Content: message})
}
