// Package anyllm provides a universal llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Conversation history is kept locally and resent with every completion.
// Structured generation embeds the JSON schema in the prompt, since not every
// backend honours a native response schema.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.New("ollama", "llama3.2")
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/apex/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// SupportedProviders lists the backend names accepted by [New].
var SupportedProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given LLM provider name.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to its environment variable (e.g., OPENAI_API_KEY).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedProviders, ", "))
	}
}

// Model returns the default model name.
func (p *Provider) Model() string { return p.model }

// NewChat implements llm.Provider. No request is made until the first Send.
func (p *Provider) NewChat(_ context.Context, cfg llm.ChatConfig) (llm.Chat, error) {
	return &chat{
		p:            p,
		instructions: cfg.Instructions,
		history:      append([]llm.Message(nil), cfg.History...),
	}, nil
}

// GenerateJSON implements llm.Provider.
func (p *Provider) GenerateJSON(ctx context.Context, req llm.GenerateRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	prompt, err := jsonPrompt(req)
	if err != nil {
		return nil, err
	}

	text, err := p.complete(ctx, anyllmlib.CompletionParams{
		Model:    model,
		Messages: []anyllmlib.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	out := stripCodeFence(text)
	if !json.Valid([]byte(out)) {
		return nil, fmt.Errorf("anyllm: response is not valid JSON")
	}
	return []byte(out), nil
}

func (p *Provider) complete(ctx context.Context, params anyllmlib.CompletionParams) (string, error) {
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

type chat struct {
	p            *Provider
	instructions string

	mu      sync.Mutex
	history []llm.Message
}

// Send appends text to the history, requests a completion and records the
// reply. A failed request leaves the history unchanged.
func (c *chat) Send(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := llm.Message{Role: llm.RoleUser, Text: text}
	reply, err := c.p.complete(ctx, buildParams(c.p.model, c.instructions, append(c.history, turn)))
	if err != nil {
		return "", err
	}
	c.history = append(c.history, turn, llm.Message{Role: llm.RoleModel, Text: reply})
	return reply, nil
}

// buildParams converts a conversation into anyllm CompletionParams.
func buildParams(model, instructions string, history []llm.Message) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(history)+1)
	if instructions != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: instructions,
		})
	}
	for _, m := range history {
		messages = append(messages, convertMessage(m))
	}
	return anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
}

// convertMessage maps the model role onto the OpenAI-style "assistant" role.
func convertMessage(m llm.Message) anyllmlib.Message {
	role := "user"
	if m.Role == llm.RoleModel {
		role = "assistant"
	}
	return anyllmlib.Message{Role: role, Content: m.Text}
}

// jsonPrompt appends the schema and output rules to the request prompt.
func jsonPrompt(req llm.GenerateRequest) (string, error) {
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n\nRespond with JSON only, without markdown fences or commentary.")
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return "", fmt.Errorf("anyllm: marshal schema: %w", err)
		}
		b.WriteString(" The JSON must conform to this JSON schema:\n")
		b.Write(schema)
	}
	return b.String(), nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
