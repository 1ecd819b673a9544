// Package gemini implements llm.Provider on top of google.golang.org/genai,
// the Google Gen AI SDK for the Gemini API.
//
// Conversations use the SDK's chat sessions, which keep history client-side
// and resend it on every turn. Structured generation sets the response MIME
// type to application/json and translates the llm.Schema into a genai.Schema.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/apex/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

const defaultModel = "gemini-3-flash-preview"

// Option is a functional option for configuring a Provider.
type Option func(*options)

type options struct {
	model   string
	baseURL string
}

// WithModel sets the model used for chats and generation.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key must not be empty")
	}
	o := options{model: defaultModel}
	for _, fn := range opts {
		fn(&o)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: client, model: o.model}, nil
}

// Model returns the default model name.
func (p *Provider) Model() string { return p.model }

// NewChat implements llm.Provider.
func (p *Provider) NewChat(ctx context.Context, cfg llm.ChatConfig) (llm.Chat, error) {
	var gcfg *genai.GenerateContentConfig
	if cfg.Instructions != "" {
		gcfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(cfg.Instructions, genai.RoleUser),
		}
	}

	history := make([]*genai.Content, 0, len(cfg.History))
	for _, m := range cfg.History {
		history = append(history, genai.NewContentFromText(m.Text, convertRole(m.Role)))
	}

	c, err := p.client.Chats.Create(ctx, p.model, gcfg, history)
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &chat{chat: c}, nil
}

// GenerateJSON implements llm.Provider.
func (p *Provider) GenerateJSON(ctx context.Context, req llm.GenerateRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   convertSchema(req.Schema),
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: generate content: empty response")
	}
	return []byte(text), nil
}

type chat struct {
	chat *genai.Chat
}

func (c *chat) Send(ctx context.Context, text string) (string, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("gemini: send message: %w", err)
	}
	return resp.Text(), nil
}

func convertRole(r llm.Role) genai.Role {
	if r == llm.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// convertSchema maps the llm schema subset onto genai's schema type.
func convertSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	switch s.Type {
	case llm.TypeString:
		out.Type = genai.TypeString
	case llm.TypeObject:
		out.Type = genai.TypeObject
	case llm.TypeArray:
		out.Type = genai.TypeArray
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(v)
		}
	}
	return out
}
