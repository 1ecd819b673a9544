// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the prompts and instructions callers
// send and to feed controlled replies without a live model backend. Fields
// may be changed between calls; every method takes the mutex.
//
// Example:
//
//	p := &mock.Provider{Replies: []string{"Welcome."}}
//	chat, _ := p.NewChat(ctx, llm.ChatConfig{Instructions: "..."})
//	reply, _ := chat.Send(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/apex/pkg/provider/llm"
)

// SendCall records a single Chat.Send invocation.
type SendCall struct {
	// Chat is the index of the chat (in creation order) that was used.
	Chat int
	// Text is the user message.
	Text string
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Replies are returned by Chat.Send in order. When exhausted, Reply is used.
	Replies []string

	// Reply is the fallback reply once Replies is exhausted.
	Reply string

	// SendErr, if non-nil, is returned by every Chat.Send call.
	SendErr error

	// NewChatErr, if non-nil, is returned by NewChat.
	NewChatErr error

	// JSON is returned by GenerateJSON.
	JSON string

	// GenerateErr, if non-nil, is returned by GenerateJSON.
	GenerateErr error

	// --- Call records ---

	// Chats records the config of every successful NewChat call.
	Chats []llm.ChatConfig

	// Sends records every Chat.Send call in order.
	Sends []SendCall

	// Generates records every GenerateJSON request in order.
	Generates []llm.GenerateRequest
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// NewChat records cfg and returns a Chat bound to this provider.
func (p *Provider) NewChat(_ context.Context, cfg llm.ChatConfig) (llm.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NewChatErr != nil {
		return nil, p.NewChatErr
	}
	p.Chats = append(p.Chats, cfg)
	return &chat{p: p, idx: len(p.Chats) - 1}, nil
}

// GenerateJSON records req and returns JSON, GenerateErr.
func (p *Provider) GenerateJSON(_ context.Context, req llm.GenerateRequest) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Generates = append(p.Generates, req)
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	return []byte(p.JSON), nil
}

// ChatCount returns the number of chats opened.
func (p *Provider) ChatCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Chats)
}

// SendCalls returns a copy of the recorded Send calls.
func (p *Provider) SendCalls() []SendCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SendCall(nil), p.Sends...)
}

// GenerateCalls returns a copy of the recorded GenerateJSON requests.
func (p *Provider) GenerateCalls() []llm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.GenerateRequest(nil), p.Generates...)
}

// SetSendErr replaces SendErr under the lock.
func (p *Provider) SetSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendErr = err
}

// SetJSON replaces JSON under the lock.
func (p *Provider) SetJSON(json string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JSON = json
}

// SetGenerateErr replaces GenerateErr under the lock.
func (p *Provider) SetGenerateErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateErr = err
}

type chat struct {
	p   *Provider
	idx int
}

func (c *chat) Send(_ context.Context, text string) (string, error) {
	p := c.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sends = append(p.Sends, SendCall{Chat: c.idx, Text: text})
	if p.SendErr != nil {
		return "", p.SendErr
	}
	if len(p.Replies) > 0 {
		r := p.Replies[0]
		p.Replies = p.Replies[1:]
		return r, nil
	}
	return p.Reply, nil
}
