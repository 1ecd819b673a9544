package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/apex/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across text model
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backend names in preference order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// GenerateJSON asks each healthy backend in turn.
func (f *LLMFallback) GenerateJSON(ctx context.Context, req llm.GenerateRequest) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) ([]byte, error) {
		return p.GenerateJSON(ctx, req)
	})
}

// NewChat returns a conversation that can move between backends. The
// transcript is kept here so a backend joining mid-conversation is seeded
// with every earlier turn.
func (f *LLMFallback) NewChat(_ context.Context, cfg llm.ChatConfig) (llm.Chat, error) {
	return &fallbackChat{
		group:        f.group,
		instructions: cfg.Instructions,
		history:      append([]llm.Message(nil), cfg.History...),
		chats:        make([]llm.Chat, f.group.Len()),
		synced:       make([]int, f.group.Len()),
	}, nil
}

type fallbackChat struct {
	group        *FallbackGroup[llm.Provider]
	instructions string

	mu      sync.Mutex
	history []llm.Message
	chats   []llm.Chat
	// synced[i] is len(history) when chats[i] last saw the full transcript.
	synced []int
}

func (c *fallbackChat) Send(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := ExecuteIndexed(c.group, func(i int, p llm.Provider) (string, error) {
		// A backend that missed turns is re-seeded from the transcript.
		if c.chats[i] == nil || c.synced[i] != len(c.history) {
			ch, err := p.NewChat(ctx, llm.ChatConfig{Instructions: c.instructions, History: c.history})
			if err != nil {
				return "", err
			}
			c.chats[i] = ch
		}
		reply, err := c.chats[i].Send(ctx, text)
		if err != nil {
			c.chats[i] = nil
			return "", err
		}
		c.synced[i] = len(c.history) + 2
		return reply, nil
	})
	if err != nil {
		return "", err
	}
	c.history = append(c.history,
		llm.Message{Role: llm.RoleUser, Text: text},
		llm.Message{Role: llm.RoleModel, Text: reply},
	)
	return reply, nil
}
