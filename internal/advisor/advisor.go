// Package advisor runs the per-project strategy assistant shown beside each
// portfolio case study.
//
// Each [Conversation] is bound to one project and opened with the project's
// own system instruction. Conversations live in memory, are evicted after an
// idle timeout, and are capped in number; the oldest is dropped first.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

var (
	// ErrConversationNotFound is returned by Send for unknown or evicted ids.
	ErrConversationNotFound = errors.New("advisor: conversation not found")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("advisor: empty message")
)

// partnerDisclaimer is appended to every project instruction.
const partnerDisclaimer = ". IMPORTANT: You are a digital assistant previewing human excellence. " +
	"Remind users that for actual business execution, they must contact the Apex Partners directly. " +
	"Do not promise specific ROI without partner sign-off."

// Conversation is a newly started advisor thread.
type Conversation struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Greeting  string `json:"greeting"`
}

// Message is one reply.
type Message struct {
	Role llm.Role `json:"role"`
	Text string   `json:"text"`
}

// Config bounds the advisor.
type Config struct {
	// MaxConversations caps live conversations. Zero means 1000.
	MaxConversations int

	// IdleTimeout evicts conversations unused for this long. Zero means 30m.
	IdleTimeout time.Duration

	// FallbackMessage is the reply whenever the model fails.
	FallbackMessage string

	// Now overrides time.Now in tests.
	Now func() time.Time
}

type conversation struct {
	mu          sync.Mutex
	instruction string
	chat        llm.Chat
	lastUsed    time.Time
}

// Service manages advisor conversations. It is safe for concurrent use.
type Service struct {
	cfg      Config
	projects catalog.Repository
	llm      llm.Provider
	llmName  string
	metrics  *observe.Metrics

	mu    sync.Mutex
	convs map[string]*conversation
}

// New creates a Service. llmName labels metrics.
func New(cfg Config, projects catalog.Repository, p llm.Provider, llmName string, m *observe.Metrics) *Service {
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = 1000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Service{
		cfg:      cfg,
		projects: projects,
		llm:      p,
		llmName:  llmName,
		metrics:  m,
		convs:    make(map[string]*conversation),
	}
}

// Greeting returns the opening line for project.
func Greeting(p catalog.Project) string {
	return fmt.Sprintf("Greetings. I am the Apex Digital Assistant for the %s initiative. "+
		"I can walk you through the frameworks we used. For bespoke implementation or to speak "+
		"with the Lead Partner, let me know.", p.Title)
}

// Start opens a conversation about projectID. The model conversation itself
// is created lazily on the first Send.
func (s *Service) Start(ctx context.Context, projectID string) (Conversation, error) {
	p, err := s.projects.Project(ctx, projectID)
	if err != nil {
		return Conversation{}, fmt.Errorf("advisor: start: %w", err)
	}

	id := uuid.NewString()
	conv := &conversation{
		instruction: p.AISystemInstruction + partnerDisclaimer,
		lastUsed:    s.cfg.Now(),
	}

	s.mu.Lock()
	if len(s.convs) >= s.cfg.MaxConversations {
		s.evictOldestLocked()
	}
	s.convs[id] = conv
	s.mu.Unlock()

	return Conversation{ID: id, ProjectID: p.ID, Greeting: Greeting(p)}, nil
}

// Send relays text on conversation id. Model failures produce the fallback
// message and clear the model conversation so the next Send starts clean;
// they are not returned as errors.
func (s *Service) Send(ctx context.Context, id, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if ok {
		conv.lastUsed = s.cfg.Now()
	}
	s.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "advisor.send")
	defer span.End()

	start := time.Now()
	reply, err := s.exchange(ctx, conv, text)
	s.metrics.RecordLLM(ctx, "advisor", s.llmName, time.Since(start), err)
	if err != nil {
		observe.Logger(ctx).Warn("advisor: reply failed", "conversation", id, "err", err)
		conv.chat = nil
		reply = s.cfg.FallbackMessage
	}
	return Message{Role: llm.RoleModel, Text: reply}, nil
}

func (s *Service) exchange(ctx context.Context, conv *conversation, text string) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("advisor: %w: no text model configured", llm.ErrTransientUnavailable)
	}
	if conv.chat == nil {
		chat, err := s.llm.NewChat(ctx, llm.ChatConfig{Instructions: conv.instruction})
		if err != nil {
			return "", fmt.Errorf("advisor: open conversation: %w", err)
		}
		conv.chat = chat
	}
	reply, err := conv.chat.Send(ctx, text)
	if err != nil {
		return "", fmt.Errorf("advisor: send: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("advisor: send: %w: empty reply", llm.ErrTransientUnavailable)
	}
	return reply, nil
}

// Len returns the number of live conversations.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// Sweep evicts conversations idle for longer than the timeout and returns
// how many were removed.
func (s *Service) Sweep() int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.convs {
		if c.lastUsed.Before(cutoff) {
			delete(s.convs, id)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is cancelled. It always returns nil so it
// can run inside an errgroup without failing its siblings.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(max(s.cfg.IdleTimeout/4, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("advisor: evicted idle conversations", "count", n)
			}
		}
	}
}

func (s *Service) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, c := range s.convs {
		if oldestID == "" || c.lastUsed.Before(oldest) {
			oldestID, oldest = id, c.lastUsed
		}
	}
	delete(s.convs, oldestID)
}
