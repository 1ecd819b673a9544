package concierge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

// SendText appends the visitor's message to the transcript and returns the
// assistant's reply, which is appended as well. The conversation is opened
// lazily on the first message. Any model failure is reported as the
// configured fallback message and clears the conversation so the next
// message starts clean. Blank input is ignored and returns the zero Message.
func (c *Controller) SendText(ctx context.Context, text string) Message {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.appendMessage(Message{Role: llm.RoleUser, Text: text})
	epoch := c.epoch
	chat := c.chat
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "concierge.send_text")
	defer span.End()

	start := time.Now()
	chat, reply, err := c.exchange(ctx, chat, text)
	c.metrics.RecordLLM(ctx, "chat", c.llmName, time.Since(start), err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		// Reset while the turn was in flight.
		return Message{Role: llm.RoleModel, Text: reply}
	}
	if err != nil {
		observe.Logger(ctx).Warn("concierge: text reply failed", "err", err)
		span.RecordError(err)
		c.chat = nil
		reply = c.cfg.FallbackMessage
	} else {
		c.chat = chat
	}
	msg := Message{Role: llm.RoleModel, Text: reply}
	c.appendMessage(msg)
	return msg
}

// exchange runs one turn, opening the conversation if needed. Errors wrap
// llm.ErrTransientUnavailable.
func (c *Controller) exchange(ctx context.Context, chat llm.Chat, text string) (llm.Chat, string, error) {
	if c.llm == nil {
		return nil, "", fmt.Errorf("%w: no text model configured", llm.ErrTransientUnavailable)
	}
	if chat == nil {
		var err error
		chat, err = c.llm.NewChat(ctx, llm.ChatConfig{Instructions: c.cfg.Instructions})
		if err != nil {
			return nil, "", transient("open conversation", err)
		}
	}
	reply, err := chat.Send(ctx, text)
	if err != nil {
		return nil, "", transient("send", err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, "", fmt.Errorf("%w: empty reply", llm.ErrTransientUnavailable)
	}
	return chat, reply, nil
}

func transient(op string, err error) error {
	if errors.Is(err, llm.ErrTransientUnavailable) {
		return fmt.Errorf("concierge: %s: %w", op, err)
	}
	return fmt.Errorf("concierge: %s: %w: %w", op, llm.ErrTransientUnavailable, err)
}
