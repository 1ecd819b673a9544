package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/apex/pkg/provider/llm"
	"github.com/MrWong99/apex/pkg/provider/llm/mock"
)

func TestFallbackGroup_SkipsFailingPrimary(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var tried []string
	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		tried = append(tried, v)
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "served by secondary" {
		t.Errorf("got %q", got)
	}
	if len(tried) != 2 {
		t.Errorf("tried = %v, want both entries", tried)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(1, "a", FallbackConfig{})
	fg.AddFallback("b", 2)
	_, err := ExecuteWithResult(fg, func(int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "a" {
		t.Errorf("Names() = %v", names)
	}
}

func TestFallbackGroup_OpenBreakerSkipped(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("p", "p", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	fg.AddFallback("f", "f")

	calls := map[string]int{}
	fn := func(v string) (string, error) {
		calls[v]++
		if v == "p" {
			return "", errTest
		}
		return v, nil
	}
	_, _ = ExecuteWithResult(fg, fn)
	_, _ = ExecuteWithResult(fg, fn)
	if calls["p"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker open on second call)", calls["p"])
	}
	if calls["f"] != 2 {
		t.Errorf("fallback called %d times, want 2", calls["f"])
	}
}

func TestLLMFallback_GenerateJSON(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{GenerateErr: errTest}
	secondary := &mock.Provider{JSON: `[]`}
	f := NewLLMFallback(primary, "gemini", FallbackConfig{})
	f.AddFallback("openai", secondary)

	out, err := f.GenerateJSON(context.Background(), llm.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(out) != "[]" {
		t.Errorf("out = %q", out)
	}
	if len(primary.GenerateCalls()) != 1 || len(secondary.GenerateCalls()) != 1 {
		t.Error("expected one call to each backend")
	}
}

func TestLLMFallback_ChatReseedsFallback(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{Replies: []string{"first"}}
	secondary := &mock.Provider{Reply: "second"}
	f := NewLLMFallback(primary, "gemini", FallbackConfig{})
	f.AddFallback("openai", secondary)

	chat, err := f.NewChat(context.Background(), llm.ChatConfig{Instructions: "be brief"})
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if got, _ := chat.Send(context.Background(), "hello"); got != "first" {
		t.Fatalf("reply 1 = %q, want first", got)
	}

	primary.SetSendErr(errTest)
	got, err := chat.Send(context.Background(), "again")
	if err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	if got != "second" {
		t.Fatalf("reply 2 = %q, want second", got)
	}

	if secondary.ChatCount() != 1 {
		t.Fatalf("fallback chats = %d, want 1", secondary.ChatCount())
	}
	seed := secondary.Chats[0]
	if seed.Instructions != "be brief" {
		t.Errorf("fallback instructions = %q", seed.Instructions)
	}
	if len(seed.History) != 2 || seed.History[0].Text != "hello" || seed.History[1].Text != "first" {
		t.Errorf("fallback history = %+v, want the first exchange", seed.History)
	}
}
