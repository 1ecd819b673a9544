package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/apex/pkg/provider/llm"
	"github.com/MrWong99/apex/pkg/provider/llm/gemini"
)

// fakeAPI answers generateContent calls with canned text and records bodies.
type fakeAPI struct {
	mu      sync.Mutex
	bodies  []string
	paths   []string
	replies []string
	status  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.paths = append(f.paths, r.URL.Path)
	status := f.status
	reply := "ok"
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": reply}},
			},
			"finishReason": "STOP",
		}},
	})
}

func (f *fakeAPI) requests() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...), append([]string(nil), f.bodies...)
}

func newProvider(t *testing.T, api *fakeAPI) *gemini.Provider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("test-model"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestChat_RetainsHistory(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{replies: []string{"Welcome to Apex.", "We build moats."}}
	p := newProvider(t, api)

	c, err := p.NewChat(context.Background(), llm.ChatConfig{Instructions: "You are the Apex concierge."})
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	first, err := c.Send(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if first != "Welcome to Apex." {
		t.Errorf("reply 1 = %q", first)
	}
	if _, err := c.Send(context.Background(), "What do you do?"); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	paths, bodies := api.requests()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	if !strings.Contains(paths[0], "test-model:generateContent") {
		t.Errorf("path = %q, want test-model:generateContent", paths[0])
	}
	if !strings.Contains(bodies[0], "You are the Apex concierge.") {
		t.Error("first request is missing the system instruction")
	}
	for _, want := range []string{"Hello", "Welcome to Apex.", "What do you do?"} {
		if !strings.Contains(bodies[1], want) {
			t.Errorf("second request missing history entry %q", want)
		}
	}
}

func TestGenerateJSON_SendsSchema(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{replies: []string{` [{"id":"s1"}] `}}
	p := newProvider(t, api)

	schema := &llm.Schema{
		Type: llm.TypeArray,
		Items: &llm.Schema{
			Type:       llm.TypeObject,
			Properties: map[string]*llm.Schema{"id": {Type: llm.TypeString}},
			Required:   []string{"id"},
		},
	}
	out, err := p.GenerateJSON(context.Background(), llm.GenerateRequest{Prompt: "regenerate", Schema: schema, Model: "pro-model"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(out) != `[{"id":"s1"}]` {
		t.Errorf("out = %q, want trimmed JSON", out)
	}

	paths, bodies := api.requests()
	if !strings.Contains(paths[0], "pro-model:generateContent") {
		t.Errorf("path = %q, want model override", paths[0])
	}
	for _, want := range []string{"application/json", "responseSchema", "regenerate"} {
		if !strings.Contains(bodies[0], want) {
			t.Errorf("request body missing %q: %s", want, bodies[0])
		}
	}
}

func TestGenerateJSON_ServerError(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &fakeAPI{status: http.StatusServiceUnavailable})
	if _, err := p.GenerateJSON(context.Background(), llm.GenerateRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error from failing backend")
	}
}
