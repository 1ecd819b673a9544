package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/apex/internal/admin"
	"github.com/MrWong99/apex/internal/advisor"
	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/concierge"
	"github.com/MrWong99/apex/internal/contact"
	"github.com/MrWong99/apex/internal/health"
	"github.com/MrWong99/apex/internal/store"
	"github.com/MrWong99/apex/internal/web"
	livemock "github.com/MrWong99/apex/pkg/provider/live/mock"
	llmmock "github.com/MrWong99/apex/pkg/provider/llm/mock"
)

const adminKey = "apex123"

type env struct {
	srv  *httptest.Server
	repo *catalog.KVRepository
	llm  *llmmock.Provider
	live *livemock.Provider
}

func newEnv(t *testing.T) *env {
	t.Helper()

	repo := catalog.NewMemRepository()
	p := &llmmock.Provider{Reply: "Noted."}
	lp := &livemock.Provider{OpenOnConnect: true}

	s := web.New(web.Config{
		Catalog: repo,
		Advisor: advisor.New(advisor.Config{FallbackMessage: "high demand"}, repo, p, "mock", nil),
		Admin:   admin.New(admin.Config{Password: adminKey}, repo, p),
		Contact: contact.New(store.NewMemStore()),
		Concierge: func(opts ...concierge.Option) *concierge.Controller {
			base := []concierge.Option{concierge.WithLLM(p, "mock"), concierge.WithLive(lp)}
			return concierge.New(concierge.Config{
				Greeting:                "Welcome to Apex.",
				FallbackMessage:         "Please use our Direct Partner Line.",
				VoiceUnavailableMessage: "Voice is unavailable.",
				FrameSize:               4,
				OutputSampleRate:        24000,
			}, append(base, opts...)...)
		},
		Health: health.New(health.PingChecker("store", store.NewMemStore())),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, repo: repo, llm: p, live: lp}
}

// do sends a request with an optional JSON body and admin key and returns
// the status and response body.
func (e *env) do(t *testing.T, method, path string, body any, key string) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set(web.AdminKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func decodeInto[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestCatalogRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, http.MethodGet, "/api/projects", nil, "")
	if status != http.StatusOK {
		t.Fatalf("GET /api/projects = %d", status)
	}
	if got := decodeInto[[]catalog.Project](t, body); len(got) != 2 {
		t.Errorf("projects = %d, want 2", len(got))
	}

	status, body = e.do(t, http.MethodGet, "/api/services/s1", nil, "")
	if status != http.StatusOK {
		t.Fatalf("GET /api/services/s1 = %d", status)
	}
	if got := decodeInto[catalog.Service](t, body); got.Title != "Operational Rigor" {
		t.Errorf("service = %+v", got)
	}

	status, body = e.do(t, http.MethodGet, "/api/projects/nope", nil, "")
	if status != http.StatusNotFound {
		t.Errorf("GET unknown project = %d, want 404", status)
	}
	if !strings.Contains(string(body), `"error"`) {
		t.Errorf("error body = %s", body)
	}
}

func TestAdvisorRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/projects/2/advisor", nil, "")
	if status != http.StatusCreated {
		t.Fatalf("start = %d: %s", status, body)
	}
	conv := decodeInto[advisor.Conversation](t, body)
	if !strings.Contains(conv.Greeting, "Startup Scalability Phase") {
		t.Errorf("greeting = %q", conv.Greeting)
	}

	status, body = e.do(t, http.MethodPost, "/api/advisor/"+conv.ID+"/messages", map[string]string{"text": "hi"}, "")
	if status != http.StatusOK {
		t.Fatalf("send = %d: %s", status, body)
	}
	if msg := decodeInto[advisor.Message](t, body); msg.Text != "Noted." {
		t.Errorf("reply = %+v", msg)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown project", "/api/projects/nope/advisor", nil, http.StatusNotFound},
		{"unknown conversation", "/api/advisor/nope/messages", map[string]string{"text": "hi"}, http.StatusNotFound},
		{"blank message", "/api/advisor/" + conv.ID + "/messages", map[string]string{"text": " "}, http.StatusBadRequest},
		{"malformed body", "/api/advisor/" + conv.ID + "/messages", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if status, _ := e.do(t, http.MethodPost, tt.path, tt.body, ""); status != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, status, tt.want)
		}
	}
}

func TestContactRoute(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	good := map[string]string{
		"name":    "Alexander Vance",
		"company": "Fortune 500",
		"email":   "principal@company.global",
		"message": "We need to scale.",
	}
	status, body := e.do(t, http.MethodPost, "/api/contact", good, "")
	if status != http.StatusCreated {
		t.Fatalf("submit = %d: %s", status, body)
	}
	if q := decodeInto[contact.Inquiry](t, body); q.ID == "" {
		t.Error("inquiry id is empty")
	}

	bad := map[string]string{"name": "x", "company": "y", "email": "nope", "message": "z"}
	if status, _ := e.do(t, http.MethodPost, "/api/contact", bad, ""); status != http.StatusBadRequest {
		t.Errorf("invalid email = %d, want 400", status)
	}
	if status, _ := e.do(t, http.MethodPost, "/api/contact", `{"name":"x","phone":"1"}`, ""); status != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", status)
	}

	status, body = e.do(t, http.MethodGet, "/api/admin/inquiries", nil, adminKey)
	if status != http.StatusOK {
		t.Fatalf("inquiries = %d", status)
	}
	if got := decodeInto[[]contact.Inquiry](t, body); len(got) != 1 {
		t.Errorf("inquiries = %d, want 1", len(got))
	}
}

func TestAdminLogin(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	if status, _ := e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"}, ""); status != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", status)
	}
	if status, _ := e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": adminKey}, ""); status != http.StatusNoContent {
		t.Errorf("right password = %d, want 204", status)
	}
}

func TestAdminRoutes_RequireKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/admin/projects"},
		{http.MethodPut, "/api/admin/projects/1"},
		{http.MethodDelete, "/api/admin/services/s1"},
		{http.MethodPost, "/api/admin/services/regenerate"},
		{http.MethodGet, "/api/admin/inquiries"},
	} {
		if status, _ := e.do(t, r.method, r.path, `{}`, "bad-key"); status != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", r.method, r.path, status)
		}
	}
	if got, _ := e.repo.Services(context.Background()); len(got) != 3 {
		t.Error("unauthorized request changed the catalog")
	}
}

func TestAdminCatalogCRUD(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/admin/projects", map[string]string{"title": "Market Entry", "id": "ignored"}, adminKey)
	if status != http.StatusCreated {
		t.Fatalf("add project = %d: %s", status, body)
	}
	added := decodeInto[struct {
		Project  catalog.Project   `json:"project"`
		Projects []catalog.Project `json:"projects"`
	}](t, body)
	if added.Project.ID == "" || added.Project.ID == "ignored" || len(added.Projects) != 3 {
		t.Errorf("add project = %+v", added)
	}

	status, _ = e.do(t, http.MethodPut, "/api/admin/projects/1", map[string]string{"title": "Renamed"}, adminKey)
	if status != http.StatusOK {
		t.Errorf("update project = %d", status)
	}
	if p, _ := e.repo.Project(context.Background(), "1"); p.Title != "Renamed" {
		t.Errorf("project 1 title = %q", p.Title)
	}

	if status, _ := e.do(t, http.MethodPut, "/api/admin/projects/ghost", map[string]string{"title": "x"}, adminKey); status != http.StatusNotFound {
		t.Errorf("update unknown = %d, want 404", status)
	}
	if status, _ := e.do(t, http.MethodPost, "/api/admin/projects", map[string]string{"title": ""}, adminKey); status != http.StatusBadRequest {
		t.Errorf("blank title = %d, want 400", status)
	}

	status, body = e.do(t, http.MethodPost, "/api/admin/services", map[string]string{"title": "M&A", "iconName": "globe"}, adminKey)
	if status != http.StatusCreated {
		t.Fatalf("add service = %d: %s", status, body)
	}
	svc := decodeInto[struct {
		Service catalog.Service `json:"service"`
	}](t, body).Service
	if !strings.HasPrefix(svc.ID, "s") || svc.IconName != catalog.IconGlobe {
		t.Errorf("added service = %+v", svc)
	}

	status, body = e.do(t, http.MethodDelete, "/api/admin/services/s2", nil, adminKey)
	if status != http.StatusOK {
		t.Fatalf("delete service = %d", status)
	}
	if got := decodeInto[[]catalog.Service](t, body); len(got) != 3 {
		t.Errorf("services after delete = %d, want 3", len(got))
	}
}

func TestAdminRegenerate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.SetJSON(`[{"id":"s1","title":"A","description":"B","iconName":"Cpu","detailedContent":"C. D."}]`)

	status, body := e.do(t, http.MethodPost, "/api/admin/services/regenerate", map[string]string{"prompt": "focus on AI"}, adminKey)
	if status != http.StatusOK {
		t.Fatalf("regenerate = %d: %s", status, body)
	}
	if got, _ := e.repo.Services(context.Background()); len(got) != 1 || got[0].IconName != catalog.IconCpu {
		t.Errorf("services = %+v", got)
	}

	if status, _ := e.do(t, http.MethodPost, "/api/admin/services/regenerate", map[string]string{"prompt": " "}, adminKey); status != http.StatusBadRequest {
		t.Errorf("empty prompt = %d, want 400", status)
	}

	e.llm.SetJSON(`[]`)
	if status, _ := e.do(t, http.MethodPost, "/api/admin/services/regenerate", map[string]string{"prompt": "x"}, adminKey); status != http.StatusUnprocessableEntity {
		t.Errorf("empty result = %d, want 422", status)
	}
}

func TestAdminRegenerate_ProviderDown(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.SetGenerateErr(errors.New("quota exceeded"))

	if status, _ := e.do(t, http.MethodPost, "/api/admin/services/regenerate", map[string]string{"prompt": "x"}, adminKey); status != http.StatusServiceUnavailable {
		t.Errorf("provider down = %d, want 503", status)
	}
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if status, body := e.do(t, http.MethodGet, path, nil, ""); status != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, status, body)
		}
	}
	if status, _ := e.do(t, http.MethodGet, "/nope", nil, ""); status != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", status)
	}
}

func TestDisabledRoutes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(web.New(web.Config{Catalog: catalog.NewMemRepository()}).Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/api/contact", "/api/admin/login", "/api/projects/1/advisor"} {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want route absent", path, resp.StatusCode)
		}
	}
}
