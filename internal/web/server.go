// Package web exposes the site's JSON API, the admin API and the concierge
// WebSocket over HTTP.
//
// Routes:
//
//	GET    /api/projects                    portfolio
//	GET    /api/projects/{id}               one case study
//	POST   /api/projects/{id}/advisor       start a strategy advisor conversation
//	POST   /api/advisor/{conv}/messages     send to an advisor conversation
//	GET    /api/services                    service offerings
//	GET    /api/services/{id}               one offering
//	POST   /api/contact                     submit a partner inquiry
//	POST   /api/admin/login                 check the access key
//	POST   /api/admin/projects              add a project
//	PUT    /api/admin/projects/{id}         update a project
//	DELETE /api/admin/projects/{id}         delete a project
//	POST   /api/admin/services              add a service
//	PUT    /api/admin/services/{id}         update a service
//	DELETE /api/admin/services/{id}         delete a service
//	POST   /api/admin/services/regenerate   AI bulk regeneration
//	GET    /api/admin/inquiries             submitted inquiries
//	GET    /ws/concierge                    concierge session (WebSocket)
//	GET    /healthz, /readyz, /metrics
//
// Admin routes require the access key in the X-Admin-Key header.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/apex/internal/admin"
	"github.com/MrWong99/apex/internal/advisor"
	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/concierge"
	"github.com/MrWong99/apex/internal/contact"
	"github.com/MrWong99/apex/internal/health"
	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

// AdminKeyHeader carries the admin access key.
const AdminKeyHeader = "X-Admin-Key"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ConciergeFactory builds the controller for one concierge socket. The web
// layer supplies the options that bind it to the socket (sink, microphone,
// output).
type ConciergeFactory func(opts ...concierge.Option) *concierge.Controller

// Config lists the server's collaborators. Nil optional fields disable the
// routes that need them.
type Config struct {
	Catalog   catalog.Repository
	Advisor   *advisor.Service
	Admin     *admin.Service
	Contact   *contact.Service
	Concierge ConciergeFactory
	Health    *health.Handler
	Metrics   http.Handler
	Telemetry *observe.Metrics

	// OriginPatterns lists host patterns allowed to open the concierge
	// socket cross-origin (server.allowed_origins). Empty allows same-origin
	// only.
	OriginPatterns []string

	// InputSampleRate is assumed for microphone frames when start_voice
	// names no rate. Zero means 16 kHz.
	InputSampleRate int
}

// Server routes HTTP requests to the site's services.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the server's handler wrapped in the telemetry middleware.
func (s *Server) Handler() http.Handler {
	m := s.cfg.Telemetry
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/projects", s.handleProjects)
	s.mux.HandleFunc("GET /api/projects/{id}", s.handleProject)
	s.mux.HandleFunc("GET /api/services", s.handleServices)
	s.mux.HandleFunc("GET /api/services/{id}", s.handleService)

	if s.cfg.Advisor != nil {
		s.mux.HandleFunc("POST /api/projects/{id}/advisor", s.handleAdvisorStart)
		s.mux.HandleFunc("POST /api/advisor/{conv}/messages", s.handleAdvisorSend)
	}
	if s.cfg.Contact != nil {
		s.mux.HandleFunc("POST /api/contact", s.handleContact)
	}
	if s.cfg.Admin != nil {
		s.mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
		s.mux.Handle("POST /api/admin/projects", s.requireAdmin(s.handleAdminSaveProject))
		s.mux.Handle("PUT /api/admin/projects/{id}", s.requireAdmin(s.handleAdminSaveProject))
		s.mux.Handle("DELETE /api/admin/projects/{id}", s.requireAdmin(s.handleAdminDeleteProject))
		s.mux.Handle("POST /api/admin/services", s.requireAdmin(s.handleAdminSaveService))
		s.mux.Handle("PUT /api/admin/services/{id}", s.requireAdmin(s.handleAdminSaveService))
		s.mux.Handle("DELETE /api/admin/services/{id}", s.requireAdmin(s.handleAdminDeleteService))
		s.mux.Handle("POST /api/admin/services/regenerate", s.requireAdmin(s.handleAdminRegenerate))
		if s.cfg.Contact != nil {
			s.mux.Handle("GET /api/admin/inquiries", s.requireAdmin(s.handleAdminInquiries))
		}
	}
	if s.cfg.Concierge != nil {
		s.mux.HandleFunc("GET /ws/concierge", s.handleConcierge)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(s.mux)
	}
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics)
	}
}

// ── JSON helpers ─────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps err onto a status code and writes it. Unexpected errors are
// logged and reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("web: request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, advisor.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, admin.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, admin.ErrInvalid),
		errors.Is(err, admin.ErrEmptyPrompt),
		errors.Is(err, contact.ErrInvalid),
		errors.Is(err, advisor.ErrEmptyMessage),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrEmptyResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrTransientUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("invalid request body")

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
