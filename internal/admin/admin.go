// Package admin implements the catalog editor behind the shared access key:
// project and service CRUD plus AI-assisted bulk regeneration of the service
// offerings.
//
// The access key is a gate for casual visitors, not authentication. It is a
// single shared secret with no accounts, sessions or audit trail.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/apex/internal/catalog"
	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

var (
	// ErrUnauthorized is returned by Authorize for a wrong or missing key and
	// whenever the admin surface is disabled.
	ErrUnauthorized = errors.New("admin: unauthorized")

	// ErrInvalid reports a catalog entry missing a required field.
	ErrInvalid = errors.New("admin: invalid entry")
)

// Config configures the admin surface.
type Config struct {
	// Password is the shared access key. Empty disables every admin operation.
	Password string

	// RegenerateModel overrides the text model for bulk regeneration.
	RegenerateModel string

	// ProviderName labels regeneration metrics.
	ProviderName string
}

// Option is a functional option for [New].
type Option func(*Service)

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service performs admin operations against a catalog repository.
type Service struct {
	cfg     Config
	repo    catalog.Repository
	llm     llm.Provider
	metrics *observe.Metrics
}

// New creates a Service. p may be nil, in which case regeneration reports
// [llm.ErrTransientUnavailable].
func New(cfg Config, repo catalog.Repository, p llm.Provider, opts ...Option) *Service {
	s := &Service{cfg: cfg, repo: repo, llm: p}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enabled reports whether an access key is configured.
func (s *Service) Enabled() bool { return s.cfg.Password != "" }

// Authorize checks key against the configured access key in constant time.
func (s *Service) Authorize(key string) error {
	if !s.Enabled() {
		return fmt.Errorf("%w: admin surface disabled", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Password)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ── Projects ─────────────────────────────────────────────────────────────────

// Projects lists the portfolio.
func (s *Service) Projects(ctx context.Context) ([]catalog.Project, error) {
	return s.repo.Projects(ctx)
}

// SaveProject adds p when its ID is empty and updates it otherwise. It
// returns the stored entry and the updated portfolio.
func (s *Service) SaveProject(ctx context.Context, p catalog.Project) (catalog.Project, []catalog.Project, error) {
	if strings.TrimSpace(p.Title) == "" {
		return catalog.Project{}, nil, fmt.Errorf("%w: project title is required", ErrInvalid)
	}
	var (
		all []catalog.Project
		err error
	)
	if p.ID == "" {
		p.ID = uuid.NewString()
		all, err = s.repo.AddProject(ctx, p)
	} else {
		all, err = s.repo.UpdateProject(ctx, p)
	}
	if err != nil {
		return catalog.Project{}, nil, fmt.Errorf("admin: save project: %w", err)
	}
	return p, all, nil
}

// DeleteProject removes the project with id.
func (s *Service) DeleteProject(ctx context.Context, id string) ([]catalog.Project, error) {
	all, err := s.repo.DeleteProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("admin: delete project: %w", err)
	}
	return all, nil
}

// ── Services ─────────────────────────────────────────────────────────────────

// Services lists the service offerings.
func (s *Service) Services(ctx context.Context) ([]catalog.Service, error) {
	return s.repo.Services(ctx)
}

// SaveService adds svc when its ID is empty and updates it otherwise. New
// service ids carry an "s" prefix. Unknown icon names fall back to the
// default icon.
func (s *Service) SaveService(ctx context.Context, svc catalog.Service) (catalog.Service, []catalog.Service, error) {
	if strings.TrimSpace(svc.Title) == "" {
		return catalog.Service{}, nil, fmt.Errorf("%w: service title is required", ErrInvalid)
	}
	svc.IconName = catalog.ParseIcon(string(svc.IconName))

	var (
		all []catalog.Service
		err error
	)
	if svc.ID == "" {
		svc.ID = "s" + uuid.NewString()
		all, err = s.repo.AddService(ctx, svc)
	} else {
		all, err = s.repo.UpdateService(ctx, svc)
	}
	if err != nil {
		return catalog.Service{}, nil, fmt.Errorf("admin: save service: %w", err)
	}
	return svc, all, nil
}

// DeleteService removes the service with id.
func (s *Service) DeleteService(ctx context.Context, id string) ([]catalog.Service, error) {
	all, err := s.repo.DeleteService(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("admin: delete service: %w", err)
	}
	return all, nil
}
