package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/apex/internal/store"
)

// Storage keys for the two collections.
const (
	ProjectsKey = "apex_strategy_projects"
	ServicesKey = "apex_strategy_services"
)

// Repository reads and writes the catalog. Collections are returned in
// stored order. Add appends, Update replaces in place and Delete filters;
// each returns the collection as persisted.
type Repository interface {
	Projects(ctx context.Context) ([]Project, error)
	Project(ctx context.Context, id string) (Project, error)
	SaveProjects(ctx context.Context, projects []Project) error
	AddProject(ctx context.Context, p Project) ([]Project, error)
	UpdateProject(ctx context.Context, p Project) ([]Project, error)
	DeleteProject(ctx context.Context, id string) ([]Project, error)

	Services(ctx context.Context) ([]Service, error)
	Service(ctx context.Context, id string) (Service, error)
	SaveServices(ctx context.Context, services []Service) error
	AddService(ctx context.Context, s Service) ([]Service, error)
	UpdateService(ctx context.Context, s Service) ([]Service, error)
	DeleteService(ctx context.Context, id string) ([]Service, error)
}

// ── Options ──────────────────────────────────────────────────────────────────

// Option configures a KVRepository.
type Option func(*KVRepository)

// WithSeed replaces the built-in defaults with the collections in seed.
// A nil collection in seed keeps the built-in default for that collection.
func WithSeed(seed *Seed) Option {
	return func(r *KVRepository) {
		if seed == nil {
			return
		}
		if seed.Projects != nil {
			r.projects.defaults = func() []Project { return slices.Clone(seed.Projects) }
		}
		if seed.Services != nil {
			r.services.defaults = func() []Service { return slices.Clone(seed.Services) }
		}
	}
}

// ── KVRepository ─────────────────────────────────────────────────────────────

// KVRepository persists each collection as one JSON array in a [store.KV].
// A collection that has never been saved reads as its defaults.
type KVRepository struct {
	// mu serialises read-modify-write cycles.
	mu       sync.Mutex
	kv       store.KV
	projects collection[Project]
	services collection[Service]
}

var _ Repository = (*KVRepository)(nil)

// NewKVRepository returns a repository over kv.
func NewKVRepository(kv store.KV, opts ...Option) *KVRepository {
	r := &KVRepository{
		kv: kv,
		projects: collection[Project]{
			key:      ProjectsKey,
			defaults: DefaultProjects,
			id:       func(p Project) string { return p.ID },
		},
		services: collection[Service]{
			key:      ServicesKey,
			defaults: DefaultServices,
			id:       func(s Service) string { return s.ID },
			fix:      Service.normalize,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewMemRepository returns a repository backed by a fresh in-memory store.
func NewMemRepository(opts ...Option) *KVRepository {
	return NewKVRepository(store.NewMemStore(), opts...)
}

func (r *KVRepository) Projects(ctx context.Context) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.load(ctx, r.kv)
}

func (r *KVRepository) Project(ctx context.Context, id string) (Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.find(ctx, r.kv, id)
}

func (r *KVRepository) SaveProjects(ctx context.Context, projects []Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.save(ctx, r.kv, projects)
}

func (r *KVRepository) AddProject(ctx context.Context, p Project) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.add(ctx, r.kv, p)
}

func (r *KVRepository) UpdateProject(ctx context.Context, p Project) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.update(ctx, r.kv, p)
}

func (r *KVRepository) DeleteProject(ctx context.Context, id string) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects.remove(ctx, r.kv, id)
}

func (r *KVRepository) Services(ctx context.Context) ([]Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services.load(ctx, r.kv)
}

func (r *KVRepository) Service(ctx context.Context, id string) (Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services.find(ctx, r.kv, id)
}

func (r *KVRepository) SaveServices(ctx context.Context, services []Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	normalized := make([]Service, len(services))
	for i, s := range services {
		normalized[i] = s.normalize()
	}
	return r.services.save(ctx, r.kv, normalized)
}

func (r *KVRepository) AddService(ctx context.Context, s Service) ([]Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services.add(ctx, r.kv, s.normalize())
}

func (r *KVRepository) UpdateService(ctx context.Context, s Service) ([]Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services.update(ctx, r.kv, s.normalize())
}

func (r *KVRepository) DeleteService(ctx context.Context, id string) ([]Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services.remove(ctx, r.kv, id)
}

// ── collection ───────────────────────────────────────────────────────────────

// collection implements the wholesale load/save cycle for one key.
// Callers hold KVRepository.mu.
type collection[T any] struct {
	key      string
	defaults func() []T
	id       func(T) string
	fix      func(T) T
}

func (c collection[T]) load(ctx context.Context, kv store.KV) ([]T, error) {
	raw, err := kv.Get(ctx, c.key)
	if errors.Is(err, store.ErrNotFound) {
		return c.defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", c.key, err)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", c.key, err)
	}
	if items == nil {
		items = []T{}
	}
	if c.fix != nil {
		for i := range items {
			items[i] = c.fix(items[i])
		}
	}
	return items, nil
}

func (c collection[T]) save(ctx context.Context, kv store.KV, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", c.key, err)
	}
	if err := kv.Put(ctx, c.key, raw); err != nil {
		return fmt.Errorf("catalog: save %s: %w", c.key, err)
	}
	return nil
}

func (c collection[T]) find(ctx context.Context, kv store.KV, id string) (T, error) {
	var zero T
	items, err := c.load(ctx, kv)
	if err != nil {
		return zero, err
	}
	i := slices.IndexFunc(items, func(v T) bool { return c.id(v) == id })
	if i < 0 {
		return zero, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return items[i], nil
}

func (c collection[T]) add(ctx context.Context, kv store.KV, item T) ([]T, error) {
	items, err := c.load(ctx, kv)
	if err != nil {
		return nil, err
	}
	items = append(items, item)
	if err := c.save(ctx, kv, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c collection[T]) update(ctx context.Context, kv store.KV, item T) ([]T, error) {
	items, err := c.load(ctx, kv)
	if err != nil {
		return nil, err
	}
	id := c.id(item)
	i := slices.IndexFunc(items, func(v T) bool { return c.id(v) == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	items[i] = item
	if err := c.save(ctx, kv, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c collection[T]) remove(ctx context.Context, kv store.KV, id string) ([]T, error) {
	items, err := c.load(ctx, kv)
	if err != nil {
		return nil, err
	}
	kept := slices.DeleteFunc(slices.Clone(items), func(v T) bool { return c.id(v) == id })
	if len(kept) == len(items) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err := c.save(ctx, kv, kept); err != nil {
		return nil, err
	}
	return kept, nil
}
