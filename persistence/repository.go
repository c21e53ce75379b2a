package persistence

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// Repository is the registry of named storages and classes of an
// application.
type Repository struct {
	name     string
	log      *slog.Logger
	storages *xsync.MapOf[string, *Storage]
	classes  *xsync.MapOf[string, *Class]
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		if logger != nil {
			r.log = logger
		}
	}
}

func NewRepository(name string, opts ...RepositoryOption) *Repository {
	r := &Repository{
		name:     name,
		log:      slog.Default(),
		storages: xsync.NewMapOf[string, *Storage](),
		classes:  xsync.NewMapOf[string, *Class](),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", name)
	return r
}

func (r *Repository) Name() string { return r.name }

// CreateStorage builds and registers a storage. The repository logger is
// used unless opts set another one.
func (r *Repository) CreateStorage(name string, opts ...StorageOption) (*Storage, error) {
	if _, ok := r.storages.Load(name); ok {
		return nil, errors.Wrap(ErrDuplicateStorage, name)
	}

	opts = append([]StorageOption{WithLogger(r.log)}, opts...)
	s, err := NewStorage(name, opts...)
	if err != nil {
		return nil, err
	}
	if _, loaded := r.storages.LoadOrStore(name, s); loaded {
		return nil, errors.Wrap(ErrDuplicateStorage, name)
	}
	r.log.Debug("storage created", "storage", name, "capacity", s.Capacity(), "mode", s.Mode().String())
	return s, nil
}

func (r *Repository) Storage(name string) (*Storage, error) {
	s, ok := r.storages.Load(name)
	if !ok {
		return nil, errors.Wrap(ErrStorageNotFound, name)
	}
	return s, nil
}

// Storages returns the registered storages sorted by name.
func (r *Repository) Storages() []*Storage {
	out := make([]*Storage, 0, r.storages.Size())
	r.storages.Range(func(_ string, s *Storage) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *Repository) RegisterClass(c *Class) error {
	if c == nil {
		return errors.New("class can not be nil")
	}
	if _, loaded := r.classes.LoadOrStore(c.name, c); loaded {
		return errors.Wrap(ErrDuplicateClass, c.name)
	}
	return nil
}

func (r *Repository) Class(name string) (*Class, error) {
	c, ok := r.classes.Load(name)
	if !ok {
		return nil, errors.Wrap(ErrClassNotFound, name)
	}
	return c, nil
}

// Classes returns the registered classes sorted by name.
func (r *Repository) Classes() []*Class {
	out := make([]*Class, 0, r.classes.Size())
	r.classes.Range(func(_ string, c *Class) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *Repository) String() string {
	var names []string
	for _, s := range r.Storages() {
		names = append(names, s.name)
	}
	return fmt.Sprintf("persistence.Repository { Name=%s | Storages=[%s] | Classes=%d }",
		r.name, strings.Join(names, ","), r.classes.Size())
}
