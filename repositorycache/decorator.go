package repositorycache

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/pkg/errors"
)

// ErrOperationNotSupported is returned when the mapping has no statement
// for the requested operation.
var ErrOperationNotSupported = errors.New("operation not supported by mapping")

// Mapping describes how a record type T maps onto a persistence class and
// which statements read, write and delete it.
type Mapping[T any] struct {
	Class  *persistence.Class
	Loader *dbms.Statement
	// Saver and Eraser are optional. Without them Save and Delete return
	// ErrOperationNotSupported.
	Saver  *dbms.Statement
	Eraser *dbms.Statement

	// KeyOf copies the identity of record into key.
	KeyOf func(record T, key *persistence.PrimaryKey) error
	// FromObject builds a record from a cached object.
	FromObject func(obj *persistence.Object) (T, error)
	// ToObject copies record members into obj. Required with a Saver.
	ToObject func(record T, obj *persistence.Object) error

	// Refresh decides, on a cache hit, whether the object is read again.
	Refresh func(obj *persistence.Object) bool
	// AutoCommit commits after every successful Save and Delete.
	AutoCommit bool
}

func (m *Mapping[T]) Validate() error {
	err := validation.ValidateStruct(m,
		validation.Field(&m.Class, validation.Required),
		validation.Field(&m.Loader, validation.Required),
	)
	if err != nil {
		return err
	}
	switch {
	case m.KeyOf == nil:
		return errors.New("mapping: KeyOf is required")
	case m.FromObject == nil:
		return errors.New("mapping: FromObject is required")
	case m.Saver != nil && m.ToObject == nil:
		return errors.New("mapping: ToObject is required to save")
	}
	return nil
}

// CachedRepository is a typed view of a Storage. Reads are served from the
// storage cache and writes go through to the store.
type CachedRepository[T any] struct {
	storage *persistence.Storage
	mapping Mapping[T]
}

// New creates a CachedRepository over storage.
func New[T any](storage *persistence.Storage, mapping Mapping[T]) (*CachedRepository[T], error) {
	if storage == nil {
		return nil, errors.New("storage can not be nil")
	}
	if err := mapping.Validate(); err != nil {
		return nil, errors.Wrapf(err, "repository %s", storage.Name())
	}
	return &CachedRepository[T]{storage: storage, mapping: mapping}, nil
}

func (c *CachedRepository[T]) Storage() *persistence.Storage { return c.storage }

func (c *CachedRepository[T]) key(record T) (*persistence.PrimaryKey, error) {
	key := c.mapping.Class.CreatePrimaryKey()
	if err := c.mapping.KeyOf(record, key); err != nil {
		return nil, errors.Wrap(err, "key")
	}
	return key, nil
}

func (c *CachedRepository[T]) accessorOptions() []persistence.AccessorOption {
	var opts []persistence.AccessorOption
	if c.mapping.AutoCommit {
		opts = append(opts, persistence.WithAutoCommit())
	}
	if c.mapping.Refresh != nil {
		opts = append(opts, persistence.WithRefreshPolicy(c.mapping.Refresh))
	}
	return opts
}

// Get returns the record identified by the key fields of probe, with
// caching. Only the identity of probe is used.
func (c *CachedRepository[T]) Get(ctx context.Context, gc *dbms.GuardConnection, probe T) (T, error) {
	key, err := c.key(probe)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.GetByKey(ctx, gc, key)
}

// GetByKey returns the record identified by key, with caching.
func (c *CachedRepository[T]) GetByKey(ctx context.Context, gc *dbms.GuardConnection, key *persistence.PrimaryKey) (T, error) {
	var out T
	loader := persistence.NewPositionalLoader(c.mapping.Loader, c.mapping.Class, key, c.accessorOptions()...)
	err := c.storage.View(ctx, gc, loader, func(obj *persistence.Object) error {
		var err error
		out, err = c.mapping.FromObject(obj)
		return err
	})
	return out, err
}

// Save writes record to the store. A cached copy is updated, never created.
func (c *CachedRepository[T]) Save(ctx context.Context, gc *dbms.GuardConnection, record T) error {
	if c.mapping.Saver == nil {
		return errors.Wrap(ErrOperationNotSupported, "save")
	}
	key, err := c.key(record)
	if err != nil {
		return err
	}
	obj, err := c.mapping.Class.CreateObject(key)
	if err != nil {
		return err
	}
	if err := c.mapping.ToObject(record, obj); err != nil {
		return errors.Wrap(err, "to object")
	}
	recorder := persistence.NewPositionalRecorder(c.mapping.Saver, obj, c.accessorOptions()...)
	return c.storage.Save(ctx, gc, recorder)
}

// Delete removes record from the store and then from the cache.
func (c *CachedRepository[T]) Delete(ctx context.Context, gc *dbms.GuardConnection, record T) error {
	if c.mapping.Eraser == nil {
		return errors.Wrap(ErrOperationNotSupported, "delete")
	}
	key, err := c.key(record)
	if err != nil {
		return err
	}
	eraser := persistence.NewPositionalEraser(c.mapping.Eraser, c.mapping.Class, key, c.accessorOptions()...)
	return c.storage.Erase(ctx, gc, eraser)
}

// Contains reports whether record is cached.
func (c *CachedRepository[T]) Contains(record T) bool {
	key, err := c.key(record)
	if err != nil {
		return false
	}
	return c.storage.Contains(c.mapping.Class, key)
}
