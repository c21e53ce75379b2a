package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-persistence/cache"
	"github.com/goliatone/go-persistence/dbms"
	"github.com/pkg/errors"
)

const stripeCount = 64

// Storage is an identity cache of objects in front of a backing store.
//
// The cache owns every object it holds. Load hands out detached copies and
// View lends the cached object for the duration of a callback. Operations
// on the same key are serialized by a stripe lock held for the whole
// operation, while the cache map itself is only locked around lookups and
// updates. The ctx of an operation reaches the driver I/O; waiting on a
// stripe lock does not observe it.
type Storage struct {
	name string
	mode AccessMode
	cfg  cache.Config
	log  *slog.Logger

	mu    sync.Mutex
	store cache.Store[*Object]

	stripes [stripeCount]sync.Mutex

	hits      atomic.Int64
	faults    atomic.Int64
	refreshes atomic.Int64
	evictions atomic.Int64
	metrics   storageMetrics
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithCapacity sets the maximum number of cached objects.
func WithCapacity(n int) StorageOption {
	return func(s *Storage) { s.cfg.Capacity = n }
}

// WithCacheConfig replaces the whole cache configuration, capacity
// included. Apply it before WithCapacity when combining both.
func WithCacheConfig(cfg cache.Config) StorageOption {
	return func(s *Storage) { s.cfg = cfg }
}

func WithAccessMode(mode AccessMode) StorageOption {
	return func(s *Storage) { s.mode = mode }
}

func WithLogger(logger *slog.Logger) StorageOption {
	return func(s *Storage) {
		if logger != nil {
			s.log = logger
		}
	}
}

// NewStorage creates an empty storage. By default it holds 128 objects in
// an LRU cache and accepts writes.
func NewStorage(name string, opts ...StorageOption) (*Storage, error) {
	if name == "" {
		return nil, errors.New("storage name can not be empty")
	}

	s := &Storage{
		name:    name,
		mode:    ReadWrite,
		cfg:     cache.DefaultConfig(),
		log:     slog.Default(),
		metrics: newStorageMetrics(name),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("storage", name)

	store, err := cache.New[*Object](s.cfg, s.evicted)
	if err != nil {
		return nil, errors.Wrapf(err, "storage %s", name)
	}
	s.store = store
	return s, nil
}

func (s *Storage) Name() string         { return s.name }
func (s *Storage) Mode() AccessMode     { return s.mode }
func (s *Storage) Capacity() int        { return s.cfg.Capacity }
func (s *Storage) HitCount() int64      { return s.hits.Load() }
func (s *Storage) FaultCount() int64    { return s.faults.Load() }
func (s *Storage) RefreshCount() int64  { return s.refreshes.Load() }
func (s *Storage) EvictionCount() int64 { return s.evictions.Load() }

func (s *Storage) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Contains reports whether an object of class with key is cached. Recency
// is not touched.
func (s *Storage) Contains(class *Class, key *PrimaryKey) bool {
	if class == nil || key == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Contains(key.CacheKey(class.name))
}

// Purge drops every cached object. Counters are kept.
func (s *Storage) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Purge()
}

// Load returns a copy of the object identified by the loader key, reading
// it from the store on a miss.
func (s *Storage) Load(ctx context.Context, gc *dbms.GuardConnection, loader Loader) (*Object, error) {
	var out *Object
	err := s.View(ctx, gc, loader, func(obj *Object) error {
		out = obj.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// View runs fn with the cached object. fn must not keep the object nor
// call back into the storage for the same key.
func (s *Storage) View(ctx context.Context, gc *dbms.GuardConnection, loader Loader, fn func(*Object) error) error {
	if loader == nil {
		return errors.New("loader can not be nil")
	}
	key := loader.PrimaryKey()
	if key == nil {
		return errors.Wrapf(ErrKeyShapeMismatch, "%s: loader without key", loader.Name())
	}
	class := loader.Class()
	if class == nil {
		return errors.Errorf("%s: loader without class", loader.Name())
	}
	ck := key.CacheKey(class.name)

	lock := s.stripe(ck)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	obj, ok := s.store.Get(ck)
	s.mu.Unlock()

	if !ok {
		loaded, err := s.fault(ctx, gc, loader, ck)
		if err != nil {
			return err
		}
		return fn(loaded)
	}

	s.hits.Add(1)
	s.metrics.hits.Inc()
	s.log.Debug("hit", "key", ck)

	if s.mode == ReadWrite {
		if err := s.refresh(ctx, gc, loader, ck, obj); err != nil {
			return err
		}
	}
	return fn(obj)
}

func (s *Storage) fault(ctx context.Context, gc *dbms.GuardConnection, loader Loader, ck string) (*Object, error) {
	s.faults.Add(1)
	s.metrics.faults.Inc()
	s.log.Debug("fault", "key", ck)

	obj, err := loader.Class().CreateObject(loader.PrimaryKey())
	if err != nil {
		return nil, err
	}

	rc, err := run(gc, loader.Statement(), func(gs *dbms.GuardStatement) dbms.ResultCode {
		return loader.Apply(ctx, gs, obj)
	})
	if !rc.Successful() {
		return nil, newDatabaseError("load", loader.Name(), rc)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.store.Add(ck, obj)
	s.mu.Unlock()
	return obj, nil
}

// refresh asks the loader whether it wants fresh values and, if so, reads
// them into a working copy first. The cached object only changes on
// success.
func (s *Storage) refresh(ctx context.Context, gc *dbms.GuardConnection, loader Loader, ck string, obj *Object) error {
	gs, err := gc.Statement(loader.Statement())
	if err != nil {
		return err
	}

	wanted, err := loader.HasToRefresh(ctx, gs, obj)
	if err != nil {
		_ = gs.Close()
		return errors.Wrapf(err, "%s: refresh policy", loader.Name())
	}
	if !wanted {
		return gs.Close()
	}

	work := obj.Clone()
	rc := loader.Apply(ctx, gs, work)
	cerr := gs.Close()

	switch rc.Outcome {
	case dbms.Successful:
		if err := obj.AssignMembers(work); err != nil {
			return err
		}
		s.refreshes.Add(1)
		s.metrics.refreshes.Inc()
		s.log.Debug("refresh", "key", ck)
		s.mu.Lock()
		s.store.Get(ck)
		s.mu.Unlock()
		return cerr
	case dbms.NotFound:
		s.mu.Lock()
		s.store.Remove(ck)
		s.mu.Unlock()
		s.log.Debug("refresh found no record, entry dropped", "key", ck)
		return newDatabaseError("refresh", loader.Name(), rc)
	default:
		s.log.Warn("refresh failed, keeping cached object", "key", ck, "result", rc.String())
		return newDatabaseError("refresh", loader.Name(), rc)
	}
}

// Save writes the recorder object through to the store. When the key is
// cached the entry takes the written values; Save never inserts. If the
// guard later loses the write, by rollback or a failed commit, the entry is
// dropped so the next load reads the store again.
func (s *Storage) Save(ctx context.Context, gc *dbms.GuardConnection, recorder Recorder) error {
	if s.mode == ReadOnly {
		return errors.Wrap(ErrReadOnlyStorage, s.name)
	}
	if recorder == nil || recorder.Object() == nil {
		return errors.New("recorder without object")
	}
	obj := recorder.Object()
	ck := obj.key.CacheKey(obj.class.name)

	lock := s.stripe(ck)
	lock.Lock()
	defer lock.Unlock()

	rc, err := run(gc, recorder.Statement(), func(gs *dbms.GuardStatement) dbms.ResultCode {
		return recorder.Apply(ctx, gs)
	})
	if !rc.Successful() {
		return newDatabaseError("save", recorder.Name(), rc)
	}
	if err != nil {
		return err
	}
	gc.OnDiscard(func() { s.forget(ck) })

	s.mu.Lock()
	cached, ok := s.store.Get(ck)
	s.mu.Unlock()
	if ok {
		if err := cached.AssignMembers(obj); err != nil {
			return errors.Wrapf(err, "save %s", recorder.Name())
		}
		s.log.Debug("cached object updated", "key", ck)
	}

	if recorder.AutoCommit() {
		if err := gc.Commit(); err != nil {
			return errors.Wrapf(err, "save %s: commit", recorder.Name())
		}
	}
	return nil
}

// forget drops ck without touching the counters.
func (s *Storage) forget(ck string) {
	s.mu.Lock()
	removed := s.store.Remove(ck)
	s.mu.Unlock()
	if removed {
		s.log.Debug("uncommitted write discarded, entry dropped", "key", ck)
	}
}

// Erase deletes the record from the store and then drops the cached entry.
// A record the store does not know is still dropped from the cache, and
// reported as ErrNotLoaded.
func (s *Storage) Erase(ctx context.Context, gc *dbms.GuardConnection, eraser Eraser) error {
	if s.mode == ReadOnly {
		return errors.Wrap(ErrReadOnlyStorage, s.name)
	}
	if eraser == nil || eraser.PrimaryKey() == nil || eraser.Class() == nil {
		return errors.New("eraser without class or key")
	}
	ck := eraser.PrimaryKey().CacheKey(eraser.Class().name)

	lock := s.stripe(ck)
	lock.Lock()
	defer lock.Unlock()

	rc, err := run(gc, eraser.Statement(), func(gs *dbms.GuardStatement) dbms.ResultCode {
		return eraser.Apply(ctx, gs)
	})

	switch rc.Outcome {
	case dbms.Successful:
		if err != nil {
			return err
		}
		if eraser.AutoCommit() {
			if err := gc.Commit(); err != nil {
				return errors.Wrapf(err, "erase %s: commit", eraser.Name())
			}
		}
		s.drop(ck)
		return nil
	case dbms.NotFound:
		s.drop(ck)
		s.log.Warn("erase of a record not in the store", "key", ck)
		dberr := newDatabaseError("erase", eraser.Name(), rc)
		dberr.Err = ErrNotLoaded
		return dberr
	default:
		return newDatabaseError("erase", eraser.Name(), rc)
	}
}

// drop removes ck from the cache, counting a hit when it was there.
func (s *Storage) drop(ck string) {
	s.mu.Lock()
	removed := s.store.Remove(ck)
	s.mu.Unlock()

	if removed {
		s.hits.Add(1)
		s.metrics.hits.Inc()
		return
	}
	s.faults.Add(1)
	s.metrics.faults.Inc()
	s.log.Debug("erased object was not loaded", "key", ck)
}

func (s *Storage) evicted(key string) {
	s.evictions.Add(1)
	s.metrics.evictions.Inc()
	s.log.Debug("evicted", "key", key)
}

func (s *Storage) stripe(ck string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(ck)%stripeCount]
}

// run executes fn under a GuardStatement for stmt. A statement that can not
// be locked yields a Failed result carrying the error.
func run(gc *dbms.GuardConnection, stmt *dbms.Statement, fn func(*dbms.GuardStatement) dbms.ResultCode) (dbms.ResultCode, error) {
	gs, err := gc.Statement(stmt)
	if err != nil {
		return dbms.Failure(err), err
	}
	rc := fn(gs)
	return rc, gs.Close()
}

// Stats is a snapshot of the storage counters.
type Stats struct {
	Name      string
	Mode      AccessMode
	Capacity  int
	Size      int
	Hits      int64
	Faults    int64
	Refreshes int64
	Evictions int64
}

func (s *Storage) Stats() Stats {
	return Stats{
		Name:      s.name,
		Mode:      s.mode,
		Capacity:  s.cfg.Capacity,
		Size:      s.Size(),
		Hits:      s.hits.Load(),
		Faults:    s.faults.Load(),
		Refreshes: s.refreshes.Load(),
		Evictions: s.evictions.Load(),
	}
}

func (s *Storage) String() string {
	st := s.Stats()
	return fmt.Sprintf("persistence.Storage { Name=%s | Mode=%s | Capacity=%d | Size=%d | Hits=%d | Faults=%d }",
		st.Name, st.Mode, st.Capacity, st.Size, st.Hits, st.Faults)
}
