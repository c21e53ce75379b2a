package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-persistence/cache"
	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/dbms/mockdb"
	"github.com/goliatone/go-persistence/field"
	"github.com/goliatone/go-persistence/persistence"
)

const preloaded = 100

type env struct {
	store   *mockdb.Store
	db      *dbms.Database
	conns   []*dbms.Connection
	class   *persistence.Class
	reader  *dbms.Statement
	writer  *dbms.Statement
	eraser  *dbms.Statement
	storage *persistence.Storage
}

func customerClass(t *testing.T) *persistence.Class {
	t.Helper()
	key, err := persistence.NewPrimaryKeyBuilder().Add(field.NewInteger("id")).Build()
	if err != nil {
		t.Fatalf("primary key: %v", err)
	}
	class, err := persistence.NewClassBuilder("customer").
		WithPrimaryKey(key).
		Add(field.NewString("name", 64)).
		Build()
	if err != nil {
		t.Fatalf("class: %v", err)
	}
	return class
}

func newEnv(t *testing.T, opts ...persistence.StorageOption) *env {
	return newEnvWithConns(t, 1, opts...)
}

func newEnvWithConns(t *testing.T, conns int, opts ...persistence.StorageOption) *env {
	t.Helper()
	ctx := context.Background()

	store := mockdb.New()
	store.CreateTable("customer", 1)
	for i := 0; i < preloaded; i++ {
		if err := store.Put("customer", int64(i), fmt.Sprintf("the name %d", i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	db := dbms.NewDatabase("test", store.Driver())
	e := &env{store: store, db: db, class: customerClass(t)}
	for i := 0; i < conns; i++ {
		conn, err := db.CreateConnection(ctx, dbms.ConnectionConfig{Name: fmt.Sprintf("conn-%d", i)})
		if err != nil {
			t.Fatalf("CreateConnection: %v", err)
		}
		e.conns = append(e.conns, conn)
	}

	id := field.NewInteger("id")
	nameField := field.NewString("name", 64)
	var err error
	e.reader, err = db.CreateStatement(dbms.StatementConfig{
		Name: "read_customer", Expression: "read customer", Kind: dbms.Query,
		Inputs: []field.Value{id}, Outputs: []field.Value{nameField},
	})
	if err != nil {
		t.Fatalf("CreateStatement(read): %v", err)
	}
	e.writer, err = db.CreateStatement(dbms.StatementConfig{
		Name: "write_customer", Expression: "write customer", Kind: dbms.Command,
		Inputs: []field.Value{id, nameField},
	})
	if err != nil {
		t.Fatalf("CreateStatement(write): %v", err)
	}
	e.eraser, err = db.CreateStatement(dbms.StatementConfig{
		Name: "delete_customer", Expression: "delete customer", Kind: dbms.Command,
		Inputs: []field.Value{id},
	})
	if err != nil {
		t.Fatalf("CreateStatement(delete): %v", err)
	}

	if err := db.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = db.Stop() })

	e.storage, err = persistence.NewStorage(t.Name(), opts...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return e
}

func evenIDs(o *persistence.Object) bool {
	id, err := o.Integer("id")
	return err == nil && id%2 == 0
}

func (e *env) key(t *testing.T, id int64) *persistence.PrimaryKey {
	t.Helper()
	pk := e.class.CreatePrimaryKey()
	if err := pk.SetInteger("id", id); err != nil {
		t.Fatalf("SetInteger: %v", err)
	}
	return pk
}

func (e *env) guard(t *testing.T, fn func(gc *dbms.GuardConnection) error) error {
	t.Helper()
	return dbms.WithGuard(context.Background(), e.conns[0], fn)
}

func (e *env) load(t *testing.T, id int64) (*persistence.Object, error) {
	t.Helper()
	loader := persistence.NewPositionalLoader(e.reader, e.class, e.key(t, id), persistence.WithRefreshPolicy(evenIDs))
	var obj *persistence.Object
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		var err error
		obj, err = e.storage.Load(context.Background(), gc, loader)
		return err
	})
	return obj, err
}

func (e *env) mustLoad(t *testing.T, id int64) *persistence.Object {
	t.Helper()
	obj, err := e.load(t, id)
	if err != nil {
		t.Fatalf("load %d: %v", id, err)
	}
	return obj
}

func (e *env) recorder(t *testing.T, id int64, name string, opts ...persistence.AccessorOption) *persistence.PositionalRecorder {
	t.Helper()
	obj, err := e.class.CreateObject(e.key(t, id))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := obj.SetText("name", name); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	return persistence.NewPositionalRecorder(e.writer, obj, opts...)
}

func (e *env) erase(t *testing.T, id int64, opts ...persistence.AccessorOption) error {
	t.Helper()
	eraser := persistence.NewPositionalEraser(e.eraser, e.class, e.key(t, id), opts...)
	return e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.Erase(context.Background(), gc, eraser)
	})
}

func nameOf(t *testing.T, obj *persistence.Object) string {
	t.Helper()
	v, err := obj.Text("name")
	if err != nil {
		t.Fatalf("Text(name): %v", err)
	}
	return v
}

func expectCounts(t *testing.T, s *persistence.Storage, faults, hits int64) {
	t.Helper()
	if s.FaultCount() != faults || s.HitCount() != hits {
		t.Fatalf("expected faults=%d hits=%d, got faults=%d hits=%d", faults, hits, s.FaultCount(), s.HitCount())
	}
}

func TestStorageRead(t *testing.T) {
	e := newEnv(t)

	obj := e.mustLoad(t, 6)
	if got := nameOf(t, obj); got != "the name 6" {
		t.Fatalf("expected 'the name 6', got %q", got)
	}
	expectCounts(t, e.storage, 1, 0)

	e.mustLoad(t, 6)
	expectCounts(t, e.storage, 1, 1)

	e.mustLoad(t, 7)
	e.mustLoad(t, 7)
	expectCounts(t, e.storage, 2, 2)

	if e.storage.Size() != 2 {
		t.Fatalf("expected 2 cached objects, got %d", e.storage.Size())
	}
}

func TestStorageReload(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 6)
	if err := e.store.Put("customer", 6, "updated name"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj := e.mustLoad(t, 6)
	if got := nameOf(t, obj); got != "updated name" {
		t.Fatalf("expected refreshed name, got %q", got)
	}
	expectCounts(t, e.storage, 1, 1)
	if e.storage.RefreshCount() != 1 {
		t.Fatalf("expected 1 refresh, got %d", e.storage.RefreshCount())
	}
}

func TestStorageNoReload(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 7)
	if err := e.store.Put("customer", 7, "updated name"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	execs := e.reader.ExecCount()

	obj := e.mustLoad(t, 7)
	if got := nameOf(t, obj); got != "the name 7" {
		t.Fatalf("expected cached name, got %q", got)
	}
	if e.reader.ExecCount() != execs {
		t.Fatalf("hit without refresh must not execute, executions went %d -> %d", execs, e.reader.ExecCount())
	}
	expectCounts(t, e.storage, 1, 1)
}

func TestStorageReloadErased(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 6)
	e.store.Delete("customer", 6)

	_, err := e.load(t, 6)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectCounts(t, e.storage, 1, 1)
	if e.storage.Contains(e.class, e.key(t, 6)) {
		t.Fatal("erased row must leave the cache on refresh")
	}
}

func TestStorageNoReloadErased(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 7)
	e.store.Delete("customer", 7)

	obj, err := e.load(t, 7)
	if err != nil {
		t.Fatalf("expected cached object, got %v", err)
	}
	if got := nameOf(t, obj); got != "the name 7" {
		t.Fatalf("unexpected name %q", got)
	}
	expectCounts(t, e.storage, 1, 1)
}

func TestStorageReadNotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.load(t, 6000)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, persistence.ErrDatabaseOperationFailed) {
		t.Fatalf("expected ErrDatabaseOperationFailed, got %v", err)
	}
	var dberr *persistence.DatabaseError
	if !errors.As(err, &dberr) || dberr.Op != "load" {
		t.Fatalf("expected load DatabaseError, got %#v", err)
	}
	expectCounts(t, e.storage, 1, 0)
	if e.storage.Size() != 0 {
		t.Fatalf("failed load must not be cached, size %d", e.storage.Size())
	}
}

func TestStorageRefreshFailureKeepsEntry(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 6)
	e.store.FailKey("customer", 6)

	_, err := e.load(t, 6)
	if !errors.Is(err, persistence.ErrDatabaseOperationFailed) {
		t.Fatalf("expected ErrDatabaseOperationFailed, got %v", err)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("failure must not read as not found: %v", err)
	}
	if !errors.Is(err, mockdb.ErrInjected) {
		t.Fatalf("expected driver cause, got %v", err)
	}
	if !e.storage.Contains(e.class, e.key(t, 6)) {
		t.Fatal("stale object must stay cached after a failed refresh")
	}

	e.store.ClearFailures()
	if got := nameOf(t, e.mustLoad(t, 6)); got != "the name 6" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestStorageWrite(t *testing.T) {
	e := newEnv(t)

	rec := e.recorder(t, 5555, "new customer", persistence.WithAutoCommit())
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		if err := e.storage.Save(context.Background(), gc, rec); err != nil {
			return err
		}
		if gc.PendingCount() != 0 {
			t.Errorf("auto commit must leave nothing pending, got %d", gc.PendingCount())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if e.store.Size("customer") != preloaded+1 {
		t.Fatalf("expected %d rows, got %d", preloaded+1, e.store.Size("customer"))
	}
	expectCounts(t, e.storage, 0, 0)
	if e.storage.Size() != 0 {
		t.Fatal("save must not insert into the cache")
	}

	obj := e.mustLoad(t, 5555)
	if got := nameOf(t, obj); got != "new customer" {
		t.Fatalf("unexpected name %q", got)
	}
	expectCounts(t, e.storage, 1, 0)
}

func TestStorageSaveUpdatesCachedObject(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 7)
	rec := e.recorder(t, 7, "renamed")
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.Save(context.Background(), gc, rec)
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// 7 is never refreshed, so the name comes from the cached entry.
	if got := nameOf(t, e.mustLoad(t, 7)); got != "renamed" {
		t.Fatalf("expected read after write, got %q", got)
	}
	row, _ := e.store.Get("customer", 7)
	if row[1] != "renamed" {
		t.Fatalf("expected committed row, got %v", row)
	}
}

func TestStorageErasePreloaded(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 6)
	if err := e.erase(t, 6, persistence.WithAutoCommit()); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	expectCounts(t, e.storage, 1, 1)
	if e.store.Size("customer") != preloaded-1 {
		t.Fatalf("expected %d rows, got %d", preloaded-1, e.store.Size("customer"))
	}

	if _, err := e.load(t, 6); err == nil {
		t.Fatal("expected erased object to be gone")
	}
	expectCounts(t, e.storage, 2, 1)
}

func TestStorageEraseNotLoaded(t *testing.T) {
	e := newEnv(t)

	if err := e.erase(t, 6, persistence.WithAutoCommit()); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	expectCounts(t, e.storage, 1, 0)
	if e.store.Size("customer") != preloaded-1 {
		t.Fatalf("expected %d rows, got %d", preloaded-1, e.store.Size("customer"))
	}

	if _, err := e.load(t, 6); err == nil {
		t.Fatal("expected erased object to be gone")
	}
	expectCounts(t, e.storage, 2, 0)
}

func TestStorageEraseMissing(t *testing.T) {
	e := newEnv(t)

	err := e.erase(t, 6000)
	if !errors.Is(err, persistence.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if e.store.Size("customer") != preloaded {
		t.Fatalf("expected %d rows, got %d", preloaded, e.store.Size("customer"))
	}
}

func TestStorageEraseFailure(t *testing.T) {
	e := newEnv(t)

	e.mustLoad(t, 7)
	e.store.FailKey("customer", 7)

	err := e.erase(t, 7)
	if !errors.Is(err, persistence.ErrDatabaseOperationFailed) {
		t.Fatalf("expected ErrDatabaseOperationFailed, got %v", err)
	}
	if !e.storage.Contains(e.class, e.key(t, 7)) {
		t.Fatal("failed erase must leave the cache untouched")
	}
}

func TestStorageSaveCommitBatching(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	start := e.conns[0].CommitCount()

	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		gc.SetMaxCommitPending(64)
		for i := int64(200); i < 200+3*64; i++ {
			if err := e.storage.Save(ctx, gc, e.recorder(t, i, fmt.Sprintf("batch %d", i))); err != nil {
				return err
			}
		}
		if got := e.conns[0].CommitCount() - start; got != 3 {
			t.Errorf("expected 3 commits, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := e.conns[0].CommitCount() - start; got != 3 {
		t.Fatalf("nothing should be left to commit on close, got %d commits", got)
	}
	if e.store.Size("customer") != preloaded+192 {
		t.Fatalf("expected %d rows, got %d", preloaded+192, e.store.Size("customer"))
	}
}

func TestStorageEraseCommitBatching(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	start := e.conns[0].CommitCount()

	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		gc.SetMaxCommitPending(16)
		for i := int64(10); i < 10+3*16; i++ {
			eraser := persistence.NewPositionalEraser(e.eraser, e.class, e.key(t, i))
			if err := e.storage.Erase(ctx, gc, eraser); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if got := e.conns[0].CommitCount() - start; got != 3 {
		t.Fatalf("expected 3 commits, got %d", got)
	}
	if e.store.Size("customer") != preloaded-48 {
		t.Fatalf("expected %d rows, got %d", preloaded-48, e.store.Size("customer"))
	}
}

func TestStorageReadOnly(t *testing.T) {
	e := newEnv(t, persistence.WithAccessMode(persistence.ReadOnly))
	ctx := context.Background()

	e.mustLoad(t, 6)
	if err := e.store.Put("customer", 6, "updated name"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := nameOf(t, e.mustLoad(t, 6)); got != "the name 6" {
		t.Fatalf("read only storage must not refresh, got %q", got)
	}
	expectCounts(t, e.storage, 1, 1)

	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.Save(ctx, gc, e.recorder(t, 6, "x"))
	})
	if !errors.Is(err, persistence.ErrReadOnlyStorage) {
		t.Fatalf("expected ErrReadOnlyStorage from Save, got %v", err)
	}
	if err := e.erase(t, 6); !errors.Is(err, persistence.ErrReadOnlyStorage) {
		t.Fatalf("expected ErrReadOnlyStorage from Erase, got %v", err)
	}
	if e.store.Size("customer") != preloaded {
		t.Fatal("read only storage must not reach the store")
	}
}

func TestStorageView(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	loader := persistence.NewPositionalLoader(e.reader, e.class, e.key(t, 7))

	var seen string
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.View(ctx, gc, loader, func(obj *persistence.Object) error {
			seen = nameOf(t, obj)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if seen != "the name 7" {
		t.Fatalf("unexpected name %q", seen)
	}

	boom := errors.New("boom")
	err = e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.View(ctx, gc, loader, func(*persistence.Object) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	expectCounts(t, e.storage, 1, 1)
}

func TestStorageLoadReturnsCopy(t *testing.T) {
	e := newEnv(t)

	obj := e.mustLoad(t, 7)
	if err := obj.SetText("name", "local change"); err != nil {
		t.Fatalf("SetText: %v", err)
	}

	again := e.mustLoad(t, 7)
	if got := nameOf(t, again); got != "the name 7" {
		t.Fatalf("cached object changed through a copy: %q", got)
	}
	if again.ID() != obj.ID() {
		t.Fatal("copies of the same cached object share an ID")
	}
}

func TestStorageCapacity(t *testing.T) {
	e := newEnv(t, persistence.WithCapacity(3))

	for _, id := range []int64{1, 3, 5} {
		e.mustLoad(t, id)
	}
	e.mustLoad(t, 1)
	e.mustLoad(t, 7)

	if e.storage.Size() != 3 {
		t.Fatalf("expected 3 cached objects, got %d", e.storage.Size())
	}
	if e.storage.EvictionCount() != 1 {
		t.Fatalf("expected 1 eviction, got %d", e.storage.EvictionCount())
	}
	if !e.storage.Contains(e.class, e.key(t, 1)) {
		t.Fatal("recently used object was evicted")
	}
	if e.storage.Contains(e.class, e.key(t, 3)) {
		t.Fatal("least recently used object should be evicted")
	}
}

func TestStorageShardedPolicy(t *testing.T) {
	cfg := cache.Config{
		Capacity:           64,
		Policy:             cache.PolicySharded,
		NumShards:          4,
		TTL:                time.Hour,
		EvictionPercentage: 10,
	}
	e := newEnv(t, persistence.WithCacheConfig(cfg))

	e.mustLoad(t, 7)
	e.mustLoad(t, 7)
	expectCounts(t, e.storage, 1, 1)
	if e.storage.Capacity() != 64 {
		t.Fatalf("expected capacity 64, got %d", e.storage.Capacity())
	}
}

func TestStorageKeyShapeMismatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	textKey, err := persistence.NewPrimaryKeyBuilder().Add(field.NewString("id", 8)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wideKey, err := persistence.NewPrimaryKeyBuilder().
		Add(field.NewInteger("id"), field.NewInteger("branch")).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, key := range []*persistence.PrimaryKey{textKey, wideKey} {
		loader := persistence.NewPositionalLoader(e.reader, e.class, key)
		err := e.guard(t, func(gc *dbms.GuardConnection) error {
			_, err := e.storage.Load(ctx, gc, loader)
			return err
		})
		if !errors.Is(err, persistence.ErrKeyShapeMismatch) {
			t.Fatalf("expected ErrKeyShapeMismatch for %s, got %v", key, err)
		}
	}
	if e.storage.Size() != 0 {
		t.Fatal("mismatched keys must not be cached")
	}
}

func TestStoragePurgeAndStats(t *testing.T) {
	e := newEnv(t, persistence.WithCapacity(10))

	e.mustLoad(t, 1)
	e.mustLoad(t, 2)
	e.mustLoad(t, 2)

	stats := e.storage.Stats()
	if stats.Size != 2 || stats.Hits != 1 || stats.Faults != 2 || stats.Refreshes != 1 || stats.Capacity != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Mode != persistence.ReadWrite {
		t.Fatalf("unexpected mode %s", stats.Mode)
	}

	e.storage.Purge()
	if e.storage.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", e.storage.Size())
	}
	if e.storage.FaultCount() != 2 {
		t.Fatal("purge must keep counters")
	}
}

func TestNewStorageValidation(t *testing.T) {
	if _, err := persistence.NewStorage(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := persistence.NewStorage("zero", persistence.WithCapacity(0)); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestStorageConcurrentLoads(t *testing.T) {
	const workers = 4
	e := newEnvWithConns(t, workers)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(conn *dbms.Connection) {
			defer wg.Done()
			errs <- dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
				for id := int64(1); id < 20; id += 2 {
					loader := persistence.NewPositionalLoader(e.reader, e.class, e.key(t, id))
					if _, err := e.storage.Load(ctx, gc, loader); err != nil {
						return err
					}
				}
				return nil
			})
		}(e.conns[w])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
	}

	// Each key faults exactly once, every other access is a hit.
	expectCounts(t, e.storage, 10, 10*(workers-1))
}

func TestStorageSaveRolledBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.mustLoad(t, 7)
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		if err := e.storage.Save(ctx, gc, e.recorder(t, 7, "never committed")); err != nil {
			return err
		}
		return gc.Rollback()
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	row, _ := e.store.Get("customer", 7)
	if row[1] != "the name 7" {
		t.Fatalf("rolled back write reached the store: %v", row)
	}
	if e.storage.Contains(e.class, e.key(t, 7)) {
		t.Fatal("entry holding a rolled back write still cached")
	}
	if got := nameOf(t, e.mustLoad(t, 7)); got != "the name 7" {
		t.Fatalf("load after rollback = %q, want the store value", got)
	}
}

func TestStorageSaveThenLoadRolledBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// 9 is not cached when saved; the load in the same guard reads the
	// session's uncommitted row.
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		if err := e.storage.Save(ctx, gc, e.recorder(t, 9, "pending")); err != nil {
			return err
		}
		loader := persistence.NewPositionalLoader(e.reader, e.class, e.key(t, 9))
		obj, err := e.storage.Load(ctx, gc, loader)
		if err != nil {
			return err
		}
		if got := nameOf(t, obj); got != "pending" {
			t.Errorf("in-guard load = %q, want pending", got)
		}
		return gc.Rollback()
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if got := nameOf(t, e.mustLoad(t, 9)); got != "the name 9" {
		t.Fatalf("load after rollback = %q, want the store value", got)
	}
}

func TestStorageSaveCommittedKeepsEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.mustLoad(t, 7)
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		if err := e.storage.Save(ctx, gc, e.recorder(t, 7, "committed", persistence.WithAutoCommit())); err != nil {
			return err
		}
		// Nothing is left to lose; a rollback now must not drop the entry.
		return gc.Rollback()
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !e.storage.Contains(e.class, e.key(t, 7)) {
		t.Fatal("committed entry dropped")
	}
	if got := nameOf(t, e.mustLoad(t, 7)); got != "committed" {
		t.Fatalf("name = %q, want committed", got)
	}
}

func TestStorageConcurrentEraseAndLoad(t *testing.T) {
	const (
		loaders = 3
		rounds  = 50
		id      = 7
	)
	e := newEnvWithConns(t, loaders+1)
	ctx := context.Background()

	for round := 0; round < rounds; round++ {
		if err := e.store.Put("customer", int64(id), "back again"); err != nil {
			t.Fatal(err)
		}
		e.mustLoad(t, id)

		var erased atomic.Bool
		var wg sync.WaitGroup
		stale := make(chan string, loaders)

		wg.Add(1)
		go func() {
			defer wg.Done()
			eraser := persistence.NewPositionalEraser(e.eraser, e.class, e.key(t, id), persistence.WithAutoCommit())
			err := dbms.WithGuard(ctx, e.conns[loaders], func(gc *dbms.GuardConnection) error {
				return e.storage.Erase(ctx, gc, eraser)
			})
			if err != nil {
				t.Errorf("round %d: Erase: %v", round, err)
				return
			}
			erased.Store(true)
		}()

		for w := 0; w < loaders; w++ {
			wg.Add(1)
			go func(conn *dbms.Connection) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					after := erased.Load()
					var obj *persistence.Object
					err := dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
						var err error
						obj, err = e.storage.Load(ctx, gc, persistence.NewPositionalLoader(e.reader, e.class, e.key(t, id)))
						return err
					})
					if err == nil && after {
						name, _ := obj.Text("name")
						stale <- name
						return
					}
					if err != nil && !errors.Is(err, persistence.ErrNotFound) {
						t.Errorf("Load: %v", err)
						return
					}
				}
			}(e.conns[w])
		}

		wg.Wait()
		close(stale)
		for name := range stale {
			t.Fatalf("round %d: load returned %q after the erase reported success", round, name)
		}
		if e.storage.Contains(e.class, e.key(t, id)) {
			t.Fatalf("round %d: erased key still cached", round)
		}
	}
}

func TestStorageOperationContextReachesDriver(t *testing.T) {
	e := newEnv(t)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.guard(t, func(gc *dbms.GuardConnection) error {
		loader := persistence.NewPositionalLoader(e.reader, e.class, e.key(t, 3))
		_, err := e.storage.Load(canceled, gc, loader)
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Load with canceled ctx err = %v, want context.Canceled", err)
	}
	if e.storage.Contains(e.class, e.key(t, 3)) {
		t.Fatal("canceled load cached an object")
	}

	err = e.guard(t, func(gc *dbms.GuardConnection) error {
		return e.storage.Save(canceled, gc, e.recorder(t, 3, "late"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Save with canceled ctx err = %v, want context.Canceled", err)
	}
	row, _ := e.store.Get("customer", 3)
	if row[1] != "the name 3" {
		t.Fatalf("canceled save reached the store: %v", row)
	}
}

func TestStorageClassesDoNotShareEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	key, _ := persistence.NewPrimaryKeyBuilder().Add(field.NewInteger("id")).Build()
	supplier, err := persistence.NewClassBuilder("supplier").
		WithPrimaryKey(key).
		Add(field.NewString("name", 64)).
		Build()
	if err != nil {
		t.Fatalf("class: %v", err)
	}

	e.mustLoad(t, 7)
	pk := supplier.CreatePrimaryKey()
	_ = pk.SetInteger("id", 7)
	var obj *persistence.Object
	err = e.guard(t, func(gc *dbms.GuardConnection) error {
		var err error
		obj, err = e.storage.Load(ctx, gc, persistence.NewPositionalLoader(e.reader, supplier, pk))
		return err
	})
	if err != nil {
		t.Fatalf("Load supplier: %v", err)
	}
	if obj.Class() != supplier {
		t.Fatalf("load returned a %s", obj.Class().Name())
	}
	expectCounts(t, e.storage, 2, 0)
	if e.storage.Size() != 2 {
		t.Fatalf("expected one entry per class, got %d", e.storage.Size())
	}
	if !e.storage.Contains(e.class, e.key(t, 7)) || !e.storage.Contains(supplier, pk) {
		t.Fatal("both classes must stay cached")
	}
}
