// Package mockdb is an in-memory transactional driver. Writes are buffered
// per session and become visible to other sessions on commit, which makes
// it suitable for exercising commit batching in tests.
//
// Expressions name a verb and a table: "read customer", "write customer",
// "delete customer". The first keyColumns inputs of every statement form
// the row key; write statements carry the whole row as inputs and read
// statements return the non-key columns as outputs.
package mockdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

// DriverName is reported by Driver.Name.
const DriverName = "mock"

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrInjected     = errors.New("injected failure")
)

type table struct {
	keyColumns int
	rows       map[string][]any
}

// Store holds committed rows.
type Store struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures map[string]struct{}

	commits   atomic.Int64
	rollbacks atomic.Int64
}

func New() *Store {
	return &Store{
		tables:   make(map[string]*table),
		failures: make(map[string]struct{}),
	}
}

// CreateTable declares a table whose first keyColumns values are the key.
func (s *Store) CreateTable(name string, keyColumns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keyColumns < 1 {
		keyColumns = 1
	}
	s.tables[name] = &table{keyColumns: keyColumns, rows: make(map[string][]any)}
}

// Put writes a committed row directly, bypassing sessions.
func (s *Store) Put(tableName string, values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return errors.Wrap(ErrUnknownTable, tableName)
	}
	if len(values) < t.keyColumns {
		return errors.Errorf("%s requires %d key values", tableName, t.keyColumns)
	}
	row := normalizeAll(values)
	t.rows[encodeKey(row[:t.keyColumns])] = row
	return nil
}

// Delete removes a committed row directly.
func (s *Store) Delete(tableName string, key ...any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return false
	}
	k := encodeKey(normalizeAll(key))
	_, found := t.rows[k]
	delete(t.rows, k)
	return found
}

// Get returns a copy of a committed row.
func (s *Store) Get(tableName string, key ...any) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return nil, false
	}
	row, found := t.rows[encodeKey(normalizeAll(key))]
	return append([]any(nil), row...), found
}

func (s *Store) Size(tableName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[tableName]; ok {
		return len(t.rows)
	}
	return 0
}

// FailKey makes every statement touching key answer Failed.
func (s *Store) FailKey(tableName string, key ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[tableName+"\x00"+encodeKey(normalizeAll(key))] = struct{}{}
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]struct{})
}

func (s *Store) CommitCount() int64   { return s.commits.Load() }
func (s *Store) RollbackCount() int64 { return s.rollbacks.Load() }

// Driver returns a dbms.Driver backed by this store.
func (s *Store) Driver() *Driver { return &Driver{store: s} }

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	table string
	key   string
	row   []any
}

// Driver implements dbms.Driver.
type Driver struct {
	store *Store
}

var _ dbms.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return DriverName }

func (d *Driver) Open(ctx context.Context, cfg dbms.ConnectionConfig) (dbms.Session, error) {
	return &session{store: d.store, name: cfg.Name}, nil
}

func (d *Driver) Prepare(cfg dbms.StatementConfig) (dbms.Executor, error) {
	parts := strings.Fields(cfg.Expression)
	if len(parts) != 2 {
		return nil, errors.Errorf("mockdb: expression %q must be \"VERB TABLE\"", cfg.Expression)
	}
	verb, tableName := parts[0], parts[1]
	switch verb {
	case "read", "write", "delete":
	default:
		return nil, errors.Errorf("mockdb: unknown verb %q", verb)
	}

	d.store.mu.Lock()
	t, ok := d.store.tables[tableName]
	d.store.mu.Unlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownTable, tableName)
	}
	if len(cfg.Inputs) < t.keyColumns {
		return nil, errors.Errorf("mockdb: %s needs %d key inputs, has %d", cfg.Name, t.keyColumns, len(cfg.Inputs))
	}
	return &executor{store: d.store, verb: verb, table: tableName, keyColumns: t.keyColumns}, nil
}

type session struct {
	store   *Store
	name    string
	mu      sync.Mutex
	pending []op
}

func (s *session) add(o op) {
	s.mu.Lock()
	s.pending = append(s.pending, o)
	s.mu.Unlock()
}

// lookup resolves a key against this session's pending writes first.
func (s *session) lookup(tableName, key string) ([]any, bool) {
	s.mu.Lock()
	for i := len(s.pending) - 1; i >= 0; i-- {
		o := s.pending[i]
		if o.table != tableName || o.key != key {
			continue
		}
		s.mu.Unlock()
		if o.kind == opDelete {
			return nil, false
		}
		return o.row, true
	}
	s.mu.Unlock()

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	row, ok := s.store.tables[tableName].rows[key]
	return row, ok
}

func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.store.mu.Lock()
	for _, o := range ops {
		t := s.store.tables[o.table]
		switch o.kind {
		case opPut:
			t.rows[o.key] = o.row
		case opDelete:
			delete(t.rows, o.key)
		}
	}
	s.store.mu.Unlock()

	s.store.commits.Add(1)
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.store.rollbacks.Add(1)
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

type executor struct {
	store      *Store
	verb       string
	table      string
	keyColumns int

	row     []any
	fetched bool
}

func (e *executor) Execute(ctx context.Context, sess dbms.Session, inputs []field.Value) dbms.ResultCode {
	s, ok := sess.(*session)
	if !ok {
		return dbms.Failure(errors.Errorf("mockdb: foreign session %T", sess))
	}

	values := make([]any, len(inputs))
	for i, in := range inputs {
		values[i] = normalize(in.Interface())
	}
	key := encodeKey(values[:e.keyColumns])

	e.store.mu.Lock()
	_, fail := e.store.failures[e.table+"\x00"+key]
	e.store.mu.Unlock()
	if fail {
		return dbms.Failure(errors.Wrapf(ErrInjected, "%s %s", e.verb, key))
	}

	switch e.verb {
	case "read":
		e.row, e.fetched = nil, false
		row, found := s.lookup(e.table, key)
		if !found {
			return dbms.Missing(fmt.Sprintf("%s: key %s not found", e.table, key))
		}
		e.row = append([]any(nil), row[e.keyColumns:]...)
		e.fetched = true
	case "write":
		s.add(op{kind: opPut, table: e.table, key: key, row: values})
	case "delete":
		if _, found := s.lookup(e.table, key); !found {
			return dbms.Missing(fmt.Sprintf("%s: key %s not found", e.table, key))
		}
		s.add(op{kind: opDelete, table: e.table, key: key})
	}
	return dbms.Success()
}

func (e *executor) Fetch(ctx context.Context, outputs []field.Value) (bool, error) {
	if !e.fetched {
		return false, nil
	}
	e.fetched = false
	for i, out := range outputs {
		if i >= len(e.row) {
			break
		}
		if err := out.SetInterface(e.row[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *executor) Close() error { return nil }

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

func normalizeAll(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalize(v)
	}
	return out
}

func encodeKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}
