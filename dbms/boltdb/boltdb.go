// Package boltdb stores rows in bbolt buckets encoded with msgpack.
//
// Expressions have the form "VERB BUCKET [KEYS]" where VERB is get, put or
// delete and KEYS is how many leading inputs form the key (default 1).
// put stores the remaining inputs as the row, get returns that row through
// the statement outputs.
//
// A session owns one writable bbolt transaction, begun by the first put or
// delete. bbolt admits a single writer, so writing sessions of different
// connections serialize on it until the holder commits or rolls back. A get
// reads through the session's writable transaction when one is open, and
// through a short read-only transaction otherwise.
package boltdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const DriverName = "bolt"

var ErrExpression = errors.New("invalid bolt expression")

// Options tune the underlying bbolt database.
type Options struct {
	Timeout time.Duration
	NoSync  bool
}

// Driver implements dbms.Driver over a bbolt file.
type Driver struct {
	bdb *bbolt.DB
}

var _ dbms.Driver = (*Driver)(nil)

func Open(path string, opt Options) (*Driver, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	bopt.NoSync = opt.NoSync

	bdb, err := bbolt.Open(path, 0o600, &bopt)
	if err != nil {
		return nil, errors.Wrapf(err, "boltdb: open %s", path)
	}
	return &Driver{bdb: bdb}, nil
}

func (d *Driver) Name() string    { return DriverName }
func (d *Driver) Bolt() *bbolt.DB { return d.bdb }
func (d *Driver) Close() error    { return d.bdb.Close() }

func (d *Driver) Open(ctx context.Context, cfg dbms.ConnectionConfig) (dbms.Session, error) {
	return &session{bdb: d.bdb}, nil
}

func (d *Driver) Prepare(cfg dbms.StatementConfig) (dbms.Executor, error) {
	parts := strings.Fields(cfg.Expression)
	if len(parts) < 2 || len(parts) > 3 {
		return nil, errors.Wrapf(ErrExpression, "%q", cfg.Expression)
	}
	verb, bucket := parts[0], parts[1]
	switch verb {
	case "get", "put", "delete":
	default:
		return nil, errors.Wrapf(ErrExpression, "unknown verb %q", verb)
	}

	keys := 1
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 1 {
			return nil, errors.Wrapf(ErrExpression, "key count %q", parts[2])
		}
		keys = n
	}
	if len(cfg.Inputs) < keys {
		return nil, errors.Wrapf(ErrExpression, "%s needs %d key inputs, has %d", cfg.Name, keys, len(cfg.Inputs))
	}

	err := d.bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "boltdb: bucket %s", bucket)
	}
	return &executor{verb: verb, bucket: []byte(bucket), keys: keys}, nil
}

// Put writes a committed row outside any session.
func (d *Driver) Put(bucket string, key []any, row []any) error {
	k, err := encode(key)
	if err != nil {
		return err
	}
	v, err := encode(row)
	if err != nil {
		return err
	}
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put(k, v)
	})
}

// Count reports the committed rows in bucket.
func (d *Driver) Count(bucket string) int {
	n := 0
	_ = d.bdb.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucket)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

type session struct {
	bdb *bbolt.DB

	mu sync.Mutex
	tx *bbolt.Tx
}

func (s *session) writer() (*bbolt.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		tx, err := s.bdb.Begin(true)
		if err != nil {
			return nil, errors.Wrap(err, "boltdb: begin")
		}
		s.tx = tx
	}
	return s.tx, nil
}

// read runs fn against the open writable transaction, so a session sees
// its own writes, or against a read-only snapshot when none is open.
func (s *session) read(fn func(*bbolt.Tx) error) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		return fn(tx)
	}
	return s.bdb.View(fn)
}

func (s *session) take() *bbolt.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	s.tx = nil
	return tx
}

func (s *session) Commit(ctx context.Context) error {
	if tx := s.take(); tx != nil {
		return errors.Wrap(tx.Commit(), "boltdb: commit")
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if tx := s.take(); tx != nil {
		return errors.Wrap(tx.Rollback(), "boltdb: rollback")
	}
	return nil
}

func (s *session) Close() error {
	return s.Rollback(context.Background())
}

type executor struct {
	verb   string
	bucket []byte
	keys   int

	row     []any
	fetched bool
}

func (e *executor) Execute(ctx context.Context, sess dbms.Session, inputs []field.Value) dbms.ResultCode {
	s, ok := sess.(*session)
	if !ok {
		return dbms.Failure(errors.Errorf("boltdb: foreign session %T", sess))
	}
	if err := ctx.Err(); err != nil {
		return dbms.Failure(err)
	}

	values := make([]any, len(inputs))
	for i, in := range inputs {
		values[i] = normalize(in.Interface())
	}
	key, err := encode(values[:e.keys])
	if err != nil {
		return dbms.Failure(err)
	}
	missing := dbms.Missing(fmt.Sprintf("%s: key %v not found", e.bucket, values[:e.keys]))

	e.row, e.fetched = nil, false
	if e.verb == "get" {
		var raw []byte
		err := s.read(func(tx *bbolt.Tx) error {
			b := tx.Bucket(e.bucket)
			if b == nil {
				return errors.Errorf("boltdb: bucket %s missing", e.bucket)
			}
			// Values are only valid for the life of the transaction.
			if v := b.Get(key); v != nil {
				raw = append([]byte(nil), v...)
			}
			return nil
		})
		if err != nil {
			return dbms.Failure(err)
		}
		if raw == nil {
			return missing
		}
		var row []any
		if err := msgpack.Unmarshal(raw, &row); err != nil {
			return dbms.Failure(errors.Wrap(err, "boltdb: decode row"))
		}
		e.row, e.fetched = row, true
		return dbms.Success()
	}

	tx, err := s.writer()
	if err != nil {
		return dbms.Failure(err)
	}
	b := tx.Bucket(e.bucket)
	if b == nil {
		return dbms.Failure(errors.Errorf("boltdb: bucket %s missing", e.bucket))
	}
	switch e.verb {
	case "put":
		raw, err := encode(values[e.keys:])
		if err != nil {
			return dbms.Failure(err)
		}
		if err := b.Put(key, raw); err != nil {
			return dbms.Failure(err)
		}
	case "delete":
		if b.Get(key) == nil {
			return missing
		}
		if err := b.Delete(key); err != nil {
			return dbms.Failure(err)
		}
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
			return false, errors.Wrapf(err, "column %d", i)
		}
	}
	return true, nil
}

func (e *executor) Close() error { return nil }

func encode(values []any) ([]byte, error) {
	b, err := msgpack.Marshal(normalizeAll(values))
	if err != nil {
		return nil, errors.Wrap(err, "boltdb: encode")
	}
	return b, nil
}

// normalize maps integer kinds to int64 so keys encode identically
// whatever type the caller used.
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
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	case time.Time:
		return n.UTC()
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
