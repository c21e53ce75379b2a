// Package sqldb runs statements against any database/sql backend through
// bun. The sqlite3 and postgres drivers are registered on import.
//
// Statement expressions are plain SQL with bun's ? placeholders, which bun
// formats for the dialect of the pool: the same expression runs on sqlite
// and postgres. Inputs bind by position and query columns map to outputs by
// position.
//
// A session begins a bun.Tx on its first command and keeps it until commit
// or rollback. Queries run inside that transaction when it is open, so a
// session reads its own writes, and straight on the pool otherwise.
package sqldb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var ErrEmptyExpression = errors.New("empty sql expression")

// Driver implements dbms.Driver on top of a bun.DB.
type Driver struct {
	db   *bun.DB
	name string
	own  bool
}

var _ dbms.Driver = (*Driver)(nil)

// New wraps an existing pool. The caller keeps ownership of db. name picks
// the bun dialect: postgres for "postgres" and "pgx", sqlite otherwise.
func New(db *sql.DB, name string) *Driver {
	if name == "" {
		name = "sql"
	}
	return &Driver{db: bun.NewDB(db, dialect(name)), name: name}
}

// Open creates the pool with sql.Open and checks it is reachable.
func Open(ctx context.Context, driverName, dsn string) (*Driver, error) {
	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqldb: open %s", driverName)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, errors.Wrapf(err, "sqldb: ping %s", driverName)
	}
	d := New(sqldb, driverName)
	d.own = true
	return d, nil
}

func dialect(name string) schema.Dialect {
	switch name {
	case "postgres", "pgx":
		return pgdialect.New()
	default:
		return sqlitedialect.New()
	}
}

func (d *Driver) Name() string { return d.name }
func (d *Driver) Bun() *bun.DB { return d.db }
func (d *Driver) DB() *sql.DB  { return d.db.DB }

// Close closes the pool if the driver opened it.
func (d *Driver) Close() error {
	if !d.own {
		return nil
	}
	return d.db.Close()
}

func (d *Driver) Open(ctx context.Context, cfg dbms.ConnectionConfig) (dbms.Session, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "sqldb: connection %s", cfg.Name)
	}
	return &session{db: d.db}, nil
}

func (d *Driver) Prepare(cfg dbms.StatementConfig) (dbms.Executor, error) {
	if cfg.Expression == "" {
		return nil, errors.Wrap(ErrEmptyExpression, cfg.Name)
	}
	return &executor{query: cfg.Expression, kind: cfg.Kind}, nil
}

type session struct {
	db *bun.DB

	mu sync.Mutex
	tx *bun.Tx
}

// writer returns the open transaction, beginning one when needed.
func (s *session) writer(ctx context.Context) (bun.IDB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, errors.Wrap(err, "sqldb: begin")
		}
		s.tx = &tx
	}
	return s.tx, nil
}

// reader returns the open transaction, or the pool when there is none.
func (s *session) reader() bun.IDB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *session) take() *bun.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	s.tx = nil
	return tx
}

func (s *session) Commit(ctx context.Context) error {
	tx := s.take()
	if tx == nil {
		return nil
	}
	return errors.Wrap(tx.Commit(), "sqldb: commit")
}

func (s *session) Rollback(ctx context.Context) error {
	tx := s.take()
	if tx == nil {
		return nil
	}
	return errors.Wrap(tx.Rollback(), "sqldb: rollback")
}

func (s *session) Close() error {
	if tx := s.take(); tx != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return errors.Wrap(err, "sqldb: discard")
		}
	}
	return nil
}

type executor struct {
	query string
	kind  dbms.StatementKind

	rows [][]any
}

func (e *executor) Execute(ctx context.Context, sess dbms.Session, inputs []field.Value) dbms.ResultCode {
	s, ok := sess.(*session)
	if !ok {
		return dbms.Failure(errors.Errorf("sqldb: foreign session %T", sess))
	}

	args := make([]any, len(inputs))
	for i, in := range inputs {
		args[i] = in.Interface()
	}

	if e.kind == dbms.Command {
		conn, err := s.writer(ctx)
		if err != nil {
			return dbms.Failure(err)
		}
		return e.exec(ctx, conn, args)
	}
	return e.read(ctx, s.reader(), args)
}

func (e *executor) exec(ctx context.Context, conn bun.IDB, args []any) dbms.ResultCode {
	e.rows = nil
	res, err := conn.NewRaw(e.query, args...).Exec(ctx)
	if err != nil {
		return dbms.Failure(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbms.Failure(err)
	}
	if n == 0 {
		return dbms.Missing("no rows affected")
	}
	return dbms.Success()
}

// read formats the query with bun and scans every column generically, so
// rows keep the column order of the expression.
func (e *executor) read(ctx context.Context, conn bun.IDB, args []any) dbms.ResultCode {
	e.rows = nil
	rows, err := conn.QueryContext(ctx, e.query, args...)
	if err != nil {
		return dbms.Failure(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return dbms.Failure(err)
	}

	var buffered [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return dbms.Failure(err)
		}
		buffered = append(buffered, row)
	}
	if err := rows.Err(); err != nil {
		return dbms.Failure(err)
	}
	if len(buffered) == 0 {
		return dbms.Missing("no rows")
	}
	e.rows = buffered
	return dbms.Success()
}

func (e *executor) Fetch(ctx context.Context, outputs []field.Value) (bool, error) {
	if len(e.rows) == 0 {
		return false, nil
	}
	row := e.rows[0]
	e.rows = e.rows[1:]
	for i, out := range outputs {
		if i >= len(row) {
			break
		}
		if err := out.SetInterface(row[i]); err != nil {
			return false, errors.Wrapf(err, "column %d", i)
		}
	}
	return true, nil
}

func (e *executor) Close() error {
	e.rows = nil
	return nil
}
