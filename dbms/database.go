package dbms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// MaxConnections bounds how many connections a Database accepts.
const MaxConnections = 32

// Database owns the connections and prepared statements of one driver.
type Database struct {
	name   string
	driver Driver
	log    *slog.Logger

	mu          sync.Mutex
	running     bool
	order       []*Connection
	connections *xsync.MapOf[string, *Connection]
	statements  *xsync.MapOf[string, *Statement]
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithLogger sets the logger used by the database and its connections.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(db *Database) {
		if logger != nil {
			db.log = logger
		}
	}
}

func NewDatabase(name string, driver Driver, opts ...DatabaseOption) *Database {
	db := &Database{
		name:        name,
		driver:      driver,
		log:         slog.Default(),
		connections: xsync.NewMapOf[string, *Connection](),
		statements:  xsync.NewMapOf[string, *Statement](),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.log = db.log.With("database", name, "driver", driver.Name())
	return db
}

func (db *Database) Name() string   { return db.name }
func (db *Database) Driver() Driver { return db.driver }

func (db *Database) IsRunning() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.running
}

// CreateConnection registers a connection. If the database is already
// running the connection is opened right away.
func (db *Database) CreateConnection(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(db.order) >= MaxConnections {
		return nil, errors.Wrapf(ErrTooManyConns, "%s accepts %d", db.name, MaxConnections)
	}
	if _, ok := db.connections.Load(cfg.Name); ok {
		return nil, errors.Wrapf(ErrDuplicateName, "connection %q", cfg.Name)
	}

	conn := newConnection(db, cfg)
	if db.running {
		if err := conn.Open(ctx); err != nil {
			return nil, err
		}
	}

	db.order = append(db.order, conn)
	db.connections.Store(cfg.Name, conn)
	db.log.Debug("connection created", "connection", cfg.Name, "user", cfg.User)
	return conn, nil
}

// CreateStatement prepares a statement through the driver. The field
// templates are cloned so callers may reuse them.
func (db *Database) CreateStatement(cfg StatementConfig) (*Statement, error) {
	if _, ok := db.statements.Load(cfg.Name); ok {
		return nil, errors.Wrapf(ErrDuplicateName, "statement %q", cfg.Name)
	}

	exec, err := db.driver.Prepare(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare %s", cfg.Name)
	}

	stmt := newStatement(cfg, exec)
	if _, loaded := db.statements.LoadOrStore(cfg.Name, stmt); loaded {
		_ = exec.Close()
		return nil, errors.Wrapf(ErrDuplicateName, "statement %q", cfg.Name)
	}
	db.log.Debug("statement created", "statement", cfg.Name, "kind", cfg.Kind)
	return stmt, nil
}

func (db *Database) Connection(name string) (*Connection, error) {
	conn, ok := db.connections.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "connection %q", name)
	}
	return conn, nil
}

func (db *Database) Statement(name string) (*Statement, error) {
	stmt, ok := db.statements.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "statement %q", name)
	}
	return stmt, nil
}

// Start opens every registered connection. It fails only when connections
// exist and none of them could be opened.
func (db *Database) Start(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	opened := 0
	var lastErr error
	for _, conn := range db.order {
		if err := conn.Open(ctx); err != nil {
			db.log.Error("cannot open connection", "connection", conn.Name(), "error", err)
			lastErr = err
			continue
		}
		opened++
	}

	if opened == 0 && lastErr != nil {
		return errors.Wrapf(lastErr, "%s: there is no connection available", db.name)
	}

	db.running = true
	db.log.Info("database initialized", "connections", opened)
	return nil
}

// Stop closes connections and releases statements.
func (db *Database) Stop() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	closed := 0
	for _, conn := range db.order {
		if err := conn.Close(); err != nil {
			db.log.Error("cannot close connection", "connection", conn.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	db.statements.Range(func(name string, stmt *Statement) bool {
		if err := stmt.exec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})

	db.log.Debug("database stopped", "closed", closed, "of", len(db.order))

	db.order = nil
	db.connections.Clear()
	db.statements.Clear()
	db.running = false
	return firstErr
}

func (db *Database) String() string {
	return fmt.Sprintf("dbms.Database { Name=%s | Driver=%s | Connections=%d | Statements=%d }",
		db.name, db.driver.Name(), db.connections.Size(), db.statements.Size())
}
