package dbms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

// Connection is one named channel to the store. Exclusive use is obtained
// through a GuardConnection.
type Connection struct {
	db  *Database
	cfg ConnectionConfig
	log *slog.Logger

	// sem is held by the active GuardConnection.
	sem chan struct{}

	mu      sync.Mutex
	session Session

	commits   atomic.Int64
	rollbacks atomic.Int64

	commitMetric *metrics.Counter
}

func newConnection(db *Database, cfg ConnectionConfig) *Connection {
	return &Connection{
		db:  db,
		cfg: cfg,
		log: db.log.With("connection", cfg.Name),
		sem: make(chan struct{}, 1),
		commitMetric: metrics.GetOrCreateCounter(fmt.Sprintf(
			`persistence_connection_commits_total{database=%q,connection=%q}`, db.name, cfg.Name)),
	}
}

func (c *Connection) Name() string        { return c.cfg.Name }
func (c *Connection) Database() *Database { return c.db }

func (c *Connection) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Open starts a session with the driver. Opening an open connection is a
// no-op.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	session, err := c.db.driver.Open(ctx, c.cfg)
	if err != nil {
		return errors.Wrapf(err, "open connection %s", c.cfg.Name)
	}
	c.session = session
	c.log.Debug("connection opened")
	return nil
}

// Close ends the session. Uncommitted work is left to the driver, which
// discards it.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.log.Debug("connection closed")
	return err
}

// CommitCount reports how many commits reached the store.
func (c *Connection) CommitCount() int64   { return c.commits.Load() }
func (c *Connection) RollbackCount() int64 { return c.rollbacks.Load() }

func (c *Connection) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) release() { <-c.sem }

func (c *Connection) current() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, errors.Wrap(ErrConnectionClosed, c.cfg.Name)
	}
	return c.session, nil
}

func (c *Connection) execute(ctx context.Context, stmt *Statement) ResultCode {
	session, err := c.current()
	if err != nil {
		return Failure(err)
	}
	return stmt.exec.Execute(ctx, session, stmt.inputs)
}

func (c *Connection) commit(ctx context.Context) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	if err := session.Commit(ctx); err != nil {
		return errors.Wrapf(err, "commit %s", c.cfg.Name)
	}
	c.commits.Add(1)
	c.commitMetric.Inc()
	return nil
}

func (c *Connection) rollback(ctx context.Context) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	if err := session.Rollback(ctx); err != nil {
		return errors.Wrapf(err, "rollback %s", c.cfg.Name)
	}
	c.rollbacks.Add(1)
	return nil
}

// discard ends the session transaction without counting a rollback.
func (c *Connection) discard(ctx context.Context) error {
	session, err := c.current()
	if err != nil {
		return nil
	}
	if err := session.Rollback(ctx); err != nil {
		return errors.Wrapf(err, "discard %s", c.cfg.Name)
	}
	return nil
}

func (c *Connection) String() string {
	return fmt.Sprintf("dbms.Connection { Name=%s | User=%s | Running=%v | Commits=%d | Rollbacks=%d }",
		c.cfg.Name, c.cfg.User, c.IsRunning(), c.CommitCount(), c.RollbackCount())
}
