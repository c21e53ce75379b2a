package dbms

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

// GuardConnection holds a Connection exclusively until Close. It counts the
// statements linked to it and the successful writes not yet committed.
//
// The context given to NewGuardConnection governs acquiring the connection,
// locking statements, commits and rollbacks. Statement I/O runs under the
// context passed to GuardStatement.Execute and Fetch.
//
// Guards are not reentrant: a goroutine must not open a second guard on a
// connection it already guards.
type GuardConnection struct {
	ctx  context.Context
	conn *Connection
	log  *slog.Logger

	mu         sync.Mutex
	linked     int
	pending    int
	maxPending int
	closed     bool
	onDiscard  []func()
}

// NewGuardConnection blocks until the connection is free or ctx is done.
func NewGuardConnection(ctx context.Context, conn *Connection) (*GuardConnection, error) {
	if !conn.IsRunning() {
		return nil, errors.Wrap(ErrConnectionClosed, conn.Name())
	}
	if err := conn.acquire(ctx); err != nil {
		return nil, errors.Wrapf(err, "guard %s", conn.Name())
	}
	return &GuardConnection{ctx: ctx, conn: conn, log: conn.log}, nil
}

// WithGuard runs fn under a fresh guard and releases it on every path.
func WithGuard(ctx context.Context, conn *Connection, fn func(*GuardConnection) error) (err error) {
	gc, err := NewGuardConnection(ctx, conn)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := gc.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(gc)
}

func (g *GuardConnection) Connection() *Connection { return g.conn }

// SetMaxCommitPending enables commit batching. Once n successful writes are
// pending, the next statement release commits. Zero disables batching.
func (g *GuardConnection) SetMaxCommitPending(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n < 0 {
		n = 0
	}
	g.maxPending = n
}

func (g *GuardConnection) MaxCommitPending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxPending
}

func (g *GuardConnection) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

func (g *GuardConnection) LinkedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.linked
}

func (g *GuardConnection) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitLocked()
}

// OnDiscard registers fn to run when the writes executed so far are lost:
// on Rollback, on a failed commit, or when Close ends the session without
// committing. A successful commit clears the registered funcs. fn runs with
// the guard locked and must not call back into it.
func (g *GuardConnection) OnDiscard(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDiscard = append(g.onDiscard, fn)
}

func (g *GuardConnection) commitLocked() error {
	if g.closed {
		return ErrGuardClosed
	}
	if err := g.conn.commit(g.ctx); err != nil {
		g.discardedLocked()
		return err
	}
	g.log.Debug("commit", "pending", g.pending)
	g.pending = 0
	g.onDiscard = nil
	return nil
}

func (g *GuardConnection) Rollback() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGuardClosed
	}
	err := g.conn.rollback(g.ctx)
	g.discardedLocked()
	if err != nil {
		return err
	}
	g.log.Debug("rollback", "discarded", g.pending)
	g.pending = 0
	return nil
}

func (g *GuardConnection) discardedLocked() {
	fns := g.onDiscard
	g.onDiscard = nil
	for _, fn := range fns {
		fn()
	}
}

// Close commits pending writes, ends whatever session transaction is still
// open and releases the connection. It is safe to call more than once.
func (g *GuardConnection) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}

	var err error
	if g.pending > 0 {
		err = g.commitLocked()
		if err != nil {
			g.log.Error("cannot commit pending operations", "pending", g.pending, "error", err)
		}
	}
	if g.linked > 0 {
		g.log.Warn("guard released with linked statements", "linked", g.linked)
	}

	// Reads and uncounted writes may have opened a transaction in the
	// driver session. It must not outlive the guard.
	if derr := g.conn.discard(g.ctx); derr != nil {
		g.log.Error("cannot end session transaction", "error", derr)
		if err == nil {
			err = derr
		}
	}
	g.discardedLocked()

	g.closed = true
	g.conn.release()
	return err
}

// Statement links stmt to this guard and locks it until the returned
// GuardStatement is closed.
func (g *GuardConnection) Statement(stmt *Statement) (*GuardStatement, error) {
	if stmt == nil {
		return nil, errors.New("statement can not be nil")
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGuardClosed
	}
	g.mu.Unlock()

	if err := stmt.lock(g.ctx); err != nil {
		return nil, errors.Wrapf(err, "lock statement %s", stmt.Name())
	}

	g.mu.Lock()
	g.linked++
	g.mu.Unlock()

	return &GuardStatement{
		guard:          g,
		stmt:           stmt,
		requiresCommit: stmt.RequiresCommit(),
	}, nil
}

func (g *GuardConnection) executed(requiresCommit bool) {
	if !requiresCommit {
		return
	}
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()
}

func (g *GuardConnection) unlink() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linked--
	if g.maxPending > 0 && g.pending >= g.maxPending {
		return g.commitLocked()
	}
	return nil
}

// GuardStatement is the exclusive, scoped use of a Statement.
type GuardStatement struct {
	guard          *GuardConnection
	stmt           *Statement
	requiresCommit bool
	released       bool
}

func (gs *GuardStatement) Statement() *Statement { return gs.stmt }

func (gs *GuardStatement) Input(pos int) (field.Value, error)  { return gs.stmt.input(pos) }
func (gs *GuardStatement) Output(pos int) (field.Value, error) { return gs.stmt.output(pos) }

// SetRequiresCommit overrides whether a successful execution counts as a
// pending write.
func (gs *GuardStatement) SetRequiresCommit(v bool) { gs.requiresCommit = v }

// Execute runs the statement on the guarded connection and returns the
// driver result verbatim.
func (gs *GuardStatement) Execute(ctx context.Context) ResultCode {
	if gs.released {
		return Failure(ErrGuardClosed)
	}
	if err := ctx.Err(); err != nil {
		return Failure(err)
	}
	rc := gs.guard.conn.execute(ctx, gs.stmt)
	gs.stmt.execs.Add(1)
	if rc.Successful() {
		gs.guard.executed(gs.requiresCommit)
	}
	return rc
}

// Fetch moves the next row into the statement outputs.
func (gs *GuardStatement) Fetch(ctx context.Context) (bool, error) {
	if gs.released {
		return false, ErrGuardClosed
	}
	return gs.stmt.exec.Fetch(ctx, gs.stmt.outputs)
}

// Close unlocks the statement and, when the batching threshold is reached,
// commits. The unlock happens even if the commit fails.
func (gs *GuardStatement) Close() error {
	if gs.released {
		return nil
	}
	gs.released = true
	gs.stmt.unlock()
	return gs.guard.unlink()
}
