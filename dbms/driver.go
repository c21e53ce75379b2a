package dbms

import (
	"context"

	"github.com/goliatone/go-persistence/field"
)

// StatementKind tells whether a statement only reads or changes the store.
type StatementKind int

const (
	Query StatementKind = iota
	Command
)

func (k StatementKind) String() string {
	if k == Command {
		return "command"
	}
	return "query"
}

// ConnectionConfig is handed to Driver.Open.
type ConnectionConfig struct {
	Name     string
	User     string
	Password string
}

// StatementConfig declares a prepared statement. Inputs and Outputs are
// field templates bound by position.
type StatementConfig struct {
	Name       string
	Expression string
	Kind       StatementKind
	Inputs     []field.Value
	Outputs    []field.Value
}

// Driver is the wire level collaborator. Implementations live in mockdb,
// sqldb and boltdb.
type Driver interface {
	Name() string
	Open(ctx context.Context, cfg ConnectionConfig) (Session, error)
	Prepare(cfg StatementConfig) (Executor, error)
}

// Session is one open transactional channel to the store. Rollback must be
// a no-op when no transaction is open: guards call it on every release.
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// Executor runs one prepared statement. Calls on a single executor are
// serialized by the owning Statement lock.
type Executor interface {
	Execute(ctx context.Context, session Session, inputs []field.Value) ResultCode
	Fetch(ctx context.Context, outputs []field.Value) (bool, error)
	Close() error
}
