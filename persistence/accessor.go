package persistence

import (
	"context"

	"github.com/goliatone/go-persistence/dbms"
)

// Accessor binds a prepared statement to one read, write or delete cycle.
type Accessor interface {
	Name() string
	Statement() *dbms.Statement
}

// Loader reads one object. Apply fills obj from the store and returns the
// driver result verbatim.
type Loader interface {
	Accessor
	Class() *Class
	PrimaryKey() *PrimaryKey
	Apply(ctx context.Context, gs *dbms.GuardStatement, obj *Object) dbms.ResultCode
	// HasToRefresh is asked on every cache hit.
	HasToRefresh(ctx context.Context, gs *dbms.GuardStatement, obj *Object) (bool, error)
}

// Recorder writes Object to the store.
type Recorder interface {
	Accessor
	Object() *Object
	AutoCommit() bool
	Apply(ctx context.Context, gs *dbms.GuardStatement) dbms.ResultCode
}

// Eraser deletes the row identified by PrimaryKey.
type Eraser interface {
	Accessor
	Class() *Class
	PrimaryKey() *PrimaryKey
	AutoCommit() bool
	Apply(ctx context.Context, gs *dbms.GuardStatement) dbms.ResultCode
}

// AccessorBase holds the name and statement shared by every accessor.
type AccessorBase struct {
	name string
	stmt *dbms.Statement
}

func NewAccessorBase(name string, stmt *dbms.Statement) AccessorBase {
	if name == "" && stmt != nil {
		name = stmt.Name()
	}
	return AccessorBase{name: name, stmt: stmt}
}

func (a *AccessorBase) Name() string               { return a.name }
func (a *AccessorBase) Statement() *dbms.Statement { return a.stmt }

// LoaderBase is embedded by loaders. It never asks for a refresh.
type LoaderBase struct {
	AccessorBase
	class *Class
	key   *PrimaryKey
}

func NewLoaderBase(name string, stmt *dbms.Statement, class *Class, key *PrimaryKey) LoaderBase {
	return LoaderBase{AccessorBase: NewAccessorBase(name, stmt), class: class, key: key}
}

func (l *LoaderBase) Class() *Class           { return l.class }
func (l *LoaderBase) PrimaryKey() *PrimaryKey { return l.key }

func (l *LoaderBase) HasToRefresh(ctx context.Context, gs *dbms.GuardStatement, obj *Object) (bool, error) {
	return false, nil
}

// RecorderBase is embedded by recorders.
type RecorderBase struct {
	AccessorBase
	object     *Object
	autoCommit bool
}

func NewRecorderBase(name string, stmt *dbms.Statement, obj *Object) RecorderBase {
	return RecorderBase{AccessorBase: NewAccessorBase(name, stmt), object: obj}
}

func (r *RecorderBase) Object() *Object   { return r.object }
func (r *RecorderBase) AutoCommit() bool  { return r.autoCommit }
func (r *RecorderBase) EnableAutoCommit() { r.autoCommit = true }

// EraserBase is embedded by erasers.
type EraserBase struct {
	AccessorBase
	class      *Class
	key        *PrimaryKey
	autoCommit bool
}

func NewEraserBase(name string, stmt *dbms.Statement, class *Class, key *PrimaryKey) EraserBase {
	return EraserBase{AccessorBase: NewAccessorBase(name, stmt), class: class, key: key}
}

func (e *EraserBase) Class() *Class           { return e.class }
func (e *EraserBase) PrimaryKey() *PrimaryKey { return e.key }
func (e *EraserBase) AutoCommit() bool        { return e.autoCommit }
func (e *EraserBase) EnableAutoCommit()       { e.autoCommit = true }
