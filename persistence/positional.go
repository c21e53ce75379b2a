package persistence

import (
	"context"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

// AccessorOption configures the positional accessors.
type AccessorOption func(*accessorOptions)

type accessorOptions struct {
	name       string
	refresh    func(*Object) bool
	autoCommit bool
}

// WithRefreshPolicy makes a loader refresh cached objects for which fn
// returns true.
func WithRefreshPolicy(fn func(*Object) bool) AccessorOption {
	return func(o *accessorOptions) { o.refresh = fn }
}

// WithAutoCommit commits right after a successful write or delete.
func WithAutoCommit() AccessorOption {
	return func(o *accessorOptions) { o.autoCommit = true }
}

// WithAccessorName overrides the statement name used in logs and errors.
func WithAccessorName(name string) AccessorOption {
	return func(o *accessorOptions) { o.name = name }
}

func applyAccessorOptions(opts []AccessorOption) accessorOptions {
	var o accessorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// bindKey copies key values to the first inputs following the class key
// declaration order, and returns the next free position.
func bindKey(gs *dbms.GuardStatement, class *Class, key *PrimaryKey) (int, error) {
	pos := 0
	for _, name := range class.key.Names() {
		v, err := key.fields.Find(name)
		if err != nil {
			return pos, err
		}
		if err := bind(gs, pos, v); err != nil {
			return pos, err
		}
		pos++
	}
	return pos, nil
}

func bind(gs *dbms.GuardStatement, pos int, v field.Value) error {
	in, err := gs.Input(pos)
	if err != nil {
		return err
	}
	return errors.Wrapf(in.Assign(v), "input %d", pos)
}

// PositionalLoader binds the key to the first inputs and reads the members
// from the outputs in declaration order.
type PositionalLoader struct {
	LoaderBase
	refresh func(*Object) bool
}

var _ Loader = (*PositionalLoader)(nil)

func NewPositionalLoader(stmt *dbms.Statement, class *Class, key *PrimaryKey, opts ...AccessorOption) *PositionalLoader {
	o := applyAccessorOptions(opts)
	return &PositionalLoader{
		LoaderBase: NewLoaderBase(o.name, stmt, class, key),
		refresh:    o.refresh,
	}
}

func (l *PositionalLoader) Apply(ctx context.Context, gs *dbms.GuardStatement, obj *Object) dbms.ResultCode {
	if _, err := bindKey(gs, l.class, obj.key); err != nil {
		return dbms.Failure(err)
	}

	rc := gs.Execute(ctx)
	if !rc.Successful() {
		return rc
	}

	ok, err := gs.Fetch(ctx)
	if err != nil {
		return dbms.Failure(err)
	}
	if !ok {
		return dbms.Missing("no row fetched")
	}

	members := obj.members.Values()
	for i := 0; i < len(members) && i < gs.Statement().OutputCount(); i++ {
		out, err := gs.Output(i)
		if err != nil {
			return dbms.Failure(err)
		}
		if err := members[i].Assign(out); err != nil {
			return dbms.Failure(errors.Wrapf(err, "output %d", i))
		}
	}
	return rc
}

func (l *PositionalLoader) HasToRefresh(ctx context.Context, gs *dbms.GuardStatement, obj *Object) (bool, error) {
	if l.refresh == nil {
		return false, nil
	}
	return l.refresh(obj), nil
}

// PositionalRecorder binds the key and then the members to the inputs.
type PositionalRecorder struct {
	RecorderBase
}

var _ Recorder = (*PositionalRecorder)(nil)

func NewPositionalRecorder(stmt *dbms.Statement, obj *Object, opts ...AccessorOption) *PositionalRecorder {
	o := applyAccessorOptions(opts)
	r := &PositionalRecorder{RecorderBase: NewRecorderBase(o.name, stmt, obj)}
	r.autoCommit = o.autoCommit
	return r
}

func (r *PositionalRecorder) Apply(ctx context.Context, gs *dbms.GuardStatement) dbms.ResultCode {
	pos, err := bindKey(gs, r.object.class, r.object.key)
	if err != nil {
		return dbms.Failure(err)
	}
	for _, member := range r.object.members.Values() {
		if pos >= gs.Statement().InputCount() {
			break
		}
		if err := bind(gs, pos, member); err != nil {
			return dbms.Failure(err)
		}
		pos++
	}
	return gs.Execute(ctx)
}

// PositionalEraser binds the key to the first inputs.
type PositionalEraser struct {
	EraserBase
}

var _ Eraser = (*PositionalEraser)(nil)

func NewPositionalEraser(stmt *dbms.Statement, class *Class, key *PrimaryKey, opts ...AccessorOption) *PositionalEraser {
	o := applyAccessorOptions(opts)
	e := &PositionalEraser{EraserBase: NewEraserBase(o.name, stmt, class, key)}
	e.autoCommit = o.autoCommit
	return e
}

func (e *PositionalEraser) Apply(ctx context.Context, gs *dbms.GuardStatement) dbms.ResultCode {
	if !e.key.Matches(e.class.key) {
		return dbms.Failure(errors.Wrapf(ErrKeyShapeMismatch, "erase %s", e.class.name))
	}
	if _, err := bindKey(gs, e.class, e.key); err != nil {
		return dbms.Failure(err)
	}
	return gs.Execute(ctx)
}
