package dbms

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

// Statement is a prepared expression with positional input and output
// fields. At most one GuardStatement holds it at a time.
type Statement struct {
	name       string
	expression string
	kind       StatementKind
	inputs     []field.Value
	outputs    []field.Value
	exec       Executor

	sem   chan struct{}
	execs atomic.Int64
}

func newStatement(cfg StatementConfig, exec Executor) *Statement {
	return &Statement{
		name:       cfg.Name,
		expression: cfg.Expression,
		kind:       cfg.Kind,
		inputs:     cloneAll(cfg.Inputs),
		outputs:    cloneAll(cfg.Outputs),
		exec:       exec,
		sem:        make(chan struct{}, 1),
	}
}

func cloneAll(values []field.Value) []field.Value {
	out := make([]field.Value, len(values))
	for i, v := range values {
		out[i] = v.Clone()
	}
	return out
}

func (s *Statement) Name() string        { return s.name }
func (s *Statement) Expression() string  { return s.expression }
func (s *Statement) Kind() StatementKind { return s.kind }
func (s *Statement) InputCount() int     { return len(s.inputs) }
func (s *Statement) OutputCount() int    { return len(s.outputs) }

// RequiresCommit is true for statements that change the store.
func (s *Statement) RequiresCommit() bool { return s.kind == Command }

// ExecCount reports how many times the statement reached the driver.
func (s *Statement) ExecCount() int64 { return s.execs.Load() }

func (s *Statement) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Statement) unlock() { <-s.sem }

func (s *Statement) input(pos int) (field.Value, error) {
	if pos < 0 || pos >= len(s.inputs) {
		return nil, errors.Wrapf(ErrPosition, "%s input %d of %d", s.name, pos, len(s.inputs))
	}
	return s.inputs[pos], nil
}

func (s *Statement) output(pos int) (field.Value, error) {
	if pos < 0 || pos >= len(s.outputs) {
		return nil, errors.Wrapf(ErrPosition, "%s output %d of %d", s.name, pos, len(s.outputs))
	}
	return s.outputs[pos], nil
}

func (s *Statement) String() string {
	return fmt.Sprintf("dbms.Statement { Name=%s | Kind=%s | Inputs=%d | Outputs=%d | Executions=%d }",
		s.name, s.kind, len(s.inputs), len(s.outputs), s.ExecCount())
}
