package dbms

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection is not running")
	ErrDuplicateName    = errors.New("name already defined")
	ErrNotFound         = errors.New("not defined")
	ErrPosition         = errors.New("position out of range")
	ErrGuardClosed      = errors.New("guard already released")
	ErrTooManyConns     = errors.New("too many connections")
)

// Outcome classifies what the backing store answered.
type Outcome int

const (
	// Successful means the statement ran and produced its effect.
	Successful Outcome = iota
	// NotFound is a valid negative answer: no row matched.
	NotFound
	// Failed is an operational error reported by the store or the driver.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Successful:
		return "successful"
	case NotFound:
		return "not-found"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ResultCode is returned verbatim by drivers. Code and Message carry the
// store specific detail, Err the underlying driver error if any.
type ResultCode struct {
	Outcome Outcome
	Code    int
	Message string
	Err     error
}

func Success() ResultCode { return ResultCode{Outcome: Successful} }

func Missing(message string) ResultCode {
	return ResultCode{Outcome: NotFound, Message: message}
}

// Failure wraps a driver error into a Failed result.
func Failure(err error) ResultCode {
	rc := ResultCode{Outcome: Failed, Err: err}
	if err != nil {
		rc.Message = err.Error()
	}
	return rc
}

func (r ResultCode) Successful() bool { return r.Outcome == Successful }
func (r ResultCode) NotFound() bool   { return r.Outcome == NotFound }

func (r ResultCode) String() string {
	s := fmt.Sprintf("dbms.ResultCode { Outcome=%s | Code=%d", r.Outcome, r.Code)
	if r.Message != "" {
		s += " | Message=" + r.Message
	}
	return s + " }"
}
