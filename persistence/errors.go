package persistence

import (
	"fmt"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/pkg/errors"
)

var (
	ErrKeyShapeMismatch        = errors.New("primary key does not match the class key")
	ErrEmptyPrimaryKey         = errors.New("primary key has no fields")
	ErrMissingPrimaryKey       = errors.New("class has no primary key")
	ErrDatabaseOperationFailed = errors.New("database operation failed")
	ErrNotFound                = errors.New("record not found")
	// ErrNotLoaded is the cause Erase reports when the store deleted
	// nothing. A key missing from the cache alone is not an error: Erase
	// and Load count it as a fault.
	ErrNotLoaded = errors.New("record was not in the store")
	ErrReadOnlyStorage         = errors.New("storage is read only")
	ErrDuplicateStorage        = errors.New("storage already defined")
	ErrStorageNotFound         = errors.New("storage not defined")
	ErrDuplicateClass          = errors.New("class already defined")
	ErrClassNotFound           = errors.New("class not defined")
)

// DatabaseError reports an accessor whose statement did not succeed. It
// matches ErrDatabaseOperationFailed, and ErrNotFound when the store gave a
// negative answer.
type DatabaseError struct {
	Op       string
	Accessor string
	Code     dbms.ResultCode
	// Err is an optional cause, ErrNotLoaded for instance.
	Err error
}

func newDatabaseError(op, accessor string, rc dbms.ResultCode) *DatabaseError {
	return &DatabaseError{Op: op, Accessor: accessor, Code: rc}
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Accessor, e.Code.Outcome)
	if e.Code.Message != "" {
		msg += ": " + e.Code.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DatabaseError) Is(target error) bool {
	switch target {
	case ErrDatabaseOperationFailed:
		return true
	case ErrNotFound:
		return e.Code.NotFound()
	}
	return false
}

func (e *DatabaseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Code.Err
}
