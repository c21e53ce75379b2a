package field

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var (
	ErrDuplicateField = errors.New("field already defined")
	ErrFieldNotFound  = errors.New("field not defined")
	ErrSizeMismatch   = errors.New("field sets have different number of components")
	ErrTypeMismatch   = errors.New("field type mismatch")
	ErrNotNullable    = errors.New("field does not accept null values")
	ErrValueTooLong   = errors.New("value exceeds field max size")
)

// Type identifies the concrete storage class of a Value.
type Type int

const (
	TypeInteger Type = iota
	TypeFloat
	TypeString
	TypeDate
	TypeShortBlock
	TypeLongBlock
)

func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeShortBlock:
		return "short_block"
	case TypeLongBlock:
		return "long_block"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType maps a configuration name to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "integer", "int":
		return TypeInteger, nil
	case "float":
		return TypeFloat, nil
	case "string", "text":
		return TypeString, nil
	case "date", "timestamp":
		return TypeDate, nil
	case "short_block", "block":
		return TypeShortBlock, nil
	case "long_block", "blob":
		return TypeLongBlock, nil
	}
	return 0, errors.Errorf("unknown field type %q", name)
}

// Value is a named, typed and nullable scalar or block.
type Value interface {
	Name() string
	Type() Type
	IsNullable() bool
	IsNull() bool
	SetNull(null bool) error

	// Clone returns a deep copy carrying the same name, type and value.
	Clone() Value
	// Compare orders two values of the same type. Null sorts first.
	Compare(other Value) (int, error)
	// Hash digests the current value only, never the name.
	Hash() uint64
	// Assign copies the value (or null state) of a same-typed field.
	Assign(other Value) error

	// Interface returns the Go value, nil when null.
	Interface() any
	// SetInterface stores a value coming from a driver.
	SetInterface(v any) error

	String() string
}

// Option tweaks a field at construction.
type Option func(*header)

// Nullable allows the field to hold null. Nullable fields start as null.
func Nullable() Option {
	return func(h *header) {
		h.nullable = true
		h.null = true
	}
}

type header struct {
	name     string
	typ      Type
	nullable bool
	null     bool
}

func newHeader(name string, typ Type, opts []Option) header {
	h := header{name: name, typ: typ}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h *header) Name() string     { return h.name }
func (h *header) Type() Type       { return h.typ }
func (h *header) IsNullable() bool { return h.nullable }
func (h *header) IsNull() bool     { return h.null }

func (h *header) SetNull(null bool) error {
	if null && !h.nullable {
		return errors.Wrap(ErrNotNullable, h.name)
	}
	h.null = null
	return nil
}

func (h *header) checkType(other Value) error {
	if other == nil || other.Type() != h.typ {
		return errors.Wrapf(ErrTypeMismatch, "%s is %s", h.name, h.typ)
	}
	return nil
}

// compareNull resolves ordering when at least one side is null.
func (h *header) compareNull(other Value) (int, bool) {
	switch {
	case h.null && other.IsNull():
		return 0, true
	case h.null:
		return -1, true
	case other.IsNull():
		return 1, true
	}
	return 0, false
}

func (h *header) describe(value string) string {
	if h.null {
		value = "<null>"
	}
	return fmt.Sprintf("%s{%s=%s}", h.typ, h.name, value)
}

// nullHash is what every null value hashes to.
var nullHash = xxhash.Sum64String("\x00<null>\x00")

func hashUint64(typ Type, v uint64) uint64 {
	var buf [9]byte
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint64(buf[1:], v)
	return xxhash.Sum64(buf[:])
}

func hashBytes(typ Type, b []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{byte(typ)})
	_, _ = d.Write(b)
	return d.Sum64()
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// New builds an empty field of the given type. size applies to strings and
// blocks only.
func New(name string, typ Type, size int, opts ...Option) (Value, error) {
	switch typ {
	case TypeInteger:
		return NewInteger(name, opts...), nil
	case TypeFloat:
		return NewFloat(name, opts...), nil
	case TypeString:
		return NewString(name, size, opts...), nil
	case TypeDate:
		return NewDate(name, opts...), nil
	case TypeShortBlock:
		return NewShortBlock(name, size, opts...), nil
	case TypeLongBlock:
		return NewLongBlock(name, opts...), nil
	}
	return nil, errors.Errorf("unknown field type %d", int(typ))
}
