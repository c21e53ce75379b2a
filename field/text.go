package field

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	hex "github.com/tmthrgd/go-hex"
)

// String holds text bounded by maxSize bytes. A maxSize of zero means
// unbounded.
type String struct {
	header
	maxSize int
	value   string
}

func NewString(name string, maxSize int, opts ...Option) *String {
	return &String{header: newHeader(name, TypeString, opts), maxSize: maxSize}
}

func (f *String) MaxSize() int  { return f.maxSize }
func (f *String) Value() string { return f.value }

func (f *String) SetValue(v string) error {
	if f.maxSize > 0 && len(v) > f.maxSize {
		return errors.Wrapf(ErrValueTooLong, "%s accepts %d bytes, got %d", f.name, f.maxSize, len(v))
	}
	f.value = v
	f.null = false
	return nil
}

func (f *String) Clone() Value {
	c := *f
	return &c
}

func (f *String) Compare(other Value) (int, error) {
	if err := f.checkType(other); err != nil {
		return 0, err
	}
	if r, ok := f.compareNull(other); ok {
		return r, nil
	}
	return strings.Compare(f.value, other.(*String).value), nil
}

func (f *String) Hash() uint64 {
	if f.null {
		return nullHash
	}
	return hashBytes(f.typ, []byte(f.value))
}

func (f *String) Assign(other Value) error {
	if err := f.checkType(other); err != nil {
		return err
	}
	if other.IsNull() {
		return f.SetNull(true)
	}
	return f.SetValue(other.(*String).value)
}

func (f *String) Interface() any {
	if f.null {
		return nil
	}
	return f.value
}

func (f *String) SetInterface(v any) error {
	switch s := v.(type) {
	case nil:
		return f.SetNull(true)
	case string:
		return f.SetValue(s)
	case []byte:
		return f.SetValue(string(s))
	}
	return errors.Wrapf(ErrTypeMismatch, "%s: cannot convert %T to string", f.name, v)
}

func (f *String) String() string {
	return f.describe(f.value)
}

// Block holds raw bytes. Short blocks are bounded by maxSize, long blocks
// are not.
type Block struct {
	header
	maxSize int
	value   []byte
}

func NewShortBlock(name string, maxSize int, opts ...Option) *Block {
	return &Block{header: newHeader(name, TypeShortBlock, opts), maxSize: maxSize}
}

func NewLongBlock(name string, opts ...Option) *Block {
	return &Block{header: newHeader(name, TypeLongBlock, opts)}
}

func (f *Block) MaxSize() int { return f.maxSize }

// Value returns the stored bytes. The slice must not be modified.
func (f *Block) Value() []byte { return f.value }

func (f *Block) SetValue(v []byte) error {
	if f.maxSize > 0 && len(v) > f.maxSize {
		return errors.Wrapf(ErrValueTooLong, "%s accepts %d bytes, got %d", f.name, f.maxSize, len(v))
	}
	f.value = append(f.value[:0:0], v...)
	f.null = false
	return nil
}

func (f *Block) Clone() Value {
	c := *f
	c.value = append([]byte(nil), f.value...)
	return &c
}

func (f *Block) Compare(other Value) (int, error) {
	if err := f.checkType(other); err != nil {
		return 0, err
	}
	if r, ok := f.compareNull(other); ok {
		return r, nil
	}
	return bytes.Compare(f.value, other.(*Block).value), nil
}

func (f *Block) Hash() uint64 {
	if f.null {
		return nullHash
	}
	return hashBytes(f.typ, f.value)
}

func (f *Block) Assign(other Value) error {
	if err := f.checkType(other); err != nil {
		return err
	}
	if other.IsNull() {
		return f.SetNull(true)
	}
	return f.SetValue(other.(*Block).value)
}

func (f *Block) Interface() any {
	if f.null {
		return nil
	}
	return append([]byte(nil), f.value...)
}

func (f *Block) SetInterface(v any) error {
	switch b := v.(type) {
	case nil:
		return f.SetNull(true)
	case []byte:
		return f.SetValue(b)
	case string:
		return f.SetValue([]byte(b))
	}
	return errors.Wrapf(ErrTypeMismatch, "%s: cannot convert %T to block", f.name, v)
}

func (f *Block) String() string {
	return f.describe("0x" + hex.EncodeToString(f.value))
}
