package field

import (
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Integer holds a signed 64 bit value.
type Integer struct {
	header
	value int64
}

func NewInteger(name string, opts ...Option) *Integer {
	return &Integer{header: newHeader(name, TypeInteger, opts)}
}

func (f *Integer) Value() int64 { return f.value }

func (f *Integer) SetValue(v int64) {
	f.value = v
	f.null = false
}

func (f *Integer) Clone() Value {
	c := *f
	return &c
}

func (f *Integer) Compare(other Value) (int, error) {
	if err := f.checkType(other); err != nil {
		return 0, err
	}
	if r, ok := f.compareNull(other); ok {
		return r, nil
	}
	return cmpInt64(f.value, other.(*Integer).value), nil
}

func (f *Integer) Hash() uint64 {
	if f.null {
		return nullHash
	}
	return hashUint64(f.typ, uint64(f.value))
}

func (f *Integer) Assign(other Value) error {
	if err := f.checkType(other); err != nil {
		return err
	}
	if other.IsNull() {
		return f.SetNull(true)
	}
	f.SetValue(other.(*Integer).value)
	return nil
}

func (f *Integer) Interface() any {
	if f.null {
		return nil
	}
	return f.value
}

func (f *Integer) SetInterface(v any) error {
	if v == nil {
		return f.SetNull(true)
	}
	n, err := toInt64(v)
	if err != nil {
		return errors.Wrap(err, f.name)
	}
	f.SetValue(n)
	return nil
}

func (f *Integer) String() string {
	return f.describe(strconv.FormatInt(f.value, 10))
}

// Float holds a double precision value.
type Float struct {
	header
	value float64
}

func NewFloat(name string, opts ...Option) *Float {
	return &Float{header: newHeader(name, TypeFloat, opts)}
}

func (f *Float) Value() float64 { return f.value }

func (f *Float) SetValue(v float64) {
	f.value = v
	f.null = false
}

func (f *Float) Clone() Value {
	c := *f
	return &c
}

func (f *Float) Compare(other Value) (int, error) {
	if err := f.checkType(other); err != nil {
		return 0, err
	}
	if r, ok := f.compareNull(other); ok {
		return r, nil
	}
	return cmpFloat64(f.value, other.(*Float).value), nil
}

func (f *Float) Hash() uint64 {
	if f.null {
		return nullHash
	}
	v := f.value
	if v == 0 {
		v = 0 // -0 hashes as 0
	}
	return hashUint64(f.typ, math.Float64bits(v))
}

func (f *Float) Assign(other Value) error {
	if err := f.checkType(other); err != nil {
		return err
	}
	if other.IsNull() {
		return f.SetNull(true)
	}
	f.SetValue(other.(*Float).value)
	return nil
}

func (f *Float) Interface() any {
	if f.null {
		return nil
	}
	return f.value
}

func (f *Float) SetInterface(v any) error {
	if v == nil {
		return f.SetNull(true)
	}
	n, err := toFloat64(v)
	if err != nil {
		return errors.Wrap(err, f.name)
	}
	f.SetValue(n)
	return nil
}

func (f *Float) String() string {
	return f.describe(strconv.FormatFloat(f.value, 'g', -1, 64))
}

// Date holds a point in time with second resolution, always in UTC.
type Date struct {
	header
	value time.Time
}

func NewDate(name string, opts ...Option) *Date {
	return &Date{header: newHeader(name, TypeDate, opts), value: time.Unix(0, 0).UTC()}
}

func (f *Date) Value() time.Time { return f.value }

func (f *Date) SetValue(v time.Time) {
	f.value = v.UTC().Truncate(time.Second)
	f.null = false
}

func (f *Date) Clone() Value {
	c := *f
	return &c
}

func (f *Date) Compare(other Value) (int, error) {
	if err := f.checkType(other); err != nil {
		return 0, err
	}
	if r, ok := f.compareNull(other); ok {
		return r, nil
	}
	return f.value.Compare(other.(*Date).value), nil
}

func (f *Date) Hash() uint64 {
	if f.null {
		return nullHash
	}
	return hashUint64(f.typ, uint64(f.value.Unix()))
}

func (f *Date) Assign(other Value) error {
	if err := f.checkType(other); err != nil {
		return err
	}
	if other.IsNull() {
		return f.SetNull(true)
	}
	f.SetValue(other.(*Date).value)
	return nil
}

func (f *Date) Interface() any {
	if f.null {
		return nil
	}
	return f.value
}

func (f *Date) SetInterface(v any) error {
	if v == nil {
		return f.SetNull(true)
	}
	switch t := v.(type) {
	case time.Time:
		f.SetValue(t)
		return nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return errors.Wrap(err, f.name)
		}
		f.SetValue(parsed)
		return nil
	}
	n, err := toInt64(v)
	if err != nil {
		return errors.Wrap(err, f.name)
	}
	f.SetValue(time.Unix(n, 0))
	return nil
}

func (f *Date) String() string {
	return f.describe(f.value.Format(time.RFC3339))
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "cannot convert %T to integer", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, errors.Wrapf(ErrTypeMismatch, "cannot convert %T to float", v)
	}
	return float64(i), nil
}
