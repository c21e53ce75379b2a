package field

import (
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Set is an ordered collection of uniquely named values. Iteration follows
// insertion order.
type Set struct {
	order []Value
	index map[string]int
}

// NewSet builds a set from the given values in order.
func NewSet(values ...Value) (*Set, error) {
	s := &Set{index: make(map[string]int, len(values))}
	for _, v := range values {
		if err := s.Insert(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) Insert(v Value) error {
	if v == nil {
		return errors.New("field must be initialized")
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[v.Name()]; ok {
		return errors.Wrap(ErrDuplicateField, v.Name())
	}
	s.index[v.Name()] = len(s.order)
	s.order = append(s.order, v)
	return nil
}

func (s *Set) Find(name string) (Value, error) {
	if s != nil {
		if i, ok := s.index[name]; ok {
			return s.order[i], nil
		}
	}
	return nil, errors.Wrap(ErrFieldNotFound, name)
}

func (s *Set) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[name]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// At returns the i-th value in insertion order.
func (s *Set) At(i int) Value { return s.order[i] }

// Values returns the members in insertion order. The slice is a copy, the
// values are shared.
func (s *Set) Values() []Value {
	return append([]Value(nil), s.order...)
}

func (s *Set) Names() []string {
	names := make([]string, len(s.order))
	for i, v := range s.order {
		names[i] = v.Name()
	}
	return names
}

// Compare orders two sets of equal cardinality field by field, following
// this set's order and matching fields by name.
func (s *Set) Compare(other *Set) (int, error) {
	if s == other {
		return 0, nil
	}
	if s.Len() != other.Len() {
		return 0, errors.Wrapf(ErrSizeMismatch, "size=%d other=%d", s.Len(), other.Len())
	}
	for _, v := range s.order {
		o, err := other.Find(v.Name())
		if err != nil {
			return 0, err
		}
		r, err := v.Compare(o)
		if err != nil {
			return 0, err
		}
		if r != 0 {
			return r, nil
		}
	}
	return 0, nil
}

func (s *Set) Equal(other *Set) bool {
	r, err := s.Compare(other)
	return err == nil && r == 0
}

// Hash digests member values in iteration order.
func (s *Set) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range s.order {
		h := v.Hash()
		for i := range buf {
			buf[i] = byte(h >> (8 * i))
		}
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Clone deep copies every member.
func (s *Set) Clone() *Set {
	c := &Set{
		order: make([]Value, len(s.order)),
		index: make(map[string]int, len(s.order)),
	}
	for i, v := range s.order {
		c.order[i] = v.Clone()
		c.index[v.Name()] = i
	}
	return c
}

// AssignFrom copies values from other into the same-named members of s.
func (s *Set) AssignFrom(other *Set) error {
	for _, v := range s.order {
		o, err := other.Find(v.Name())
		if err != nil {
			return err
		}
		if err := v.Assign(o); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) String() string {
	parts := make([]string, len(s.order))
	for i, v := range s.order {
		parts[i] = v.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

func find[T Value](s *Set, name string) (T, error) {
	var zero T
	v, err := s.Find(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(ErrTypeMismatch, "%s is %s", name, v.Type())
	}
	return typed, nil
}

func (s *Set) Integer(name string) (int64, error) {
	f, err := find[*Integer](s, name)
	if err != nil {
		return 0, err
	}
	return f.Value(), nil
}

func (s *Set) SetInteger(name string, v int64) error {
	f, err := find[*Integer](s, name)
	if err != nil {
		return err
	}
	f.SetValue(v)
	return nil
}

func (s *Set) Float(name string) (float64, error) {
	f, err := find[*Float](s, name)
	if err != nil {
		return 0, err
	}
	return f.Value(), nil
}

func (s *Set) SetFloat(name string, v float64) error {
	f, err := find[*Float](s, name)
	if err != nil {
		return err
	}
	f.SetValue(v)
	return nil
}

func (s *Set) Text(name string) (string, error) {
	f, err := find[*String](s, name)
	if err != nil {
		return "", err
	}
	return f.Value(), nil
}

func (s *Set) SetText(name, v string) error {
	f, err := find[*String](s, name)
	if err != nil {
		return err
	}
	return f.SetValue(v)
}

func (s *Set) Date(name string) (time.Time, error) {
	f, err := find[*Date](s, name)
	if err != nil {
		return time.Time{}, err
	}
	return f.Value(), nil
}

func (s *Set) SetDate(name string, v time.Time) error {
	f, err := find[*Date](s, name)
	if err != nil {
		return err
	}
	f.SetValue(v)
	return nil
}

func (s *Set) Block(name string) ([]byte, error) {
	f, err := find[*Block](s, name)
	if err != nil {
		return nil, err
	}
	return f.Value(), nil
}

func (s *Set) SetBlock(name string, v []byte) error {
	f, err := find[*Block](s, name)
	if err != nil {
		return err
	}
	return f.SetValue(v)
}
