package persistence

import (
	"sort"
	"time"

	"github.com/goliatone/go-persistence/cache"
	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

var keySerializer = cache.NewDefaultKeySerializer()

// PrimaryKey is the identity of an Object. Its shape, the set of field
// names and types, is fixed once built. Values stay mutable so one key can
// be reused for successive lookups.
type PrimaryKey struct {
	fields *field.Set
}

// PrimaryKeyBuilder collects the fields of a PrimaryKey.
type PrimaryKeyBuilder struct {
	values []field.Value
	built  bool
}

func NewPrimaryKeyBuilder() *PrimaryKeyBuilder {
	return &PrimaryKeyBuilder{}
}

func (b *PrimaryKeyBuilder) Add(values ...field.Value) *PrimaryKeyBuilder {
	b.values = append(b.values, values...)
	return b
}

// Build creates the key. The first key built owns the added fields; later
// builds from the same builder get clones.
func (b *PrimaryKeyBuilder) Build() (*PrimaryKey, error) {
	if len(b.values) == 0 {
		return nil, ErrEmptyPrimaryKey
	}

	values := b.values
	if b.built {
		values = make([]field.Value, len(b.values))
		for i, v := range b.values {
			values[i] = v.Clone()
		}
	}

	set, err := field.NewSet(values...)
	if err != nil {
		return nil, errors.Wrap(err, "primary key")
	}
	b.built = true
	return &PrimaryKey{fields: set}, nil
}

func (pk *PrimaryKey) Len() int              { return pk.fields.Len() }
func (pk *PrimaryKey) Names() []string       { return pk.fields.Names() }
func (pk *PrimaryKey) Values() []field.Value { return pk.fields.Values() }

func (pk *PrimaryKey) Field(name string) (field.Value, error) {
	return pk.fields.Find(name)
}

// Matches reports whether both keys have the same field names and types.
// Values are ignored.
func (pk *PrimaryKey) Matches(other *PrimaryKey) bool {
	if other == nil || pk.Len() != other.Len() {
		return false
	}
	for _, v := range pk.fields.Values() {
		o, err := other.fields.Find(v.Name())
		if err != nil || o.Type() != v.Type() {
			return false
		}
	}
	return true
}

// Hash folds the member hashes with XOR over a cardinality seed, so it does
// not depend on field order.
func (pk *PrimaryKey) Hash() uint64 {
	h := uint64(pk.Len())
	for _, v := range pk.fields.Values() {
		h ^= v.Hash()
	}
	return h
}

func (pk *PrimaryKey) Compare(other *PrimaryKey) (int, error) {
	return pk.fields.Compare(other.fields)
}

func (pk *PrimaryKey) Equal(other *PrimaryKey) bool {
	return other != nil && pk.fields.Equal(other.fields)
}

func (pk *PrimaryKey) Clone() *PrimaryKey {
	return &PrimaryKey{fields: pk.fields.Clone()}
}

// CacheKey is a canonical string for the key contents within class. Fields
// are sorted by name and carry their type, nulls serialize apart from any
// value and -0 serializes as 0.
func (pk *PrimaryKey) CacheKey(class string) string {
	names := pk.fields.Names()
	sort.Strings(names)

	args := make([]any, 0, 2*len(names))
	for _, name := range names {
		v, _ := pk.fields.Find(name)
		val := v.Interface()
		if f, ok := val.(float64); ok && f == 0 {
			val = float64(0)
		}
		args = append(args, name+":"+v.Type().String(), val)
	}
	return keySerializer.SerializeKey(class, args...)
}

func (pk *PrimaryKey) String() string {
	return "persistence.PrimaryKey " + pk.fields.String()
}

func (pk *PrimaryKey) Integer(name string) (int64, error)     { return pk.fields.Integer(name) }
func (pk *PrimaryKey) Float(name string) (float64, error)     { return pk.fields.Float(name) }
func (pk *PrimaryKey) Text(name string) (string, error)       { return pk.fields.Text(name) }
func (pk *PrimaryKey) Date(name string) (time.Time, error)    { return pk.fields.Date(name) }
func (pk *PrimaryKey) Block(name string) ([]byte, error)      { return pk.fields.Block(name) }
func (pk *PrimaryKey) SetInteger(name string, v int64) error  { return pk.fields.SetInteger(name, v) }
func (pk *PrimaryKey) SetFloat(name string, v float64) error  { return pk.fields.SetFloat(name, v) }
func (pk *PrimaryKey) SetText(name, v string) error           { return pk.fields.SetText(name, v) }
func (pk *PrimaryKey) SetDate(name string, v time.Time) error { return pk.fields.SetDate(name, v) }
func (pk *PrimaryKey) SetBlock(name string, v []byte) error   { return pk.fields.SetBlock(name, v) }
