package persistence

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-persistence/field"
	"github.com/pkg/errors"
)

// Class is the template objects are created from: a key shape plus the
// member fields every instance carries.
type Class struct {
	name    string
	key     *PrimaryKey
	members *field.Set
}

// ClassBuilder accumulates the definition of a Class.
type ClassBuilder struct {
	name    string
	key     *PrimaryKey
	members []field.Value
}

func NewClassBuilder(name string) *ClassBuilder {
	return &ClassBuilder{name: name}
}

func (b *ClassBuilder) WithPrimaryKey(pk *PrimaryKey) *ClassBuilder {
	b.key = pk
	return b
}

func (b *ClassBuilder) Add(values ...field.Value) *ClassBuilder {
	b.members = append(b.members, values...)
	return b
}

// Build validates the definition. The key and members are cloned, so the
// builder inputs can be reused afterwards.
func (b *ClassBuilder) Build() (*Class, error) {
	if b.key == nil {
		return nil, errors.Wrap(ErrMissingPrimaryKey, b.name)
	}

	members := &field.Set{}
	for _, v := range b.members {
		if v == nil {
			return nil, errors.Errorf("class %s: member can not be nil", b.name)
		}
		if b.key.fields.Contains(v.Name()) {
			return nil, errors.Wrapf(field.ErrDuplicateField, "class %s: %s is part of the primary key", b.name, v.Name())
		}
		if err := members.Insert(v.Clone()); err != nil {
			return nil, errors.Wrapf(err, "class %s", b.name)
		}
	}

	return &Class{name: b.name, key: b.key.Clone(), members: members}, nil
}

func (c *Class) Name() string { return c.name }

func (c *Class) MemberCount() int { return c.members.Len() }

// Members lists member names in declaration order.
func (c *Class) Members() []string { return c.members.Names() }

// KeyTemplate returns a copy of the class key.
func (c *Class) KeyTemplate() *PrimaryKey { return c.key.Clone() }

// CreatePrimaryKey returns a fresh key of the class shape.
func (c *Class) CreatePrimaryKey() *PrimaryKey { return c.key.Clone() }

// CreateObject instantiates the class for candidate, which must match the
// key shape. The object owns copies of the key and the member templates.
func (c *Class) CreateObject(candidate *PrimaryKey) (*Object, error) {
	if candidate == nil {
		return nil, errors.Wrapf(ErrKeyShapeMismatch, "class %s: nil key", c.name)
	}
	if !candidate.Matches(c.key) {
		return nil, errors.Wrapf(ErrKeyShapeMismatch, "class %s: expected %s got %s", c.name, c.key, candidate)
	}
	return newObject(c, candidate.Clone(), c.members.Clone()), nil
}

func (c *Class) String() string {
	return fmt.Sprintf("persistence.Class { Name=%s | PrimaryKey=[%s] | Members=[%s] }",
		c.name, strings.Join(c.key.Names(), ","), strings.Join(c.members.Names(), ","))
}
