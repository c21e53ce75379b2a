package persistence

import (
	"fmt"
	"time"

	"github.com/goliatone/go-persistence/field"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Object is an instance of a Class. Getters look at members first and then
// at the key; setters only reach members.
type Object struct {
	class   *Class
	id      uuid.UUID
	key     *PrimaryKey
	members *field.Set
}

func newObject(c *Class, key *PrimaryKey, members *field.Set) *Object {
	return &Object{class: c, id: uuid.New(), key: key, members: members}
}

func (o *Object) Class() *Class { return o.class }

// ID is the internal identity, shared by clones of the same object.
func (o *Object) ID() uuid.UUID { return o.id }

// PrimaryKey returns a copy of the object key.
func (o *Object) PrimaryKey() *PrimaryKey { return o.key.Clone() }

// Members returns the member values in declaration order.
func (o *Object) Members() []field.Value { return o.members.Values() }

func (o *Object) Field(name string) (field.Value, error) {
	if v, err := o.members.Find(name); err == nil {
		return v, nil
	}
	v, err := o.key.fields.Find(name)
	if err != nil {
		return nil, errors.Wrapf(field.ErrFieldNotFound, "%s.%s", o.class.name, name)
	}
	return v, nil
}

func (o *Object) source(name string) *field.Set {
	if o.members.Contains(name) {
		return o.members
	}
	return o.key.fields
}

func (o *Object) Integer(name string) (int64, error)  { return o.source(name).Integer(name) }
func (o *Object) Float(name string) (float64, error)  { return o.source(name).Float(name) }
func (o *Object) Text(name string) (string, error)    { return o.source(name).Text(name) }
func (o *Object) Date(name string) (time.Time, error) { return o.source(name).Date(name) }
func (o *Object) Block(name string) ([]byte, error)   { return o.source(name).Block(name) }

func (o *Object) SetInteger(name string, v int64) error  { return o.members.SetInteger(name, v) }
func (o *Object) SetFloat(name string, v float64) error  { return o.members.SetFloat(name, v) }
func (o *Object) SetText(name, v string) error           { return o.members.SetText(name, v) }
func (o *Object) SetDate(name string, v time.Time) error { return o.members.SetDate(name, v) }
func (o *Object) SetBlock(name string, v []byte) error   { return o.members.SetBlock(name, v) }

// SetNull sets or clears the null flag of a member.
func (o *Object) SetNull(name string, null bool) error {
	v, err := o.members.Find(name)
	if err != nil {
		return err
	}
	return v.SetNull(null)
}

// IsNull reports whether a member or key field is null.
func (o *Object) IsNull(name string) (bool, error) {
	v, err := o.Field(name)
	if err != nil {
		return false, err
	}
	return v.IsNull(), nil
}

// Clone deep copies the object, keeping its ID.
func (o *Object) Clone() *Object {
	return &Object{class: o.class, id: o.id, key: o.key.Clone(), members: o.members.Clone()}
}

// AssignMembers copies member values from other, which must belong to the
// same class.
func (o *Object) AssignMembers(other *Object) error {
	if other.class != o.class {
		return errors.Errorf("assign %s from %s", o.class.name, other.class.name)
	}
	return o.members.AssignFrom(other.members)
}

func (o *Object) String() string {
	return fmt.Sprintf("persistence.Object { Class=%s | ID=%s | PrimaryKey=%s | Members=%s }",
		o.class.name, o.id, o.key.fields, o.members)
}
