package persistence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-persistence/field"
	"github.com/goliatone/go-persistence/persistence"
)

func TestClassBuilder(t *testing.T) {
	if _, err := persistence.NewClassBuilder("nokey").Build(); !errors.Is(err, persistence.ErrMissingPrimaryKey) {
		t.Fatalf("expected ErrMissingPrimaryKey, got %v", err)
	}

	_, err := persistence.NewClassBuilder("clash").
		WithPrimaryKey(intKey(t, "id")).
		Add(field.NewInteger("id")).
		Build()
	if !errors.Is(err, field.ErrDuplicateField) {
		t.Fatalf("expected ErrDuplicateField, got %v", err)
	}

	class, err := persistence.NewClassBuilder("order").
		WithPrimaryKey(intKey(t, "id")).
		Add(field.NewString("status", 16), field.NewDate("placed"), field.NewFloat("total")).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if class.MemberCount() != 3 {
		t.Fatalf("expected 3 members, got %d", class.MemberCount())
	}
	if got := class.Members(); got[0] != "status" || got[2] != "total" {
		t.Fatalf("members out of order: %v", got)
	}
}

func TestClassCreateObject(t *testing.T) {
	class := customerClass(t)

	textKey, _ := persistence.NewPrimaryKeyBuilder().Add(field.NewString("id", 8)).Build()
	tests := []struct {
		name string
		key  *persistence.PrimaryKey
	}{
		{"nil key", nil},
		{"string typed key", textKey},
		{"two field key", intKey(t, "id", "branch")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := class.CreateObject(tt.key); !errors.Is(err, persistence.ErrKeyShapeMismatch) {
				t.Fatalf("expected ErrKeyShapeMismatch, got %v", err)
			}
		})
	}

	key := class.CreatePrimaryKey()
	_ = key.SetInteger("id", 9)
	obj, err := class.CreateObject(key)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	_ = key.SetInteger("id", 10)
	if id, _ := obj.Integer("id"); id != 9 {
		t.Fatalf("object must own its key, got id %d", id)
	}
	if obj.Class() != class {
		t.Fatal("object lost its class")
	}
}

func TestObjectFields(t *testing.T) {
	key := intKey(t, "id")
	class, err := persistence.NewClassBuilder("event").
		WithPrimaryKey(key).
		Add(
			field.NewString("title", 8),
			field.NewDate("at", field.Nullable()),
			field.NewShortBlock("payload", 4),
		).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	obj, err := class.CreateObject(class.CreatePrimaryKey())
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	if err := obj.SetText("title", "launch"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := obj.SetText("title", "far too long"); !errors.Is(err, field.ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
	if err := obj.SetInteger("id", 3); !errors.Is(err, field.ErrFieldNotFound) {
		t.Fatalf("key fields must not be writable through the object, got %v", err)
	}
	if err := obj.SetBlock("payload", []byte{1, 2}); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	if null, _ := obj.IsNull("at"); !null {
		t.Fatal("nullable member should start null")
	}
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := obj.SetDate("at", when); err != nil {
		t.Fatalf("SetDate: %v", err)
	}
	if got, _ := obj.Date("at"); !got.Equal(when) {
		t.Fatalf("unexpected date %v", got)
	}
	if err := obj.SetNull("title", true); !errors.Is(err, field.ErrNotNullable) {
		t.Fatalf("expected ErrNotNullable, got %v", err)
	}

	if _, err := obj.Field("missing"); !errors.Is(err, field.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
	if f, err := obj.Field("id"); err != nil || f.Type() != field.TypeInteger {
		t.Fatalf("expected key field, got %v (%v)", f, err)
	}
}

func TestObjectCloneAndAssign(t *testing.T) {
	class := customerClass(t)
	obj, _ := class.CreateObject(class.CreatePrimaryKey())
	_ = obj.SetText("name", "original")

	clone := obj.Clone()
	_ = clone.SetText("name", "changed")
	if v, _ := obj.Text("name"); v != "original" {
		t.Fatalf("clone must be independent, got %q", v)
	}
	if clone.ID() != obj.ID() {
		t.Fatal("clone keeps the object ID")
	}

	if err := obj.AssignMembers(clone); err != nil {
		t.Fatalf("AssignMembers: %v", err)
	}
	if v, _ := obj.Text("name"); v != "changed" {
		t.Fatalf("expected assigned value, got %q", v)
	}

	other := customerClass(t)
	stranger, _ := other.CreateObject(other.CreatePrimaryKey())
	if err := obj.AssignMembers(stranger); err == nil {
		t.Fatal("expected error assigning from another class")
	}
}
