package config

import (
	"strings"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/jinzhu/inflection"
	"github.com/pkg/errors"
)

func validType(value any) error {
	s, _ := value.(string)
	_, err := field.ParseType(s)
	return err
}

// TableName derives a table from a class name: "OrderLine" becomes
// "order_lines".
func TableName(class string) string {
	return inflection.Plural(toSnake(class))
}

// Build creates an empty field value from the definition.
func (f Field) Build() (field.Value, error) {
	typ, err := field.ParseType(f.Type)
	if err != nil {
		return nil, errors.Wrap(err, f.Name)
	}
	var opts []field.Option
	if f.Nullable {
		opts = append(opts, field.Nullable())
	}
	return field.New(f.Name, typ, f.Size, opts...)
}

func buildFields(fields []Field) ([]field.Value, error) {
	out := make([]field.Value, 0, len(fields))
	for _, f := range fields {
		v, err := f.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// BuildClass turns a class definition into a persistence class.
func BuildClass(c Class) (*persistence.Class, error) {
	keyFields, err := buildFields(c.PrimaryKey)
	if err != nil {
		return nil, errors.Wrapf(err, "class %s key", c.Name)
	}
	key, err := persistence.NewPrimaryKeyBuilder().Add(keyFields...).Build()
	if err != nil {
		return nil, errors.Wrapf(err, "class %s", c.Name)
	}

	members, err := buildFields(c.Members)
	if err != nil {
		return nil, errors.Wrapf(err, "class %s members", c.Name)
	}
	return persistence.NewClassBuilder(c.Name).WithPrimaryKey(key).Add(members...).Build()
}

// BuildClasses builds every class, keyed by name.
func BuildClasses(classes []Class) (map[string]*persistence.Class, error) {
	out := make(map[string]*persistence.Class, len(classes))
	for _, c := range classes {
		if _, ok := out[c.Name]; ok {
			return nil, errors.Wrap(persistence.ErrDuplicateClass, c.Name)
		}
		built, err := BuildClass(c)
		if err != nil {
			return nil, err
		}
		out[c.Name] = built
	}
	return out, nil
}

// StatementConfigs resolves statement definitions against their classes.
// Without explicit inputs a query binds the key and reads the members,
// while a command binds the key followed by the members.
func StatementConfigs(statements []Statement, classes []Class) ([]dbms.StatementConfig, error) {
	byName := make(map[string]Class, len(classes))
	for _, c := range classes {
		byName[c.Name] = c
	}

	out := make([]dbms.StatementConfig, 0, len(statements))
	for _, s := range statements {
		class, ok := byName[s.Class]
		if !ok {
			return nil, errors.Errorf("statement %s: unknown class %q", s.Name, s.Class)
		}
		inputs, outputs, err := resolve(s, class)
		if err != nil {
			return nil, err
		}

		kind := dbms.Query
		if s.Kind == "command" {
			kind = dbms.Command
		}
		out = append(out, dbms.StatementConfig{
			Name:       s.Name,
			Expression: s.ExpandedExpression(class),
			Kind:       kind,
			Inputs:     inputs,
			Outputs:    outputs,
		})
	}
	return out, nil
}

// ExpandedExpression replaces the {table} placeholder.
func (s Statement) ExpandedExpression(class Class) string {
	table := class.Table
	if table == "" {
		table = TableName(class.Name)
	}
	return strings.ReplaceAll(s.Expression, "{table}", table)
}

func resolve(s Statement, class Class) (inputs, outputs []field.Value, err error) {
	inNames, outNames := s.Inputs, s.Outputs
	if len(inNames) == 0 {
		inNames = names(class.PrimaryKey)
		if s.Kind == "command" {
			inNames = append(inNames, names(class.Members)...)
		}
	}
	if len(outNames) == 0 && s.Kind != "command" {
		outNames = names(class.Members)
	}

	if inputs, err = lookup(s, class, inNames); err != nil {
		return nil, nil, err
	}
	if outputs, err = lookup(s, class, outNames); err != nil {
		return nil, nil, err
	}
	return inputs, outputs, nil
}

func lookup(s Statement, class Class, wanted []string) ([]field.Value, error) {
	out := make([]field.Value, 0, len(wanted))
	for _, name := range wanted {
		def, ok := class.field(name)
		if !ok {
			return nil, errors.Wrapf(field.ErrFieldNotFound, "statement %s: %s.%s", s.Name, class.Name, name)
		}
		v, err := def.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c Class) field(name string) (Field, bool) {
	for _, f := range c.PrimaryKey {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range c.Members {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
