package main

import (
	"context"
	"io"
	"strings"

	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/goliatone/go-persistence/pkg/di"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tmthrgd/go-hex"
	"gopkg.in/yaml.v3"
)

// target is what an object command resolves from its STORAGE STATEMENT
// arguments.
type target struct {
	storage *persistence.Storage
	stmt    *dbms.Statement
	class   *persistence.Class
}

func resolveTarget(c *di.Container, storage, statement string) (*target, error) {
	sc, ok := c.Config().Statement(statement)
	if !ok {
		return nil, errors.Errorf("unknown statement %q", statement)
	}
	s, err := c.Storage(storage)
	if err != nil {
		return nil, err
	}
	stmt, err := c.Statement(statement)
	if err != nil {
		return nil, err
	}
	class, err := c.Class(sc.Class)
	if err != nil {
		return nil, err
	}
	return &target{storage: s, stmt: stmt, class: class}, nil
}

// parseAssignments splits name=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, errors.Errorf("expected name=value, got %q", arg)
		}
		if _, dup := values[name]; dup {
			return nil, errors.Errorf("field %q assigned twice", name)
		}
		values[name] = value
	}
	return values, nil
}

// primaryKey builds a key of class from values, consuming the key fields.
func primaryKey(class *persistence.Class, values map[string]string) (*persistence.PrimaryKey, error) {
	key := class.CreatePrimaryKey()
	for _, name := range key.Names() {
		raw, ok := values[name]
		if !ok {
			return nil, errors.Errorf("missing key field %q", name)
		}
		f, err := key.Field(name)
		if err != nil {
			return nil, err
		}
		if err := f.SetInterface(raw); err != nil {
			return nil, errors.Wrapf(err, "key field %s", name)
		}
		delete(values, name)
	}
	return key, nil
}

// withObjectCmd runs fn under a guard for an object command.
func (a *app) withObjectCmd(cmd *cobra.Command, args []string, fn func(ctx context.Context, gc *dbms.GuardConnection, t *target, values map[string]string) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	values, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}

	c, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	t, err := resolveTarget(c, args[0], args[1])
	if err != nil {
		return err
	}
	conn, err := a.connection(c)
	if err != nil {
		return err
	}
	return c.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
		return fn(ctx, gc, t, values)
	})
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load STORAGE STATEMENT KEY=VALUE...",
		Short: "Load an object and print its fields",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withObjectCmd(cmd, args, func(ctx context.Context, gc *dbms.GuardConnection, t *target, values map[string]string) error {
				key, err := primaryKey(t.class, values)
				if err != nil {
					return err
				}
				if len(values) > 0 {
					return errors.Errorf("load takes only key fields, got %d more", len(values))
				}
				return t.storage.View(ctx, gc, persistence.NewPositionalLoader(t.stmt, t.class, key), func(obj *persistence.Object) error {
					return printObject(cmd.OutOrStdout(), obj)
				})
			})
		},
	}
}

func newSaveCmd(a *app) *cobra.Command {
	var nulls []string
	cmd := &cobra.Command{
		Use:   "save STORAGE STATEMENT FIELD=VALUE...",
		Short: "Write an object built from key and member assignments",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withObjectCmd(cmd, args, func(ctx context.Context, gc *dbms.GuardConnection, t *target, values map[string]string) error {
				key, err := primaryKey(t.class, values)
				if err != nil {
					return err
				}
				obj, err := t.class.CreateObject(key)
				if err != nil {
					return err
				}
				for name, raw := range values {
					f, err := obj.Field(name)
					if err != nil {
						return err
					}
					if err := f.SetInterface(raw); err != nil {
						return errors.Wrapf(err, "field %s", name)
					}
				}
				for _, name := range nulls {
					if err := obj.SetNull(name, true); err != nil {
						return err
					}
				}
				recorder := persistence.NewPositionalRecorder(t.stmt, obj, persistence.WithAutoCommit())
				if err := t.storage.Save(ctx, gc, recorder); err != nil {
					return err
				}
				a.log.Info("object saved", "class", t.class.Name(), "key", key.String())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&nulls, "null", nil, "members to store as null")
	return cmd
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase STORAGE STATEMENT KEY=VALUE...",
		Short: "Erase an object by key",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withObjectCmd(cmd, args, func(ctx context.Context, gc *dbms.GuardConnection, t *target, values map[string]string) error {
				key, err := primaryKey(t.class, values)
				if err != nil {
					return err
				}
				eraser := persistence.NewPositionalEraser(t.stmt, t.class, key, persistence.WithAutoCommit())
				if err := t.storage.Erase(ctx, gc, eraser); err != nil {
					return err
				}
				a.log.Info("object erased", "class", t.class.Name(), "key", key.String())
				return nil
			})
		},
	}
}

// printObject writes key fields then members as an ordered yaml mapping.
func printObject(w io.Writer, obj *persistence.Object) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	fields := append(obj.PrimaryKey().Values(), obj.Members()...)
	for _, f := range fields {
		v := f.Interface()
		if b, ok := v.([]byte); ok {
			v = hex.EncodeToString(b)
		}
		val := &yaml.Node{}
		if err := val.Encode(v); err != nil {
			return errors.Wrapf(err, "field %s", f.Name())
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: f.Name()}, val)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
