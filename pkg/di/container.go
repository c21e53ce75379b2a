package di

import (
	"context"
	"io"
	"log/slog"

	"github.com/goliatone/go-persistence/config"
	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/dbms/boltdb"
	"github.com/goliatone/go-persistence/dbms/mockdb"
	"github.com/goliatone/go-persistence/dbms/sqldb"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/goliatone/go-persistence/repositorycache"
	"github.com/pkg/errors"
)

// Container wires the components described by a config.Config: the
// driver, the database with its connections and statements, the classes
// and a repository holding the storages.
type Container struct {
	cfg *config.Config
	log *slog.Logger

	driver  dbms.Driver
	mock    *mockdb.Store
	closers []io.Closer

	db      *dbms.Database
	repo    *persistence.Repository
	classes map[string]*persistence.Class
}

// Option configures a Container.
type Option func(*Container)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithDriver uses driver instead of the one named by database.driver.
// The container does not close it.
func WithDriver(driver dbms.Driver) Option {
	return func(c *Container) { c.driver = driver }
}

// WithMockStore runs the mock driver over store. The caller creates the
// tables, which lets tests seed data before the container is built.
func WithMockStore(store *mockdb.Store) Option {
	return func(c *Container) {
		c.mock = store
		c.driver = store.Driver()
	}
}

// NewContainer builds every component of cfg. Connections are not opened
// until Start.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config can not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	c := &Container{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.build(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	if c.driver == nil {
		if err := c.openDriver(ctx); err != nil {
			return err
		}
	}

	dbcfg := c.cfg.Database
	c.db = dbms.NewDatabase(dbcfg.Name, c.driver, dbms.WithLogger(c.log))
	for _, conn := range dbcfg.Connections {
		_, err := c.db.CreateConnection(ctx, dbms.ConnectionConfig{
			Name:     conn.Name,
			User:     conn.User,
			Password: conn.Password,
		})
		if err != nil {
			return err
		}
	}

	classes, err := config.BuildClasses(c.cfg.Classes)
	if err != nil {
		return err
	}
	c.classes = classes

	stmts, err := config.StatementConfigs(c.cfg.Statements, c.cfg.Classes)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := c.db.CreateStatement(stmt); err != nil {
			return err
		}
	}

	c.repo = persistence.NewRepository(dbcfg.Name, persistence.WithRepositoryLogger(c.log))
	for _, class := range c.cfg.Classes {
		if err := c.repo.RegisterClass(classes[class.Name]); err != nil {
			return err
		}
	}
	for _, s := range c.cfg.Storages {
		opts, err := s.StorageOptions()
		if err != nil {
			return err
		}
		if _, err := c.repo.CreateStorage(s.Name, opts...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) openDriver(ctx context.Context) error {
	dbcfg := c.cfg.Database
	switch dbcfg.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		d, err := sqldb.Open(ctx, dbcfg.Driver, dbcfg.DSN)
		if err != nil {
			return err
		}
		c.driver = d
		c.closers = append(c.closers, d)
	case config.DriverBolt:
		d, err := boltdb.Open(dbcfg.DSN, boltdb.Options{})
		if err != nil {
			return err
		}
		c.driver = d
		c.closers = append(c.closers, d)
	case config.DriverMock:
		c.mock = mockdb.New()
		for _, class := range c.cfg.Classes {
			c.mock.CreateTable(class.Table, len(class.PrimaryKey))
		}
		c.driver = c.mock.Driver()
	default:
		return errors.Errorf("unsupported driver %q", dbcfg.Driver)
	}
	c.log.Debug("driver opened", "driver", dbcfg.Driver)
	return nil
}

func (c *Container) Config() *config.Config              { return c.cfg }
func (c *Container) Driver() dbms.Driver                 { return c.driver }
func (c *Container) Database() *dbms.Database            { return c.db }
func (c *Container) Repository() *persistence.Repository { return c.repo }

// MockStore returns the in-memory store when the mock driver is used.
func (c *Container) MockStore() *mockdb.Store { return c.mock }

func (c *Container) Class(name string) (*persistence.Class, error) {
	return c.repo.Class(name)
}

func (c *Container) Statement(name string) (*dbms.Statement, error) {
	return c.db.Statement(name)
}

func (c *Container) Connection(name string) (*dbms.Connection, error) {
	return c.db.Connection(name)
}

func (c *Container) Storage(name string) (*persistence.Storage, error) {
	return c.repo.Storage(name)
}

// Start opens the database connections.
func (c *Container) Start(ctx context.Context) error {
	return c.db.Start(ctx)
}

// WithGuard runs fn under a guard on the named connection, with commit
// batching set from max_commit_pending.
func (c *Container) WithGuard(ctx context.Context, connection string, fn func(*dbms.GuardConnection) error) error {
	conn, err := c.db.Connection(connection)
	if err != nil {
		return err
	}
	return dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
		gc.SetMaxCommitPending(c.cfg.MaxCommitPending)
		return fn(gc)
	})
}

// Close stops the database and closes drivers opened by the container.
func (c *Container) Close() error {
	var firstErr error
	if c.db != nil && c.db.IsRunning() {
		firstErr = c.db.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// NewCachedRepository creates a typed repository over the named storage.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[User](container, "users", mapping)
func NewCachedRepository[T any](c *Container, storage string, mapping repositorycache.Mapping[T]) (*repositorycache.CachedRepository[T], error) {
	s, err := c.repo.Storage(storage)
	if err != nil {
		return nil, err
	}
	return repositorycache.New(s, mapping)
}
