package config

import (
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-persistence/cache"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, PERSIST_DATABASE_DSN
// for database.dsn. Credentials of a connection are overridden per name,
// PERSIST_CONNECTION_MAIN_PASSWORD for the password of connection main.
const EnvPrefix = "PERSIST"

// envKeys are the scalar settings an environment variable can set even
// when the file leaves them out.
var envKeys = []string{
	"database.name",
	"database.driver",
	"database.dsn",
	"max_commit_pending",
}

// Drivers accepted in database.driver.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverMock     = "mock"
)

// Config is the schema file: the database, its storages, the classes
// mapped to tables and the statements used to access them.
type Config struct {
	Database         Database    `mapstructure:"database" yaml:"database"`
	Storages         []Storage   `mapstructure:"storages" yaml:"storages"`
	Classes          []Class     `mapstructure:"classes" yaml:"classes"`
	Statements       []Statement `mapstructure:"statements" yaml:"statements"`
	MaxCommitPending int         `mapstructure:"max_commit_pending" yaml:"max_commit_pending"`
}

type Database struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Driver      string       `mapstructure:"driver" yaml:"driver"`
	DSN         string       `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Connections []Connection `mapstructure:"connections" yaml:"connections"`
}

type Connection struct {
	Name     string `mapstructure:"name" yaml:"name"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"-"`
}

type Storage struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Cache Cache  `mapstructure:"cache" yaml:"cache"`
}

// Cache mirrors cache.Config. Zero values take the cache defaults.
type Cache struct {
	Capacity           int           `mapstructure:"capacity" yaml:"capacity"`
	Policy             string        `mapstructure:"policy" yaml:"policy,omitempty"`
	Shards             int           `mapstructure:"shards" yaml:"shards,omitempty"`
	TTL                time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
	EvictionPercentage int           `mapstructure:"eviction_percentage" yaml:"eviction_percentage,omitempty"`
}

type Class struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Table defaults to the plural snake case of Name.
	Table      string  `mapstructure:"table" yaml:"table"`
	PrimaryKey []Field `mapstructure:"primary_key" yaml:"primary_key"`
	Members    []Field `mapstructure:"members" yaml:"members"`
}

type Field struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Type     string `mapstructure:"type" yaml:"type"`
	Size     int    `mapstructure:"size" yaml:"size,omitempty"`
	Nullable bool   `mapstructure:"nullable" yaml:"nullable,omitempty"`
}

// Statement declares a prepared statement over the table of Class.
// {table} in Expression is replaced by the class table.
type Statement struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Class      string   `mapstructure:"class" yaml:"class"`
	Kind       string   `mapstructure:"kind" yaml:"kind"`
	Expression string   `mapstructure:"expression" yaml:"expression"`
	Inputs     []string `mapstructure:"inputs" yaml:"inputs,omitempty"`
	Outputs    []string `mapstructure:"outputs" yaml:"outputs,omitempty"`
}

// Load reads the file at path. The format follows the extension (yaml,
// json or toml), environment variables prefixed with EnvPrefix override
// file values. The result has defaults applied and is validated.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return decode(v)
}

// Read is Load for an in-memory document of the given format.
func Read(r io.Reader, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	v.SetDefault("database.name", "default")
	v.SetDefault("max_commit_pending", 0)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.ApplyDefaults()
	for i := range cfg.Database.Connections {
		conn := &cfg.Database.Connections[i]
		prefix := "connection." + conn.Name + "."
		if user := v.GetString(prefix + "user"); user != "" {
			conn.User = user
		}
		if password := v.GetString(prefix + "password"); password != "" {
			conn.Password = password
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills class tables, storage modes and connection names.
func (c *Config) ApplyDefaults() {
	for i := range c.Classes {
		if c.Classes[i].Table == "" {
			c.Classes[i].Table = TableName(c.Classes[i].Name)
		}
	}
	for i := range c.Storages {
		if c.Storages[i].Mode == "" {
			c.Storages[i].Mode = persistence.ReadWrite.String()
		}
	}
	if len(c.Database.Connections) == 0 {
		c.Database.Connections = []Connection{{Name: "default"}}
	}
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Database),
		validation.Field(&c.Storages),
		validation.Field(&c.Classes),
		validation.Field(&c.Statements),
		validation.Field(&c.MaxCommitPending, validation.Min(0)),
	)
	if err != nil {
		return err
	}

	if err := unique("storage", len(c.Storages), func(i int) string { return c.Storages[i].Name }); err != nil {
		return err
	}
	if err := unique("class", len(c.Classes), func(i int) string { return c.Classes[i].Name }); err != nil {
		return err
	}
	if err := unique("statement", len(c.Statements), func(i int) string { return c.Statements[i].Name }); err != nil {
		return err
	}
	if err := unique("connection", len(c.Database.Connections), func(i int) string { return c.Database.Connections[i].Name }); err != nil {
		return err
	}

	for _, s := range c.Statements {
		class, ok := c.Class(s.Class)
		if !ok {
			return errors.Errorf("statement %s: unknown class %q", s.Name, s.Class)
		}
		if _, _, err := resolve(s, class); err != nil {
			return err
		}
	}
	return nil
}

func unique(kind string, n int, name func(int) string) error {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		if _, ok := seen[name(i)]; ok {
			return errors.Errorf("duplicate %s %q", kind, name(i))
		}
		seen[name(i)] = struct{}{}
	}
	return nil
}

// Class finds a class definition by name.
func (c *Config) Class(name string) (Class, bool) {
	for _, cl := range c.Classes {
		if cl.Name == name {
			return cl, true
		}
	}
	return Class{}, false
}

// Statement finds a statement definition by name.
func (c *Config) Statement(name string) (Statement, bool) {
	for _, s := range c.Statements {
		if s.Name == name {
			return s, true
		}
	}
	return Statement{}, false
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Driver, validation.Required,
			validation.In(DriverSQLite, DriverPostgres, DriverBolt, DriverMock)),
		validation.Field(&d.DSN, validation.When(d.Driver != DriverMock, validation.Required)),
		validation.Field(&d.Connections, validation.Required),
	)
}

func (c Connection) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
	)
}

func (s Storage) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Mode, validation.In(persistence.ReadOnly.String(), persistence.ReadWrite.String())),
		validation.Field(&s.Cache),
	)
}

func (c Cache) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Min(0)),
		validation.Field(&c.Policy, validation.In(string(cache.PolicyLRU), string(cache.PolicySharded))),
		validation.Field(&c.Shards, validation.Min(0)),
		validation.Field(&c.EvictionPercentage, validation.Min(0), validation.Max(100)),
	)
}

func (c Class) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.PrimaryKey, validation.Required),
		validation.Field(&c.Members),
	)
}

func (f Field) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Type, validation.Required, validation.By(validType)),
		validation.Field(&f.Size, validation.Min(0)),
	)
}

func (s Statement) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Class, validation.Required),
		validation.Field(&s.Kind, validation.Required, validation.In("query", "command")),
		validation.Field(&s.Expression, validation.Required),
	)
}

// AccessMode parses the storage mode.
func (s Storage) AccessMode() (persistence.AccessMode, error) {
	return persistence.ParseAccessMode(s.Mode)
}

// CacheConfig returns the cache configuration, starting from
// cache.DefaultConfig for unset values.
func (c Cache) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if c.Capacity > 0 {
		cfg.Capacity = c.Capacity
	}
	if c.Policy != "" {
		cfg.Policy = cache.Policy(c.Policy)
	}
	if c.Shards > 0 {
		cfg.NumShards = c.Shards
	}
	if c.TTL > 0 {
		cfg.TTL = c.TTL
	}
	if c.EvictionPercentage > 0 {
		cfg.EvictionPercentage = c.EvictionPercentage
	}
	return cfg
}

// StorageOptions translates the storage section into persistence options.
func (s Storage) StorageOptions() ([]persistence.StorageOption, error) {
	mode, err := s.AccessMode()
	if err != nil {
		return nil, errors.Wrapf(err, "storage %s", s.Name)
	}
	return []persistence.StorageOption{
		persistence.WithCacheConfig(s.Cache.CacheConfig()),
		persistence.WithAccessMode(mode),
	}, nil
}
