package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-persistence/cache"
	"github.com/goliatone/go-persistence/dbms"
	"github.com/goliatone/go-persistence/field"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/goliatone/go-persistence/pkg/testsupport"
)

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(testsupport.FixturePath("schema.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Name != "shop" || cfg.Database.Driver != DriverMock {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if len(cfg.Database.Connections) != 2 || cfg.Database.Connections[1].User != "loader" {
		t.Fatalf("unexpected connections %+v", cfg.Database.Connections)
	}
	if cfg.MaxCommitPending != 64 {
		t.Fatalf("expected max_commit_pending 64, got %d", cfg.MaxCommitPending)
	}

	catalog := cfg.Storages[1]
	if catalog.Cache.TTL != time.Hour || catalog.Cache.Shards != 8 {
		t.Fatalf("unexpected cache section %+v", catalog.Cache)
	}
	if mode, err := catalog.AccessMode(); err != nil || mode != persistence.ReadOnly {
		t.Fatalf("expected read_only, got %v (%v)", mode, err)
	}

	customer, ok := cfg.Class("customer")
	if !ok || customer.Table != "customers" {
		t.Fatalf("expected default table customers, got %+v", customer)
	}
	line, _ := cfg.Class("OrderLine")
	if line.Table != "order_lines" {
		t.Fatalf("expected table order_lines, got %q", line.Table)
	}
}

func TestYAMLTagsMatchLoad(t *testing.T) {
	var raw Config
	testsupport.LoadFixtureYAML(t, testsupport.FixturePath("schema.yaml"), &raw)

	cfg, err := Load(testsupport.FixturePath("schema.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if raw.Database.Name != cfg.Database.Name || raw.MaxCommitPending != cfg.MaxCommitPending {
		t.Fatalf("yaml decode disagrees with Load: %+v", raw.Database)
	}
	if len(raw.Statements) != len(cfg.Statements) || raw.Statements[2].Inputs[0] != "id" {
		t.Fatalf("unexpected statements %+v", raw.Statements)
	}
	if raw.Storages[1].Cache.TTL != cfg.Storages[1].Cache.TTL {
		t.Fatalf("ttl = %v, want %v", raw.Storages[1].Cache.TTL, cfg.Storages[1].Cache.TTL)
	}
	// raw skips ApplyDefaults
	if raw.Classes[0].Table != "" {
		t.Fatalf("expected empty table before defaults, got %q", raw.Classes[0].Table)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	cfg, err := Load(testsupport.FixturePath("schema.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Database.Connections) != 1 || cfg.Database.Connections[0].Name != "default" {
		t.Fatalf("expected a default connection, got %+v", cfg.Database.Connections)
	}
	person, _ := cfg.Class("person")
	if person.Table != "people" {
		t.Fatalf("expected table people, got %q", person.Table)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PERSIST_DATABASE_DSN", "file:override.db")

	cfg, err := Load(testsupport.FixturePath("schema.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Fatalf("expected env override, got %q", cfg.Database.DSN)
	}
}

func TestLoadEnvOverrideAbsentKey(t *testing.T) {
	t.Setenv("PERSIST_DATABASE_DSN", "file:override.db")
	t.Setenv("PERSIST_MAX_COMMIT_PENDING", "8")
	t.Setenv("PERSIST_CONNECTION_BATCH_PASSWORD", "s3cret")
	t.Setenv("PERSIST_CONNECTION_MAIN_USER", "ops")

	// schema.yaml sets no dsn and no credentials.
	cfg, err := Load(testsupport.FixturePath("schema.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Errorf("dsn = %q, want the env override", cfg.Database.DSN)
	}
	if cfg.MaxCommitPending != 8 {
		t.Errorf("max_commit_pending = %d, want 8", cfg.MaxCommitPending)
	}

	byName := map[string]Connection{}
	for _, c := range cfg.Database.Connections {
		byName[c.Name] = c
	}
	if got := byName["batch"]; got.User != "loader" || got.Password != "s3cret" {
		t.Errorf("batch = %+v, want file user and env password", got)
	}
	if got := byName["main"]; got.User != "ops" || got.Password != "" {
		t.Errorf("main = %+v, want env user only", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testsupport.FixturePath("missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: Database{Name: "db", Driver: DriverSQLite, DSN: "file:x.db", Connections: []Connection{{Name: "main"}}},
			Classes: []Class{{
				Name:       "customer",
				Table:      "customers",
				PrimaryKey: []Field{{Name: "id", Type: "integer"}},
				Members:    []Field{{Name: "name", Type: "string", Size: 32}},
			}},
			Statements: []Statement{{Name: "read", Class: "customer", Kind: "query", Expression: "SELECT name FROM {table} WHERE id = ?"}},
			Storages:   []Storage{{Name: "customers", Mode: "read_write"}},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no connections", func(c *Config) { c.Database.Connections = nil }},
		{"bad field type", func(c *Config) { c.Classes[0].Members[0].Type = "money" }},
		{"class without key", func(c *Config) { c.Classes[0].PrimaryKey = nil }},
		{"bad mode", func(c *Config) { c.Storages[0].Mode = "append" }},
		{"bad policy", func(c *Config) { c.Storages[0].Cache.Policy = "fifo" }},
		{"bad kind", func(c *Config) { c.Statements[0].Kind = "procedure" }},
		{"unknown class", func(c *Config) { c.Statements[0].Class = "order" }},
		{"unknown output", func(c *Config) { c.Statements[0].Outputs = []string{"email"} }},
		{"duplicate storage", func(c *Config) { c.Storages = append(c.Storages, c.Storages[0]) }},
		{"negative pending", func(c *Config) { c.MaxCommitPending = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	mock := base()
	mock.Database.Driver = DriverMock
	mock.Database.DSN = ""
	if err := mock.Validate(); err != nil {
		t.Fatalf("mock driver does not need a dsn: %v", err)
	}
}

func TestLoadInvalidStatement(t *testing.T) {
	_, err := Load(testsupport.FixturePath("invalid_statement.yaml"))
	if !errors.Is(err, field.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestRead(t *testing.T) {
	doc := `
database: {name: db, driver: bolt, dsn: /tmp/x.db}
classes:
  - name: tag
    primary_key: [{name: label, type: text, size: 16}]
`
	cfg, err := Read(strings.NewReader(doc), "yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.Database.Driver != DriverBolt || cfg.Classes[0].Table != "tags" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestCacheConfig(t *testing.T) {
	got := Cache{}.CacheConfig()
	if got != cache.DefaultConfig() {
		t.Fatalf("empty section should use the defaults, got %+v", got)
	}

	got = Cache{Capacity: 10, Policy: "sharded", Shards: 2, TTL: time.Minute, EvictionPercentage: 50}.CacheConfig()
	want := cache.Config{Capacity: 10, Policy: cache.PolicySharded, NumShards: 2, TTL: time.Minute, EvictionPercentage: 50}
	if got != want {
		t.Fatalf("CacheConfig = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBuildClasses(t *testing.T) {
	cfg, err := Load(testsupport.FixturePath("schema.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	classes, err := BuildClasses(cfg.Classes)
	if err != nil {
		t.Fatalf("BuildClasses: %v", err)
	}
	customer := classes["customer"]
	if customer == nil || customer.MemberCount() != 2 {
		t.Fatalf("unexpected customer class %v", customer)
	}
	if got := customer.KeyTemplate().Names(); len(got) != 1 || got[0] != "id" {
		t.Fatalf("unexpected key %v", got)
	}

	obj, err := customer.CreateObject(customer.CreatePrimaryKey())
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if null, _ := obj.IsNull("joined"); !null {
		t.Fatal("nullable member should start null")
	}

	if _, err := BuildClasses(append(cfg.Classes, cfg.Classes[0])); !errors.Is(err, persistence.ErrDuplicateClass) {
		t.Fatalf("expected ErrDuplicateClass, got %v", err)
	}
}

func TestStatementConfigs(t *testing.T) {
	cfg, err := Load(testsupport.FixturePath("schema.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	stmts, err := StatementConfigs(cfg.Statements, cfg.Classes)
	if err != nil {
		t.Fatalf("StatementConfigs: %v", err)
	}
	byName := make(map[string]dbms.StatementConfig, len(stmts))
	for _, s := range stmts {
		byName[s.Name] = s
	}

	tests := []struct {
		name       string
		expression string
		kind       dbms.StatementKind
		inputs     []string
		outputs    []string
	}{
		{"read_customer", "read customers", dbms.Query, []string{"id"}, []string{"name", "joined"}},
		{"write_customer", "write customers", dbms.Command, []string{"id", "name", "joined"}, nil},
		{"delete_customer", "delete customers", dbms.Command, []string{"id"}, nil},
		{"read_line", "read order_lines", dbms.Query, []string{"order_id", "line"}, []string{"amount"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := byName[tt.name]
			if !ok {
				t.Fatalf("statement %s missing", tt.name)
			}
			if s.Expression != tt.expression || s.Kind != tt.kind {
				t.Fatalf("unexpected statement %+v", s)
			}
			assertNames(t, "inputs", s.Inputs, tt.inputs)
			assertNames(t, "outputs", s.Outputs, tt.outputs)
		})
	}
}

func assertNames(t *testing.T, what string, values []field.Value, want []string) {
	t.Helper()
	if len(values) != len(want) {
		t.Fatalf("%s: expected %v, got %d values", what, want, len(values))
	}
	for i, v := range values {
		if v.Name() != want[i] {
			t.Fatalf("%s[%d]: expected %s, got %s", what, i, want[i], v.Name())
		}
	}
}

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"customer":    "customers",
		"OrderLine":   "order_lines",
		"HTTPRequest": "http_requests",
		"person":      "people",
		"line-item":   "line_items",
	}
	for in, want := range tests {
		if got := TableName(in); got != want {
			t.Errorf("TableName(%q) = %q, want %q", in, got, want)
		}
	}
}
