package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-persistence/dbms/mockdb"
	"gopkg.in/yaml.v3"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureYAML loads a YAML fixture and decodes it into dest.
func LoadFixtureYAML(t *testing.T, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := yaml.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal YAML fixture from %s: %v", path, err)
	}
}

// WriteFile writes content to name inside a per-test temporary directory
// and returns the full path. The directory is removed with the test.
func WriteFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t *testing.T, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("failed to create directory for %s: %v", path, err)
			}
			if err := os.WriteFile(path, actual, 0o644); err != nil {
				t.Fatalf("failed to write golden file %s: %v", path, err)
			}
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if !bytes.Equal(actual, expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// SeedRows (re)creates table with keyColumns leading key values and fills
// it with n rows built by row.
func SeedRows(t *testing.T, store *mockdb.Store, table string, keyColumns, n int, row func(i int) []any) {
	t.Helper()

	store.CreateTable(table, keyColumns)
	for i := 0; i < n; i++ {
		if err := store.Put(table, row(i)...); err != nil {
			t.Fatalf("failed to seed %s row %d: %v", table, i, err)
		}
	}
}

// NamedRows is a SeedRows row builder producing (i, "<prefix> i").
func NamedRows(prefix string) func(i int) []any {
	return func(i int) []any {
		return []any{int64(i), fmt.Sprintf("%s %d", prefix, i)}
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
