package playbook

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/opsforge/opsforge/pkg/engine"
)

func newTestRoot(t *testing.T, playbooks ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range playbooks {
		if err := os.WriteFile(filepath.Join(root, name), []byte("---\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestPlaybooks(t *testing.T) {
	root := newTestRoot(t, "mysql.yml", "env-check.yml", "notes.txt")
	if err := os.Mkdir(filepath.Join(root, "roles"), 0o755); err != nil {
		t.Fatal(err)
	}

	catalog, err := NewCatalog(root)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	// Sorted, .yml only, directories ignored.
	want := []string{"env-check", "mysql"}
	if got := catalog.Playbooks(); !reflect.DeepEqual(got, want) {
		t.Errorf("Playbooks() = %v, want %v", got, want)
	}
}

func TestPlaybookPath(t *testing.T) {
	root := newTestRoot(t, "mysql.yml")
	catalog, err := NewCatalog(root)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	path, err := catalog.PlaybookPath(engine.KindMySQL)
	if err != nil {
		t.Fatalf("PlaybookPath() error = %v", err)
	}
	if path != filepath.Join(root, "mysql.yml") {
		t.Errorf("PlaybookPath() = %q", path)
	}

	if _, err := catalog.PlaybookPath(engine.KindMongoDB); !engine.IsValidation(err) {
		t.Errorf("PlaybookPath() for missing playbook = %v, want validation error", err)
	}
}

func TestRolesPath(t *testing.T) {
	root := newTestRoot(t, "mysql.yml")
	catalog, err := NewCatalog(root)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	tests := []struct {
		kind engine.RunKind
		want string
	}{
		{engine.KindMySQL, filepath.Join(root, "roles", "mysql")},
		{engine.KindEnvCheck, filepath.Join(root, "roles", "common")},
		{engine.RunKind("redis"), filepath.Join(root, "roles", "common")},
	}
	for _, tt := range tests {
		if got := catalog.RolesPath(tt.kind); got != tt.want {
			t.Errorf("RolesPath(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNewCatalogMissingRoot(t *testing.T) {
	if _, err := NewCatalog(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("NewCatalog() error = nil, want error for missing root")
	}
}
