package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.ListenAddress != ":8780" {
		t.Errorf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.EngineBinary != "ansible-playbook" {
		t.Errorf("engine binary = %q", cfg.EngineBinary)
	}
	if cfg.StorePath != "opsforge.db" {
		t.Errorf("store path = %q", cfg.StorePath)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_address: ":9000"
playbook_root: /opt/playbooks
key_dir: /var/run/opsforge/keys
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Errorf("listen address = %q, want override", cfg.ListenAddress)
	}
	if cfg.PlaybookRoot != "/opt/playbooks" {
		t.Errorf("playbook root = %q, want override", cfg.PlaybookRoot)
	}
	// Unset fields keep their defaults.
	if cfg.EngineBinary != "ansible-playbook" {
		t.Errorf("engine binary = %q, want default", cfg.EngineBinary)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "{not yaml"},
		{"fails validation", `engine_binary: ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() error = nil, want error for missing file")
	}
}
