package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsforge/opsforge/pkg/engine"
)

func testKeyPath(h engine.TargetHost) string {
	return "/tmp/forge-key-test-" + h.Address
}

func TestBuildDeterministic(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw1", Role: "primary"},
		{Address: "10.0.0.2", AuthMode: engine.AuthModePassword, Password: "pw2", Role: "secondary"},
	}

	first, err := Build(engine.KindMySQL, hosts, testKeyPath)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Build(engine.KindMySQL, hosts, testKeyPath)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if again != first {
			t.Fatalf("Build() is not deterministic:\n%s\n---\n%s", first, again)
		}
	}
}

func TestBuildMySQLGrouping(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw", Role: "primary"},
		{Address: "10.0.0.2", AuthMode: engine.AuthModePassword, Password: "pw", Role: "secondary"},
	}

	doc, err := Build(engine.KindMySQL, hosts, testKeyPath)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	primary := section(doc, "primary")
	if !strings.Contains(primary, "10.0.0.1") || strings.Contains(primary, "10.0.0.2") {
		t.Errorf("primary group = %q, want only 10.0.0.1", primary)
	}
	secondary := section(doc, "secondary")
	if !strings.Contains(secondary, "10.0.0.2") || strings.Contains(secondary, "10.0.0.1") {
		t.Errorf("secondary group = %q, want only 10.0.0.2", secondary)
	}
	children := section(doc, "mysql:children")
	if !strings.Contains(children, "primary") || !strings.Contains(children, "secondary") {
		t.Errorf("mysql:children = %q, want both groups", children)
	}
}

func TestBuildMySQLUnsetRoleDefaultsToPrimary(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.9", AuthMode: engine.AuthModePassword, Password: "pw"},
	}
	doc, err := Build(engine.KindMySQL, hosts, testKeyPath)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(section(doc, "primary"), "10.0.0.9") {
		t.Errorf("host with unset role missing from primary group:\n%s", doc)
	}
}

func TestBuildEnvCheckDeduplicates(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.1", Port: 22, AuthMode: engine.AuthModePassword, Password: "pw", Role: "db"},
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw", Role: "web"},
		{Address: "10.0.0.1", Port: 2222, AuthMode: engine.AuthModePassword, Password: "pw", Role: "cache"},
	}

	doc, err := Build(engine.KindEnvCheck, hosts, testKeyPath)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Port 22 appears once (explicit and default are the same host);
	// port 2222 is a distinct endpoint.
	if got := strings.Count(doc, "ansible_ssh_port=22 "); got != 1 {
		t.Errorf("port-22 entries = %d, want 1\n%s", got, doc)
	}
	if got := strings.Count(doc, "ansible_ssh_port=2222"); got != 1 {
		t.Errorf("port-2222 entries = %d, want 1\n%s", got, doc)
	}
}

func TestBuildDefaultKindSingleGroup(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw", Role: "a"},
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw", Role: "b"},
	}
	doc, err := Build(engine.RunKind("redis"), hosts, testKeyPath)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// No deduplication outside env-check.
	if got := strings.Count(doc, "10.0.0.1"); got != 2 {
		t.Errorf("host entries = %d, want 2\n%s", got, doc)
	}
	if strings.Contains(doc, ":children") {
		t.Errorf("unexpected aggregate group:\n%s", doc)
	}
}

func TestHostLine(t *testing.T) {
	tests := []struct {
		name string
		host engine.TargetHost
		want []string
		not  []string
	}{
		{
			name: "password auth",
			host: engine.TargetHost{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, User: "deploy", Password: "s3cret"},
			want: []string{"ansible_ssh_port=22", "ansible_ssh_user=deploy", "ansible_ssh_pass=s3cret"},
			not:  []string{"ansible_ssh_private_key_file", "ansible_become_pass"},
		},
		{
			name: "key auth references key file, never material",
			host: engine.TargetHost{Address: "10.0.0.2", AuthMode: engine.AuthModeKey, PrivateKey: "PRIVATE-KEY-MATERIAL"},
			want: []string{"ansible_ssh_private_key_file=/tmp/forge-key-test-10.0.0.2"},
			not:  []string{"PRIVATE-KEY-MATERIAL", "ansible_ssh_pass"},
		},
		{
			name: "elevated with explicit become password",
			host: engine.TargetHost{Address: "10.0.0.3", AuthMode: engine.AuthModePassword, Password: "login", Privilege: engine.PrivilegeElevated, BecomePassword: "elevate"},
			want: []string{"ansible_become=true", "ansible_become_pass=elevate"},
		},
		{
			name: "elevated falls back to login secret",
			host: engine.TargetHost{Address: "10.0.0.4", AuthMode: engine.AuthModePassword, Password: "login", Privilege: engine.PrivilegeElevated},
			want: []string{"ansible_become_pass=login"},
		},
		{
			name: "custom port",
			host: engine.TargetHost{Address: "10.0.0.5", Port: 2222, AuthMode: engine.AuthModePassword, Password: "pw"},
			want: []string{"ansible_ssh_port=2222"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := hostLine(tt.host, testKeyPath)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("hostLine() = %q, missing %q", line, want)
				}
			}
			for _, not := range tt.not {
				if strings.Contains(line, not) {
					t.Errorf("hostLine() = %q, must not contain %q", line, not)
				}
			}
		})
	}
}

func TestSharedVars(t *testing.T) {
	hosts := []engine.TargetHost{
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw"},
		{Address: "10.0.0.2", AuthMode: engine.AuthModePassword, Password: "pw", User: "admin"},
	}
	vars := sharedVars(hosts)
	if !strings.Contains(vars, "ansible_ssh_user=admin") {
		t.Errorf("sharedVars() = %q, want first specified user", vars)
	}
	if !strings.Contains(vars, "StrictHostKeyChecking=no") {
		t.Errorf("sharedVars() missing host-key suppression: %q", vars)
	}

	none := sharedVars([]engine.TargetHost{{Address: "10.0.0.1"}})
	if !strings.Contains(none, "ansible_ssh_user="+DefaultUser) {
		t.Errorf("sharedVars() = %q, want fallback user %q", none, DefaultUser)
	}
}

func TestBuildNoHosts(t *testing.T) {
	if _, err := Build(engine.KindMySQL, nil, testKeyPath); !engine.IsValidation(err) {
		t.Errorf("Build() error = %v, want validation error", err)
	}
}

func TestWriteFileAndRemove(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir, "run-123", "[all]\n10.0.0.1\n")
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if filepath.Base(path) != "inventory-run-123" {
		t.Errorf("inventory file name = %q", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("inventory file not written: %v", err)
	}

	// Remove is idempotent: the second call must not panic or error.
	Remove(path)
	Remove(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("inventory file still present after Remove()")
	}
}

// section extracts the body of one inventory group for assertions.
func section(doc, name string) string {
	_, rest, ok := strings.Cut(doc, "["+name+"]\n")
	if !ok {
		return ""
	}
	body, _, _ := strings.Cut(rest, "[")
	return body
}
