package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/opsforge/pkg/engine"
	"github.com/opsforge/opsforge/pkg/playbook"
)

// newTestRunner builds a runner over a temporary playbook root holding
// a mysql playbook. The fake engine binary just echoes its arguments.
func newTestRunner(t *testing.T, binary string) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "mysql.yml"), []byte("---\n- hosts: all\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	catalog, err := playbook.NewCatalog(root)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	scratch := t.TempDir()
	r := New(Options{
		EngineBinary: binary,
		ScratchDir:   scratch,
		KeyDir:       t.TempDir(),
		Catalog:      catalog,
	})
	return r, scratch
}

func testHosts() []engine.TargetHost {
	return []engine.TargetHost{
		{Address: "10.0.0.1", AuthMode: engine.AuthModePassword, Password: "pw", Role: "primary"},
	}
}

func TestStartSuccessfulRun(t *testing.T) {
	r, scratch := newTestRunner(t, "echo")

	handle, err := r.Start(context.Background(), Request{
		Kind:      engine.KindMySQL,
		Hosts:     testHosts(),
		ExtraVars: map[string]interface{}{"replica_count": 2},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if handle.RunID == "" {
		t.Error("RunID is empty")
	}

	result := handle.Wait()
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "--inventory") {
		t.Errorf("stdout = %q, want echoed engine arguments", result.Stdout)
	}

	// Extra vars travel as one JSON argument.
	if !strings.Contains(result.Stdout, `{"replica_count":2}`) {
		t.Errorf("stdout = %q, want serialized extra vars", result.Stdout)
	}

	// The conventional artifact path is injected even when the output
	// carried no credentials.
	if got, _ := result.Credentials.Get("mysql", "path"); got != "/root/.my.cnf" {
		t.Errorf("mysql path = %q, want default artifact path", got)
	}

	// Ephemeral inventory is removed once the run completes.
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned up: %v", entries)
	}
}

func TestStartEmptyExtraVars(t *testing.T) {
	r, _ := newTestRunner(t, "echo")

	handle, err := r.Start(context.Background(), Request{Kind: engine.KindMySQL, Hosts: testHosts()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result := handle.Wait()
	if !strings.Contains(result.Stdout, "--extra-vars {}") {
		t.Errorf("stdout = %q, want empty JSON object for unset extra vars", result.Stdout)
	}
	if strings.Contains(result.Stdout, "null") {
		t.Errorf("stdout = %q, nil extra vars leaked as null", result.Stdout)
	}
}

func TestStartForwardsBothStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}

	script := `#!/bin/sh
i=0
while [ "$i" -lt 500 ]; do
  echo "ok: [10.0.0.1]"
  echo "engine warning $i" >&2
  i=$((i+1))
done
`
	binary := filepath.Join(t.TempDir(), "fake-engine")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRunner(t, binary)

	// The subscriber is deliberately unsynchronized: stdout and stderr
	// arrive on separate goroutines, and emission must be serialized
	// before it reaches the subscriber.
	var events []engine.ProgressEvent
	handle, err := r.Start(context.Background(), Request{
		Kind:  engine.KindMySQL,
		Hosts: testHosts(),
		Subscriber: func(ev engine.ProgressEvent) {
			events = append(events, ev)
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result := handle.Wait()
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}

	counts := make(map[engine.EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts[engine.EventTaskResult] != 500 {
		t.Errorf("task_result events = %d, want 500", counts[engine.EventTaskResult])
	}
	if counts[engine.EventError] != 500 {
		t.Errorf("error events = %d, want 500", counts[engine.EventError])
	}
	if got := strings.Count(result.Stderr, "\n"); got != 500 {
		t.Errorf("stderr lines = %d, want 500 retained verbatim", got)
	}
}

func TestStartSpawnFailure(t *testing.T) {
	r, scratch := newTestRunner(t, "no-such-engine-binary-for-tests")

	handle, err := r.Start(context.Background(), Request{Kind: engine.KindMySQL, Hosts: testHosts()})
	if err != nil {
		t.Fatalf("Start() error = %v; spawn failures are delivered through the handle", err)
	}

	result := handle.Wait()
	if result.Success {
		t.Fatal("result reports success for an unspawnable engine")
	}
	if result.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "failed to start automation engine") {
		t.Errorf("error = %q, want spawn failure", result.Error)
	}
	if result.Stdout != "" || result.Stderr != "" {
		t.Errorf("spawn failure retained output: stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}

	// Cleanup still runs when the process never started.
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned up: %v", entries)
	}
}

func TestStartMissingPlaybook(t *testing.T) {
	r, _ := newTestRunner(t, "echo")

	_, err := r.Start(context.Background(), Request{Kind: engine.KindMongoDB, Hosts: testHosts()})
	if !engine.IsValidation(err) {
		t.Errorf("Start() error = %v, want validation error for missing playbook", err)
	}
}

func TestExecutionDone(t *testing.T) {
	r, _ := newTestRunner(t, "echo")

	handle, err := r.Start(context.Background(), Request{Kind: engine.KindMySQL, Hosts: testHosts()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("run did not complete")
	}

	// Wait after Done returns the settled result immediately.
	if result := handle.Wait(); result.RunID != handle.RunID {
		t.Errorf("result run id = %q, want %q", result.RunID, handle.RunID)
	}
}

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantCode string
		wantMsg  string
	}{
		{"tasks failed", exitTasksFailed, engine.ErrCodeTasksFailed, "tasks failed"},
		{"unreachable", exitUnreachable, engine.ErrCodeUnreachable, "unreachable"},
		{"other", 99, engine.ErrCodeNonzeroExit, "exited with code 99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyExit(tt.code)
			if !engine.IsRunFailed(err) {
				t.Errorf("classifyExit(%d) class = %v, want run failure", tt.code, err)
			}
			if err.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", err.Code, tt.wantCode)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("message = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}
