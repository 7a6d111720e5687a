// Package inventory builds the target-definition document handed to
// the automation engine and manages its ephemeral file lifecycle.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/engine"
)

// DefaultUser is the fallback login user when no host specifies one.
const DefaultUser = "root"

// KeyPathFunc resolves the ephemeral key-file path for a host using
// key authentication. The builder references the path only; it never
// reads key material.
type KeyPathFunc func(host engine.TargetHost) string

// Build renders the inventory document for the given run kind and
// host list. It is deterministic for identical inputs and does not
// mutate its arguments.
func Build(kind engine.RunKind, hosts []engine.TargetHost, keyPath KeyPathFunc) (string, error) {
	if len(hosts) == 0 {
		return "", engine.NewValidationError("no target hosts", nil).WithCode(engine.ErrCodeNoHosts)
	}

	strategy := engine.StrategyFor(kind)
	groups, aggregate := strategy.Group(hosts)
	if len(groups) == 0 {
		return "", engine.NewValidationError("grouping produced no hosts", nil).WithCode(engine.ErrCodeNoHosts)
	}

	var b strings.Builder
	for _, group := range groups {
		fmt.Fprintf(&b, "[%s]\n", group.Name)
		for _, h := range group.Hosts {
			b.WriteString(hostLine(h, keyPath))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	// Aggregate children group listing every populated group.
	if aggregate != "" {
		fmt.Fprintf(&b, "[%s:children]\n", aggregate)
		for _, group := range groups {
			b.WriteString(group.Name)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString(sharedVars(hosts))
	return b.String(), nil
}

// hostLine renders one per-host inventory entry: address, port, login
// user, exactly one authentication clause, and the elevation directive
// when the host uses an elevated privilege mode.
func hostLine(h engine.TargetHost, keyPath KeyPathFunc) string {
	var b strings.Builder
	b.WriteString(h.Address)
	fmt.Fprintf(&b, " ansible_ssh_port=%d", h.SSHPort())
	if h.User != "" {
		fmt.Fprintf(&b, " ansible_ssh_user=%s", h.User)
	}

	switch h.AuthMode {
	case engine.AuthModeKey:
		fmt.Fprintf(&b, " ansible_ssh_private_key_file=%s", keyPath(h))
	default:
		fmt.Fprintf(&b, " ansible_ssh_pass=%s", h.Password)
	}

	if h.Privilege == engine.PrivilegeElevated {
		secret := h.BecomePassword
		if secret == "" {
			secret = h.Password
		}
		fmt.Fprintf(&b, " ansible_become=true ansible_become_pass=%s", secret)
	}
	return b.String()
}

// sharedVars renders the trailing shared-variables block: the default
// login user, privilege escalation, and connection tuning suppressing
// host-key verification. Target hosts are newly provisioned and have
// no known host key.
func sharedVars(hosts []engine.TargetHost) string {
	user := DefaultUser
	for _, h := range hosts {
		if h.User != "" {
			user = h.User
			break
		}
	}

	var b strings.Builder
	b.WriteString("[all:vars]\n")
	fmt.Fprintf(&b, "ansible_ssh_user=%s\n", user)
	b.WriteString("ansible_become=true\n")
	b.WriteString("ansible_ssh_common_args='-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null'\n")
	b.WriteString("ansible_ssh_timeout=30\n")
	return b.String()
}

// WriteFile writes the document to a uniquely named file under the
// scratch directory. Every file created here must see exactly one
// Remove attempt, regardless of run outcome.
func WriteFile(scratchDir, runID, document string) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", engine.NewInternalError("failed to create scratch directory", err)
	}
	path := filepath.Join(scratchDir, "inventory-"+runID)
	if err := os.WriteFile(path, []byte(document), 0o600); err != nil {
		return "", engine.NewInternalError("failed to write inventory file", err)
	}
	return path, nil
}

// Remove deletes the inventory file. Removal errors are logged and
// swallowed so a failed cleanup never masks the run outcome. Calling
// it twice for the same path is safe.
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove inventory file")
	}
}
