// Package secrets writes private-key material to short-lived files
// referenced by the inventory document. Key files are namespaced per
// run so concurrent runs against the same host cannot overwrite or
// prematurely delete each other's files.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/opsforge/opsforge/pkg/engine"
)

// KeyWriter manages the ephemeral key files for one run.
type KeyWriter struct {
	dir   string
	runID string

	// written tracks created files so cleanup attempts each exactly once.
	written []string
}

// NewKeyWriter creates a key writer for a run. Files are placed under
// dir; an empty dir falls back to the system temporary directory.
func NewKeyWriter(dir, runID string) *KeyWriter {
	if dir == "" {
		dir = os.TempDir()
	}
	return &KeyWriter{dir: dir, runID: runID}
}

// Path returns the key-file path for a host. The name embeds the run
// ID, giving each run its own namespace.
func (w *KeyWriter) Path(host engine.TargetHost) string {
	return filepath.Join(w.dir, "forge-key-"+w.runID+"-"+sanitizeAddress(host.Address))
}

// WriteAll writes one key file per host using key authentication.
// Key material is validated as a parseable private key before it is
// persisted, so the engine fails here rather than mid-run on every
// host. Hosts using password authentication are skipped.
func (w *KeyWriter) WriteAll(hosts []engine.TargetHost) error {
	for _, h := range hosts {
		if h.AuthMode != engine.AuthModeKey {
			continue
		}
		if _, err := ssh.ParsePrivateKey([]byte(h.PrivateKey)); err != nil {
			return engine.NewValidationError("invalid private key", err).
				WithCode(engine.ErrCodeValidation).
				WithHost(h.Address)
		}
		path := w.Path(h)
		if err := os.WriteFile(path, []byte(h.PrivateKey), 0o600); err != nil {
			w.Cleanup()
			return engine.NewInternalError("failed to write key file", err).WithHost(h.Address)
		}
		w.written = append(w.written, path)
	}
	return nil
}

// Cleanup removes every key file this writer created. Errors are
// logged and swallowed; invoking Cleanup more than once is safe.
func (w *KeyWriter) Cleanup() {
	for _, path := range w.written {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove key file")
		}
	}
	w.written = nil
}

// sanitizeAddress makes a host address safe for use in a file name.
func sanitizeAddress(address string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "\\", "_")
	return r.Replace(address)
}
