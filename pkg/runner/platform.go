package runner

import (
	"os/exec"
	"runtime"
	"strings"
)

// compatCommand is the POSIX compatibility layer used when the host
// operating system cannot run the engine natively.
const compatCommand = "wsl"

// needsCompat reports whether engine invocations must be routed
// through the compatibility layer.
func needsCompat() bool {
	return runtime.GOOS == "windows"
}

// translatePath converts a native Windows path to the compatibility
// layer's POSIX syntax: C:\work\inv -> /mnt/c/work/inv. Paths without
// a drive prefix only have their separators normalized.
func translatePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		drive := strings.ToLower(p[:1])
		p = "/mnt/" + drive + p[2:]
	}
	return p
}

// buildCommandLine assembles the engine command line, routing through
// the compatibility layer when required. Filesystem path arguments
// must already be translated by the caller on compat platforms.
func buildCommandLine(binary string, args []string) (string, []string) {
	if !needsCompat() {
		return binary, args
	}
	return compatCommand, append([]string{binary}, args...)
}

// lookupEngine verifies the engine binary (or the compatibility layer
// wrapping it) can be found, so a missing engine surfaces as a spawn
// error rather than a hang.
func lookupEngine(binary string) error {
	name := binary
	if needsCompat() {
		name = compatCommand
	}
	_, err := exec.LookPath(name)
	return err
}
