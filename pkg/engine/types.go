package engine

import (
	"time"
)

// AuthMode selects how a target host is authenticated.
type AuthMode string

const (
	// AuthModePassword authenticates with the login password.
	AuthModePassword AuthMode = "password"

	// AuthModeKey authenticates with a private key written to an
	// ephemeral key file for the duration of the run.
	AuthModeKey AuthMode = "key"
)

// PrivilegeMode selects how commands gain root on a target host.
type PrivilegeMode string

const (
	// PrivilegeRoot logs in directly as a root-capable user.
	PrivilegeRoot PrivilegeMode = "root"

	// PrivilegeElevated logs in as an unprivileged user and escalates.
	PrivilegeElevated PrivilegeMode = "elevated"
)

// TargetHost describes one remote host for a single run. It is owned by
// the caller and never persisted by the execution pipeline.
type TargetHost struct {
	// Address is the hostname or IP of the host.
	Address string `json:"address" validate:"required"`

	// Port is the SSH port. Zero means the default port 22.
	Port int `json:"port,omitempty" validate:"gte=0,lte=65535"`

	// AuthMode is how the host is authenticated (password or key).
	AuthMode AuthMode `json:"auth_mode" validate:"required,oneof=password key"`

	// User is the login user. Empty falls back to the run default.
	User string `json:"user,omitempty"`

	// Password is the login password for AuthModePassword.
	Password string `json:"password,omitempty"`

	// PrivateKey is the PEM-encoded private key for AuthModeKey.
	PrivateKey string `json:"private_key,omitempty"`

	// Privilege is the privilege mode (root or elevated).
	Privilege PrivilegeMode `json:"privilege,omitempty" validate:"omitempty,oneof=root elevated"`

	// BecomePassword is the escalation password for PrivilegeElevated.
	// Empty falls back to the login password.
	BecomePassword string `json:"become_password,omitempty"`

	// Role is a free-text role tag interpreted per run kind
	// (e.g. "primary", "secondary", "master", "worker").
	Role string `json:"role,omitempty"`

	// Purpose is an optional display name for the host.
	Purpose string `json:"purpose,omitempty"`
}

// SSHPort returns the effective SSH port for the host.
func (h TargetHost) SSHPort() int {
	if h.Port == 0 {
		return 22
	}
	return h.Port
}

// EventType discriminates progress events.
type EventType string

const (
	// EventPlay marks the start of a play.
	EventPlay EventType = "play"

	// EventTask marks the start of a task.
	EventTask EventType = "task"

	// EventTaskResult is a per-host task outcome.
	EventTaskResult EventType = "task_result"

	// EventStatus is one summary counter from the recap block.
	EventStatus EventType = "status"

	// EventError carries a line of engine stderr.
	EventError EventType = "error"
)

// ResultStatus is the per-host outcome of one task.
type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultChanged  ResultStatus = "changed"
	ResultFatal    ResultStatus = "fatal"
	ResultSkipping ResultStatus = "skipping"
)

// ProgressEvent is one classified unit of engine output. Events are
// immutable once emitted and ordered exactly as the underlying lines
// were produced.
type ProgressEvent struct {
	// Type discriminates the event.
	Type EventType `json:"type"`

	// Name is the play or task name for EventPlay and EventTask.
	Name string `json:"name,omitempty"`

	// Status is the task outcome for EventTaskResult, or the counter
	// keyword for EventStatus.
	Status string `json:"status,omitempty"`

	// Host is the target host for EventTaskResult.
	Host string `json:"host,omitempty"`

	// Task is the current-task context for EventTaskResult.
	Task string `json:"task,omitempty"`

	// Message is the display remainder for EventTaskResult, or the
	// stderr text for EventError. Credential segments are stripped.
	Message string `json:"message,omitempty"`

	// Count is the counter value for EventStatus.
	Count int `json:"count,omitempty"`

	// CredentialUpdate holds credentials extracted from this line,
	// keyed by service then field.
	CredentialUpdate CredentialSet `json:"credential_update,omitempty"`

	// Timestamp is when the event was classified.
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives progress events synchronously as they are
// classified. A slow subscriber back-pressures its own run only.
type Subscriber func(event ProgressEvent)

// CredentialSet maps service name to a key/value map of generated
// operator credentials (e.g. "username", "password", "path"). It is an
// explicit value threaded through the pipeline; processing steps must
// not capture it in shared closures.
type CredentialSet map[string]map[string]string

// Set records one credential field for a service.
func (c CredentialSet) Set(service, key, value string) {
	m, ok := c[service]
	if !ok {
		m = make(map[string]string)
		c[service] = m
	}
	m[key] = value
}

// Get returns a credential field, with ok reporting presence.
func (c CredentialSet) Get(service, key string) (string, bool) {
	m, ok := c[service]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// Merge copies all entries of other into c, overwriting on conflict.
func (c CredentialSet) Merge(other CredentialSet) {
	for service, fields := range other {
		for k, v := range fields {
			c.Set(service, k, v)
		}
	}
}

// Clone returns a deep copy of the set.
func (c CredentialSet) Clone() CredentialSet {
	out := make(CredentialSet, len(c))
	out.Merge(c)
	return out
}

// ExecutionResult is the terminal outcome of one run. It is produced
// exactly once per run.
type ExecutionResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Success is true only for a clean zero exit.
	Success bool `json:"success"`

	// ExitCode is the engine process exit code. -1 when the process
	// never started.
	ExitCode int `json:"exit_code"`

	// Stdout is the full retained standard output.
	Stdout string `json:"stdout"`

	// Stderr is the full retained standard error.
	Stderr string `json:"stderr"`

	// Credentials are the extracted operator credentials, best effort
	// even on failure.
	Credentials CredentialSet `json:"credentials,omitempty"`

	// Error is the failure reason, empty on success.
	Error string `json:"error,omitempty"`

	// StartedAt is when the engine process was launched.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the engine process exited.
	CompletedAt time.Time `json:"completed_at"`
}
