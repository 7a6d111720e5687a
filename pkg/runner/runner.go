// Package runner launches and supervises the automation engine for a
// single run: it writes the ephemeral inventory and key files, spawns
// one engine subprocess, streams its output through the progress
// parser and credential extractor, classifies the exit code, and
// always cleans up the run's ephemeral artifacts.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/creds"
	"github.com/opsforge/opsforge/pkg/engine"
	"github.com/opsforge/opsforge/pkg/inventory"
	"github.com/opsforge/opsforge/pkg/playbook"
	"github.com/opsforge/opsforge/pkg/secrets"
	"github.com/opsforge/opsforge/pkg/stream"
	"github.com/opsforge/opsforge/pkg/telemetry"
)

// Engine exit codes. The engine distinguishes partial task failure
// from unreachable hosts.
const (
	exitOK          = 0
	exitTasksFailed = 2
	exitUnreachable = 4
)

// DefaultEngineBinary is the automation engine executable.
const DefaultEngineBinary = "ansible-playbook"

// Options configures a Runner.
type Options struct {
	// EngineBinary is the engine executable. Empty selects
	// DefaultEngineBinary.
	EngineBinary string

	// ScratchDir holds the per-run inventory files.
	ScratchDir string

	// KeyDir holds the per-run ephemeral key files. Empty falls back
	// to the system temporary directory.
	KeyDir string

	// Catalog resolves playbook and reusable-role paths per run kind.
	Catalog *playbook.Catalog

	// Metrics receives run pipeline metrics. Optional.
	Metrics *telemetry.Metrics

	// Tracer traces run execution. Optional.
	Tracer *telemetry.Tracer
}

// Runner executes automation runs. Runs are independent: there is no
// queue, no admission control, and no limit on parallelism.
type Runner struct {
	opts Options
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.EngineBinary == "" {
		opts.EngineBinary = DefaultEngineBinary
	}
	return &Runner{opts: opts}
}

// Request describes one automation run.
type Request struct {
	// Kind selects the strategy for grouping, credentials, and roles.
	Kind engine.RunKind

	// Hosts are the run's target hosts, already validated upstream.
	Hosts []engine.TargetHost

	// ExtraVars are arbitrary variable overrides handed to the engine
	// as a single JSON argument.
	ExtraVars map[string]interface{}

	// Subscriber receives progress events synchronously as output is
	// classified. Optional.
	Subscriber engine.Subscriber
}

// Execution is the handle for an in-flight run. The engine process
// cannot be aborted through it; a caller abandoning the handle does
// not terminate the run.
type Execution struct {
	// RunID identifies the run.
	RunID string

	done   chan struct{}
	result engine.ExecutionResult
}

// Done returns a channel closed when the run has completed.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the run completes and returns its result. The
// result is produced exactly once; repeated calls return the same
// value.
func (e *Execution) Wait() engine.ExecutionResult {
	<-e.done
	return e.result
}

// Start validates nothing itself (upstream owns request validation),
// prepares the run's ephemeral artifacts, and launches the engine.
// Artifact preparation failures are returned directly; once the
// process is spawned (or spawning itself fails) the outcome is
// delivered through the Execution.
func (r *Runner) Start(ctx context.Context, req Request) (*Execution, error) {
	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID).Str("kind", string(req.Kind)).Logger()

	playbookPath, err := r.opts.Catalog.PlaybookPath(req.Kind)
	if err != nil {
		return nil, err
	}
	rolesPath := r.opts.Catalog.RolesPath(req.Kind)

	keys := secrets.NewKeyWriter(r.opts.KeyDir, runID)
	if err := keys.WriteAll(req.Hosts); err != nil {
		return nil, err
	}

	document, err := inventory.Build(req.Kind, req.Hosts, keys.Path)
	if err != nil {
		keys.Cleanup()
		return nil, err
	}
	inventoryPath, err := inventory.WriteFile(r.opts.ScratchDir, runID, document)
	if err != nil {
		keys.Cleanup()
		return nil, err
	}

	// A nil map would serialize as the literal "null"; the engine
	// expects a JSON object.
	extraVars := []byte("{}")
	if len(req.ExtraVars) > 0 {
		extraVars, err = json.Marshal(req.ExtraVars)
		if err != nil {
			inventory.Remove(inventoryPath)
			keys.Cleanup()
			return nil, engine.NewInternalError("failed to serialize extra vars", err)
		}
	}

	strategy := engine.StrategyFor(req.Kind)
	extractor := creds.NewExtractor(strategy.Services)
	credentials := make(engine.CredentialSet)
	parser := stream.NewParser(extractor, credentials, r.instrument(req.Subscriber))

	handle := &Execution{
		RunID: runID,
		done:  make(chan struct{}),
	}

	r.opts.Metrics.RunStarted(string(req.Kind))
	logger.Info().Int("hosts", len(req.Hosts)).Msg("starting automation run")

	go func() {
		defer close(handle.done)
		defer inventory.Remove(inventoryPath)
		defer keys.Cleanup()

		ctx, span := r.opts.Tracer.Start(ctx, "run.execute")
		defer span.End()

		result := r.execute(ctx, runID, req, inventoryPath, playbookPath, rolesPath, string(extraVars), parser, extractor, credentials)
		handle.result = result

		status := "failed"
		if result.Success {
			status = "succeeded"
		}
		r.opts.Metrics.RunCompleted(string(req.Kind), status, result.CompletedAt.Sub(result.StartedAt))
		logger.Info().
			Bool("success", result.Success).
			Int("exit_code", result.ExitCode).
			Msg("automation run finished")
	}()

	return handle, nil
}

// instrument wraps a subscriber with event and credential counters.
func (r *Runner) instrument(subscriber engine.Subscriber) engine.Subscriber {
	return func(ev engine.ProgressEvent) {
		r.opts.Metrics.EventClassified(string(ev.Type))
		for service, fields := range ev.CredentialUpdate {
			for range fields {
				r.opts.Metrics.CredentialExtracted(service)
			}
		}
		if subscriber != nil {
			subscriber(ev)
		}
	}
}

// execute spawns the engine process, streams its output, and builds
// the final result.
func (r *Runner) execute(
	ctx context.Context,
	runID string,
	req Request,
	inventoryPath, playbookPath, rolesPath, extraVars string,
	parser *stream.Parser,
	extractor *creds.Extractor,
	credentials engine.CredentialSet,
) engine.ExecutionResult {
	startedAt := time.Now().UTC()

	cmd, err := r.buildCommand(inventoryPath, playbookPath, rolesPath, extraVars)
	if err != nil {
		return spawnFailure(runID, startedAt, err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(runID, startedAt, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return spawnFailure(runID, startedAt, err)
	}

	if err := cmd.Start(); err != nil {
		return spawnFailure(runID, startedAt, err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	// Stdout chunks feed the parser; stderr lines become error events.
	// Both buffers are retained verbatim. The readers run on separate
	// goroutines; the parser serializes subscriber emission across the
	// two streams.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardStderr(stderrPipe, &stderrBuf, parser)
	}()
	forwardStdout(stdoutPipe, &stdoutBuf, parser)
	<-stderrDone

	waitErr := cmd.Wait()
	completedAt := time.Now().UTC()

	parser.Flush()
	extractor.Fallback(stdoutBuf.String(), credentials)
	extractor.Finalize(credentials)

	result := engine.ExecutionResult{
		RunID:       runID,
		ExitCode:    cmd.ProcessState.ExitCode(),
		Stdout:      stdoutBuf.String(),
		Stderr:      stderrBuf.String(),
		Credentials: credentials,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}

	if waitErr == nil {
		result.Success = true
		return result
	}
	if _, ok := waitErr.(*exec.ExitError); !ok {
		// Wait failed for a reason other than a nonzero exit.
		result.ExitCode = -1
		result.Error = engine.NewInternalError("engine process wait failed", waitErr).WithRun(runID).Error()
		return result
	}

	result.Error = classifyExit(result.ExitCode).WithRun(runID).Error()
	return result
}

// buildCommand assembles the engine invocation: inventory, extra vars,
// playbook path, and the process environment contract (no host-key
// prompts, unbuffered child output so lines arrive promptly, and the
// reusable-role search path).
func (r *Runner) buildCommand(inventoryPath, playbookPath, rolesPath, extraVars string) (*exec.Cmd, error) {
	if err := lookupEngine(r.opts.EngineBinary); err != nil {
		return nil, err
	}

	if needsCompat() {
		inventoryPath = translatePath(inventoryPath)
		playbookPath = translatePath(playbookPath)
		rolesPath = translatePath(rolesPath)
	}

	args := []string{
		"--inventory", inventoryPath,
		"--extra-vars", extraVars,
		playbookPath,
	}
	name, args := buildCommandLine(r.opts.EngineBinary, args)

	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(),
		"ANSIBLE_HOST_KEY_CHECKING=False",
		"ANSIBLE_FORCE_COLOR=false",
		"PYTHONUNBUFFERED=1",
		"ANSIBLE_ROLES_PATH="+rolesPath,
	)
	return cmd, nil
}

// forwardStdout copies stdout chunks into the retained buffer and the
// parser as they arrive.
func forwardStdout(pipe io.Reader, buf *bytes.Buffer, parser *stream.Parser) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			parser.Feed(string(chunk[:n]))
		}
		if err != nil {
			return
		}
	}
}

// forwardStderr retains stderr verbatim and forwards each complete
// line as an error event.
func forwardStderr(pipe io.Reader, buf *bytes.Buffer, parser *stream.Parser) {
	chunk := make([]byte, 32*1024)
	partial := ""
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			partial += string(chunk[:n])
			for {
				idx := strings.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := partial[:idx]
				partial = partial[idx+1:]
				if line != "" {
					parser.Error(line)
				}
			}
		}
		if err != nil {
			if partial != "" {
				parser.Error(partial)
			}
			return
		}
	}
}

// classifyExit maps a nonzero engine exit code to a human-readable
// failure. Partial task failure is treated as overall failure.
func classifyExit(code int) *engine.RunError {
	switch code {
	case exitTasksFailed:
		return engine.NewRunFailedError("one or more remote tasks failed", nil).
			WithCode(engine.ErrCodeTasksFailed)
	case exitUnreachable:
		return engine.NewRunFailedError("one or more hosts unreachable", nil).
			WithCode(engine.ErrCodeUnreachable)
	default:
		return engine.NewRunFailedError(fmt.Sprintf("engine process exited with code %d", code), nil).
			WithCode(engine.ErrCodeNonzeroExit)
	}
}

// spawnFailure builds the result for a process that never ran: no
// stdout, no stderr, a populated error.
func spawnFailure(runID string, startedAt time.Time, err error) engine.ExecutionResult {
	return engine.ExecutionResult{
		RunID:       runID,
		Success:     false,
		ExitCode:    -1,
		Credentials: make(engine.CredentialSet),
		Error:       engine.NewSpawnError("failed to start automation engine", err).WithCode(engine.ErrCodeSpawnFailed).WithRun(runID).Error(),
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
}
