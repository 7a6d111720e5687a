package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/engine"
	"github.com/opsforge/opsforge/pkg/runner"
	"github.com/opsforge/opsforge/pkg/stores"
)

// runResponse is the aggregate response for a completed run.
type runResponse struct {
	Result engine.ExecutionResult `json:"result"`
	Events []engine.ProgressEvent `json:"events"`
}

// handleRun executes a run to completion and returns the aggregated
// events and result in one response.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	var mu sync.Mutex
	var events []engine.ProgressEvent
	subscriber := func(ev engine.ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	exec, err := s.runner.Start(r.Context(), runner.Request{
		Kind:       req.Kind,
		Hosts:      req.Hosts,
		ExtraVars:  req.ExtraVars,
		Subscriber: subscriber,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.recordStart(r, exec.RunID, req)
	result := exec.Wait()
	s.recordCompletion(result)

	writeJSON(w, http.StatusOK, runResponse{Result: result, Events: events})
}

// handleRunStream executes a run and emits each progress event as it
// is produced, as server-sent events whose data lines carry the
// type-discriminated event encoding. The terminal result follows as a
// final "result" SSE event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Headers must be committed before the run starts: the subscriber
	// writes from the run goroutine as soon as Start returns.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	// The subscriber runs synchronously on the run's event path; a
	// slow client back-pressures this run only.
	subscriber := func(ev engine.ProgressEvent) {
		if err := writeSSE(w, "", ev); err != nil {
			log.Debug().Err(err).Msg("client stopped consuming event stream")
			return
		}
		flusher.Flush()
	}

	exec, err := s.runner.Start(r.Context(), runner.Request{
		Kind:       req.Kind,
		Hosts:      req.Hosts,
		ExtraVars:  req.ExtraVars,
		Subscriber: subscriber,
	})
	if err != nil {
		// The stream is already open; deliver the failure in-band.
		if werr := writeSSE(w, "error", map[string]string{"error": err.Error()}); werr == nil {
			flusher.Flush()
		}
		return
	}

	s.recordStart(r, exec.RunID, req)
	// A disconnecting caller does not abort the engine process; the
	// run completes and is recorded regardless.
	result := exec.Wait()
	s.recordCompletion(result)

	if err := writeSSE(w, "result", result); err == nil {
		flusher.Flush()
	}
}

// writeSSE frames one payload as a server-sent event. The data line
// carries the same type-discriminated JSON encoding the wire codec
// produces.
func writeSSE(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return err
	}
	return nil
}

// handleGetRun returns a persisted run record.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetCredentials returns the stored credentials for a run.
func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.GetCredentials(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// handleListPlaybooks returns the available playbook names.
func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Playbooks())
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRequest decodes and validates an inbound run request. Invalid
// requests are rejected here, before any engine process spawns.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (config.RunRequest, bool) {
	var req config.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, engine.NewValidationError("invalid request body", err).WithCode(engine.ErrCodeValidation))
		return config.RunRequest{}, false
	}
	if err := config.ValidateRequest(req); err != nil {
		writeError(w, err)
		return config.RunRequest{}, false
	}
	return req, true
}

// recordStart persists the run's initial record. Persistence failures
// are logged, not fatal to the run.
func (s *Server) recordStart(r *http.Request, runID string, req config.RunRequest) {
	now := time.Now().UTC()
	err := s.store.CreateRun(r.Context(), &stores.Run{
		ID:        runID,
		Kind:      string(req.Kind),
		Status:    stores.RunStatusRunning,
		HostCount: len(req.Hosts),
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("failed to persist run start")
	}
}

// recordCompletion persists the terminal result and credentials. It
// runs on a background context: a disconnected caller must not stop
// the record from landing.
func (s *Server) recordCompletion(result engine.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.CompleteRun(ctx, result); err != nil {
		log.Warn().Err(err).Str("run_id", result.RunID).Msg("failed to persist run completion")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// writeError maps a classified error to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsValidation(err):
		status = http.StatusBadRequest
	case engine.IsSpawn(err):
		status = http.StatusBadGateway
	}

	var runErr *engine.RunError
	code := engine.ErrCodeInternal
	if e, ok := err.(*engine.RunError); ok {
		runErr = e
		if runErr.Code != "" {
			code = runErr.Code
		}
		if code == engine.ErrCodeNotFound {
			status = http.StatusNotFound
		}
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}
