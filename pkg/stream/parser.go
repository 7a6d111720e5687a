// Package stream classifies the engine's line-oriented output into
// typed progress events and encodes events for transport.
package stream

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opsforge/opsforge/pkg/creds"
	"github.com/opsforge/opsforge/pkg/engine"
)

var (
	// taskResultRe matches per-host task results:
	//   ok: [10.0.0.1]
	//   fatal: [10.0.0.1]: FAILED! => {"msg": "..."}
	taskResultRe = regexp.MustCompile(`^(ok|changed|fatal|skipping):\s*\[([^\]]+)\](.*)$`)

	// taskRe matches task headers: TASK [install packages] ****
	taskRe = regexp.MustCompile(`^TASK\s*\[([^\]]*)\]`)

	// playRe matches play headers: PLAY [database servers] ****
	playRe = regexp.MustCompile(`^PLAY\s*\[([^\]]*)\]`)

	// statusRe matches summary counters: ok=5 changed=2 failed=0
	statusRe = regexp.MustCompile(`(ok|changed|unreachable|failed|skipped|rescued|ignored)=(\d+)`)
)

// Parser turns raw stdout chunks into progress events. Chunks are not
// newline-aligned: a trailing partial line is held over and prefixed
// to the next chunk before re-splitting, so no line is ever classified
// on a fragment. Events are forwarded to the subscriber in line order
// with no reordering and no duplication. Feed/Flush and Error may run
// on different goroutines; emission to the subscriber is serialized.
type Parser struct {
	extractor  *creds.Extractor
	creds      engine.CredentialSet
	subscriber engine.Subscriber

	// emitMu serializes subscriber invocation: stdout classification
	// and stderr forwarding run on separate goroutines.
	emitMu sync.Mutex

	partial     string
	currentTask string
}

// NewParser creates a parser. The credential set is the run's explicit
// accumulator; extracted updates are merged into it as lines arrive.
// A nil subscriber discards events after credential extraction.
func NewParser(extractor *creds.Extractor, credentials engine.CredentialSet, subscriber engine.Subscriber) *Parser {
	return &Parser{
		extractor:  extractor,
		creds:      credentials,
		subscriber: subscriber,
	}
}

// Feed consumes one raw stdout chunk.
func (p *Parser) Feed(chunk string) {
	p.partial += chunk
	for {
		idx := strings.IndexByte(p.partial, '\n')
		if idx < 0 {
			return
		}
		line := p.partial[:idx]
		p.partial = p.partial[idx+1:]
		p.classify(strings.TrimSuffix(line, "\r"))
	}
}

// Flush classifies any held-over partial line. Call once at EOF.
func (p *Parser) Flush() {
	if p.partial != "" {
		line := strings.TrimSuffix(p.partial, "\r")
		p.partial = ""
		p.classify(line)
	}
}

// classify applies the classification rules in priority order. Lines
// matching no rule are discarded; they remain in the raw stdout buffer
// the runner retains.
func (p *Parser) classify(line string) {
	if m := taskResultRe.FindStringSubmatch(line); m != nil {
		p.taskResult(m[1], m[2], m[3])
		return
	}
	if m := taskRe.FindStringSubmatch(line); m != nil {
		p.currentTask = m[1]
		p.emit(engine.ProgressEvent{Type: engine.EventTask, Name: m[1]})
		return
	}
	if m := playRe.FindStringSubmatch(line); m != nil {
		p.currentTask = ""
		p.emit(engine.ProgressEvent{Type: engine.EventPlay, Name: m[1]})
		return
	}
	if ms := statusRe.FindAllStringSubmatch(line, -1); ms != nil {
		for _, m := range ms {
			count, _ := strconv.Atoi(m[2])
			p.emit(engine.ProgressEvent{Type: engine.EventStatus, Status: m[1], Count: count})
		}
		return
	}
}

// taskResult emits a task_result event. The remainder runs through the
// credential extractor first; extracted segments are suppressed from
// the display message.
func (p *Parser) taskResult(status, host, remainder string) {
	remainder = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(remainder), ":"))

	update := make(engine.CredentialSet)
	display := p.extractor.ExtractFragment(remainder, update)
	p.creds.Merge(update)

	ev := engine.ProgressEvent{
		Type:    engine.EventTaskResult,
		Status:  status,
		Host:    host,
		Task:    p.currentTask,
		Message: strings.TrimSpace(display),
	}
	if len(update) > 0 {
		ev.CredentialUpdate = update
	}
	p.emit(ev)
}

// Error forwards one stderr line as an error event. Stderr bypasses
// classification entirely.
func (p *Parser) Error(text string) {
	p.emit(engine.ProgressEvent{Type: engine.EventError, Message: text})
}

func (p *Parser) emit(ev engine.ProgressEvent) {
	ev.Timestamp = time.Now().UTC()
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.subscriber != nil {
		p.subscriber(ev)
	}
}
