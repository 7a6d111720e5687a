package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opsforge/opsforge/pkg/engine"
)

// Encoder writes progress events to an io.Writer, one line per event
// with a "type" discriminator field. This is the transport framing for
// both the aggregated and the streaming call paths.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new event encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes one event and flushes, so streaming consumers see the
// line as soon as it is produced.
func (e *Encoder) Encode(ev engine.ProgressEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("event has no type")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Decoder reads progress events from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new event decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Task-result messages can carry large module payloads.
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)
	return &Decoder{
		r: scanner,
	}
}

// Decode reads the next event from the input stream.
func (d *Decoder) Decode() (*engine.ProgressEvent, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var ev engine.ProgressEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return &ev, nil
}
