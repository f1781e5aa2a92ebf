package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes a stream of events as newline-delimited JSON, one frame
// per Event, mirroring internal/recorder.LogRecording's
// append-one-JSON-object-per-line discipline but over an io.Writer instead
// of a log file.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder wraps w for event writing.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one event frame, terminated by a newline.
func (e *Encoder) Encode(ev Event) error {
	if err := e.enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// Decoder reads a stream of newline-delimited event frames, mirroring
// internal/recorder.ReadRecordingLog's bufio.Scanner-based parsing.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r for event reading. The scanner's buffer is grown to
// accommodate large captured environments.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next reads and decodes the next frame. Returns io.EOF when the stream is
// exhausted (matching the "truncated streams are exited unknown" contract:
// callers distinguish a clean EOF between frames from one that occurs
// mid-frame by checking error kind).
func (d *Decoder) Next() (Event, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Event{}, fmt.Errorf("failed to read event frame: %w", err)
		}
		return Event{}, io.EOF
	}

	line := d.scanner.Bytes()
	if len(line) == 0 {
		return d.Next()
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid event frame: %w", err)
	}
	return ev, nil
}
