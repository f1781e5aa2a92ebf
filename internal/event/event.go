// Package event defines the Started/Signalled/Terminated event union every
// intercepted process reports, and the factory that stamps them with a
// shared reporter id. Grounded on
// bear's source/intercept/source/report/EventFactory.h.
package event

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/rizsotto/intercept/internal/execution"
)

// ReporterID is the 64-bit value shared by every event a single intercepted
// process emits. Generated by the reporter from a non-deterministic
// source; practically unique across a session.
type ReporterID uint64

// NewReporterID draws a fresh id from a UUIDv4, falling back to crypto/rand
// directly if UUID generation ever fails (it practically never does).
func NewReporterID() ReporterID {
	u, err := uuid.NewRandom()
	if err != nil {
		var b [8]byte
		_, _ = rand.Read(b[:])
		return ReporterID(binary.BigEndian.Uint64(b[:]))
	}
	return ReporterID(binary.BigEndian.Uint64(u[:8]))
}

// Kind tags which variant of the Event union a Wire frame carries.
type Kind string

const (
	KindStarted    Kind = "started"
	KindSignalled  Kind = "signalled"
	KindTerminated Kind = "terminated"
)

// Timestamp is wall-clock time at microsecond granularity, matching the
// "timestamp: { seconds, nanos }" wire shape used on the event log.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// NewTimestamp truncates t to microsecond granularity per the data model.
func NewTimestamp(t time.Time) Timestamp {
	t = t.UTC()
	micros := t.Nanosecond() / 1000
	return Timestamp{Seconds: t.Unix(), Nanos: int32(micros) * 1000}
}

// Time converts a Timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// Started is emitted exactly once per ReporterID, always first.
type Started struct {
	PID       uint32             `json:"pid"`
	PPID      uint32             `json:"ppid"`
	Execution execution.Execution `json:"execution"`
}

// Signalled may occur zero or more times.
type Signalled struct {
	Number int32 `json:"number"`
}

// Terminated occurs at most once per ReporterID, always last.
type Terminated struct {
	Status int32 `json:"status"`
}

// Event is a tagged union over the process lifecycle. Exactly one of
// Started, Signalled, Terminated is non-nil, selected by Kind.
type Event struct {
	ReporterID ReporterID `json:"reporter_id"`
	Timestamp  Timestamp  `json:"timestamp"`
	Kind       Kind       `json:"kind"`

	Started    *Started    `json:"started,omitempty"`
	Signalled  *Signalled  `json:"signalled,omitempty"`
	Terminated *Terminated `json:"terminated,omitempty"`
}

// Factory stamps every event it produces with the same ReporterID, as
// required by the "events of the same reporter_id belong to a single OS
// process" invariant.
type Factory struct {
	id ReporterID
}

// NewFactory creates a Factory bound to a freshly generated ReporterID.
func NewFactory() Factory {
	return Factory{id: NewReporterID()}
}

// NewFactoryWithID creates a Factory bound to an existing ReporterID, for
// callers that already hold an id (the tests use it for fixed ids).
func NewFactoryWithID(id ReporterID) Factory {
	return Factory{id: id}
}

// ID returns the factory's bound ReporterID.
func (f Factory) ID() ReporterID {
	return f.id
}

// Start builds the one-and-only Started event for this factory's process.
func (f Factory) Start(pid, ppid uint32, exec execution.Execution) Event {
	return Event{
		ReporterID: f.id,
		Timestamp:  NewTimestamp(time.Now()),
		Kind:       KindStarted,
		Started:    &Started{PID: pid, PPID: ppid, Execution: exec},
	}
}

// Signal builds a Signalled event for signal number n.
func (f Factory) Signal(n int32) Event {
	return Event{
		ReporterID: f.id,
		Timestamp:  NewTimestamp(time.Now()),
		Kind:       KindSignalled,
		Signalled:  &Signalled{Number: n},
	}
}

// Terminate builds the terminal Terminated event with exit status code.
func (f Factory) Terminate(code int32) Event {
	return Event{
		ReporterID: f.id,
		Timestamp:  NewTimestamp(time.Now()),
		Kind:       KindTerminated,
		Terminated: &Terminated{Status: code},
	}
}
