// Package report assembles the Report/Context/Execution aggregate from a
// stream of events and persists it. The JSON shape and field names are
// grounded on
// bear's source/intercept/source/Report.cc and
// Convert.cc (the to_json overloads). The atomic write technique (temp
// file then rename) is grounded on internal/runner.WriteState.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/rizsotto/intercept/internal/event"
	"github.com/rizsotto/intercept/internal/execution"
	"github.com/rizsotto/intercept/internal/session"
)

// HostInfo captures the fields of the report's context.host_info block.
// Populated via gopsutil so the report records the platform the
// observation actually ran on, the way Bear's Context::host_info does
// with uname(2).
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Architecture    string `json:"architecture"`
}

// CollectHostInfo populates a HostInfo from the running host. Never fails
// the caller: on error it returns a zero-value-but-best-effort HostInfo,
// since a report is still useful without it.
func CollectHostInfo(ctx context.Context) HostInfo {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return HostInfo{}
	}
	return HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Architecture:    info.KernelArch,
	}
}

// Context records the fixed parameters of one observation run: which
// session variant captured it and what host it ran on.
type Context struct {
	SessionType string   `json:"intercept"`
	HostInfo    HostInfo `json:"host_info"`
}

// NewContext builds a Context for the given session.
func NewContext(sess session.Session, host HostInfo) Context {
	return Context{SessionType: sess.Type(), HostInfo: host}
}

// Run is the run-scoped slice of an Execution: pid, optional parent pid,
// and its ordered lifecycle events.
type Run struct {
	PID    uint32        `json:"pid"`
	PPID   *uint32       `json:"ppid,omitempty"`
	Events []RunEvent    `json:"events"`
}

// RunEvent is one lifecycle event rendered for persistence: "at" replaces
// the wire Timestamp with a single RFC3339-ish instant, "type" names the
// event kind, and status/signal are populated only for their respective
// kinds (mirroring Convert.cc's to_json(Event) discriminated shape).
type RunEvent struct {
	At     string `json:"at"`
	Type   string `json:"type"`
	Status *int32 `json:"status,omitempty"`
	Signal *int32 `json:"signal,omitempty"`
}

// Execution is one intercepted process: its resolved command plus its run.
type Execution struct {
	Command execution.Execution `json:"command"`
	Run     Run                 `json:"run"`
}

// Report is the full persisted document: context plus every observed
// execution, ordered by first-Started-event arrival.
type Report struct {
	Context    Context     `json:"context"`
	Executions []Execution `json:"executions"`
}

// Builder accumulates events into a Report. Safe for concurrent use: the
// driver's collection loop runs one goroutine per reporter connection,
// all feeding the same Builder (grounded on the original's
// collect/Reporter.cc, whose ear::collect::Reporter::report is
// mutex-guarded for exactly this reason).
type Builder struct {
	mu      sync.Mutex
	ctx     Context
	byID    map[event.ReporterID]*Execution
	order   []event.ReporterID
}

// NewBuilder creates an empty Builder bound to ctx.
func NewBuilder(ctx Context) *Builder {
	return &Builder{
		ctx:  ctx,
		byID: make(map[event.ReporterID]*Execution),
	}
}

// Add folds one event into the builder's state.
func (b *Builder) Add(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	exec, ok := b.byID[ev.ReporterID]
	if !ok {
		exec = &Execution{}
		b.byID[ev.ReporterID] = exec
		b.order = append(b.order, ev.ReporterID)
	}

	at := ev.Timestamp.Time().Format("2006-01-02T15:04:05.000000Z07:00")

	switch ev.Kind {
	case event.KindStarted:
		if ev.Started == nil {
			return
		}
		exec.Command = ev.Started.Execution
		exec.Run.PID = ev.Started.PID
		if ev.Started.PPID != 0 {
			ppid := ev.Started.PPID
			exec.Run.PPID = &ppid
		}
		exec.Run.Events = append(exec.Run.Events, RunEvent{At: at, Type: "started"})
	case event.KindSignalled:
		if ev.Signalled == nil {
			return
		}
		n := ev.Signalled.Number
		exec.Run.Events = append(exec.Run.Events, RunEvent{At: at, Type: "signalled", Signal: &n})
	case event.KindTerminated:
		if ev.Terminated == nil {
			return
		}
		s := ev.Terminated.Status
		exec.Run.Events = append(exec.Run.Events, RunEvent{At: at, Type: "terminated", Status: &s})
	}
}

// Report renders the accumulated state into a Report, in arrival order.
func (b *Builder) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := Report{Context: b.ctx, Executions: make([]Execution, 0, len(b.order))}
	for _, id := range b.order {
		out.Executions = append(out.Executions, *b.byID[id])
	}
	return out
}

// WriteJSON persists r to path as indented JSON, atomically (write to a
// temp file in the same directory, then rename), so a reader never
// observes a partially written report.
func WriteJSON(path string, r Report) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp report file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename report file: %w", err)
	}
	return nil
}
