package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizsotto/intercept/internal/event"
	"github.com/rizsotto/intercept/internal/execution"
	"github.com/rizsotto/intercept/internal/session"
)

func TestBuilder_AssemblesExecutionFromEvents(t *testing.T) {
	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	b := NewBuilder(NewContext(sess, HostInfo{Hostname: "ci-host"}))

	f := event.NewFactoryWithID(7)
	b.Add(f.Start(123, 1, execution.Execution{Program: "/bin/ls", Arguments: []string{"ls", "-l"}}))
	b.Add(f.Signal(2))
	b.Add(f.Terminate(0))

	r := b.Report()
	require.Len(t, r.Executions, 1)

	exec := r.Executions[0]
	assert.Equal(t, "/bin/ls", exec.Command.Program)
	assert.Equal(t, uint32(123), exec.Run.PID)
	require.NotNil(t, exec.Run.PPID)
	assert.Equal(t, uint32(1), *exec.Run.PPID)
	require.Len(t, exec.Run.Events, 3)
	assert.Equal(t, "started", exec.Run.Events[0].Type)
	assert.Equal(t, "signalled", exec.Run.Events[1].Type)
	assert.Equal(t, "terminated", exec.Run.Events[2].Type)
	assert.Equal(t, "library preload", r.Context.SessionType)
	assert.Equal(t, "ci-host", r.Context.HostInfo.Hostname)
}

func TestBuilder_SeparatesDifferentReporterIDs(t *testing.T) {
	b := NewBuilder(Context{})

	f1 := event.NewFactoryWithID(1)
	f2 := event.NewFactoryWithID(2)
	b.Add(f1.Start(10, 0, execution.Execution{Program: "/bin/a"}))
	b.Add(f2.Start(20, 0, execution.Execution{Program: "/bin/b"}))

	r := b.Report()
	require.Len(t, r.Executions, 2)
	assert.Equal(t, "/bin/a", r.Executions[0].Command.Program)
	assert.Equal(t, "/bin/b", r.Executions[1].Command.Program)
}

func TestBuilder_PreservesArrivalOrder(t *testing.T) {
	b := NewBuilder(Context{})
	for i := uint64(1); i <= 5; i++ {
		f := event.NewFactoryWithID(event.ReporterID(i))
		b.Add(f.Start(uint32(i), 0, execution.Execution{}))
	}
	r := b.Report()
	require.Len(t, r.Executions, 5)
	for i, exec := range r.Executions {
		assert.Equal(t, uint32(i+1), exec.Run.PID)
	}
}

func TestWriteJSON_WritesValidReportAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.json")

	r := Report{
		Context:    Context{SessionType: "wrapper"},
		Executions: []Execution{{Command: execution.Execution{Program: "/bin/echo"}}},
	}
	require.NoError(t, WriteJSON(path, r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "wrapper", got.Context.SessionType)
	assert.Equal(t, "/bin/echo", got.Executions[0].Command.Program)

	// No leftover temp file.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNullStore_DiscardsSilently(t *testing.T) {
	s := NullStore{}
	require.NoError(t, s.Append(nil, event.Event{}))
	all, err := s.All(nil)
	require.NoError(t, err)
	assert.Nil(t, all)
	require.NoError(t, s.Close())
}
