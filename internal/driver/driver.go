// Package driver implements the intercept driver: the process that spawns
// the observed command, plants a Session into its environment, listens
// for events from every descendant's shim or reporter, and assembles the
// final report. The spawn/signal-forwarding/cleanup lifecycle is
// generalized from cmd/exec.go + cmd/exec_unix.go (Setpgid-based
// process-group signal forwarding, SIGTERM-then-SIGKILL escalation); the
// concurrent collection loop is new, grounded on golang.org/x/sync/errgroup
// as used throughout gravitational-teleport.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rizsotto/intercept/internal/event"
	"github.com/rizsotto/intercept/internal/ipc"
	"github.com/rizsotto/intercept/internal/report"
	"github.com/rizsotto/intercept/internal/session"
)

// Options configures one observation run.
type Options struct {
	Session    session.Session
	Command    []string
	Store      report.EventStore
	Verbose    bool
	TermGrace  time.Duration // defaulted by Run to defaultTermGrace; Run itself never escalates signals
}

// Result is what Run returns once the observed command and every
// descendant's reporting connection have finished.
type Result struct {
	ExitCode int
	Report   report.Report
}

// defaultTermGrace matches exec_unix.go's escalation delay.
const defaultTermGrace = 100 * time.Millisecond

// Run spawns opts.Command with opts.Session planted into its environment,
// collects events from every connection accepted on the given ipc.Server
// until the root command exits and every connection has closed, then
// returns the assembled report.
func Run(ctx context.Context, srv *ipc.Server, opts Options) (Result, error) {
	if opts.TermGrace == 0 {
		opts.TermGrace = defaultTermGrace
	}

	ctx_, err := hostInfoContext(ctx)
	if err != nil {
		return Result{}, err
	}
	builder := report.NewBuilder(report.NewContext(opts.Session, ctx_))

	group, gctx := errgroup.WithContext(ctx)

	var wg sync.WaitGroup
	connCh := make(chan net.Conn)

	// Accept loop: one goroutine per connection, all feeding builder/store.
	group.Go(func() error {
		for {
			conn, err := srv.Accept()
			if err != nil {
				close(connCh)
				return nil // listener closed deliberately by caller; not an error
			}
			wg.Add(1)
			connCh <- conn
		}
	})

	group.Go(func() error {
		for conn := range connCh {
			c := conn
			go func() {
				defer wg.Done()
				collectFrom(gctx, c, builder, opts.Store)
			}()
		}
		return nil
	})

	exitCode, spawnErr := spawnAndWait(gctx, opts)

	// The root command has exited: stop accepting new connections and wait
	// for in-flight reporter connections to finish flushing their events
	// (the two-part termination condition: child exited AND all connections
	// closed).
	_ = srv.Close()
	wg.Wait()
	_ = group.Wait()

	if spawnErr != nil {
		return Result{}, spawnErr
	}

	return Result{ExitCode: exitCode, Report: builder.Report()}, nil
}

func hostInfoContext(ctx context.Context) (report.HostInfo, error) {
	return report.CollectHostInfo(ctx), nil
}

// collectFrom reads events from one connection until it closes, folding
// each into builder and, if configured, an EventStore.
func collectFrom(ctx context.Context, conn net.Conn, builder *report.Builder, store report.EventStore) {
	defer conn.Close()
	dec := event.NewDecoder(conn)
	for {
		ev, err := dec.Next()
		if err != nil {
			return
		}
		builder.Add(ev)
		if store != nil {
			_ = store.Append(ctx, ev)
		}
	}
}

// spawnAndWait starts the observed command with the session planted into
// its environment (and its PATH rewritten by the session, which puts the
// wrapper directory first for a wrapper session), forwards SIGINT/SIGTERM to its process group while it
// runs, and returns its exit code.
func spawnAndWait(ctx context.Context, opts Options) (int, error) {
	if len(opts.Command) == 0 {
		return 0, fmt.Errorf("driver: no command given")
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = opts.Session.Env(os.Environ())
	if path := os.Getenv("PATH"); opts.Session.RewritePath(path) != path {
		kept := make([]string, 0, len(cmd.Env)+1)
		for _, kv := range cmd.Env {
			if !strings.HasPrefix(kv, "PATH=") {
				kept = append(kept, kv)
			}
		}
		cmd.Env = append(kept, "PATH="+opts.Session.RewritePath(path))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for sig := range sigCh {
			if cmd.Process == nil {
				continue
			}
			sysSig, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			_ = syscall.Kill(-cmd.Process.Pid, sysSig)
		}
	}()

	if err := cmd.Start(); err != nil {
		close(sigCh)
		<-forwardDone
		return exitCodeForStartError(err), fmt.Errorf("failed to start command: %w", err)
	}

	waitErr := cmd.Wait()
	close(sigCh)
	<-forwardDone

	return exitCodeFromError(waitErr), nil
}

// Terminate forcibly ends the observed command's process group: SIGTERM,
// a grace period, then SIGKILL for survivors. Used by callers that need
// to abort an observation early (e.g. a context timeout).
func Terminate(pid int, grace time.Duration) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(grace)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeForStartError(err error) int {
	if os.IsNotExist(err) {
		return 127
	}
	if os.IsPermission(err) {
		return 126
	}
	return 1
}

// exitCodeFromError extracts the conventional exit status from the error
// returned by exec.Cmd.Wait: the exit code on normal exit, or 128+signal
// on termination by signal, matching the shell convention
// internal/runner.ExitCodeFromError also follows.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}
