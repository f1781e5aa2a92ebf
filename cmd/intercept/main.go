// Command intercept is the driver: it spawns a command, arranges for
// every process it or its descendants create to be observed, and writes
// a compilation-database-style report describing everything that ran.
// The command tree is a minimal Cobra application in the style of
// cmd/root.go, trimmed to the one verb this tool actually performs.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/rizsotto/intercept/internal/config"
	"github.com/rizsotto/intercept/internal/driver"
	"github.com/rizsotto/intercept/internal/ipc"
	"github.com/rizsotto/intercept/internal/report"
	"github.com/rizsotto/intercept/internal/session"
)

var (
	flagOutput     string
	flagLibrary    string
	flagWrapper    string
	flagWrapperDir string
	flagConfig     string
	flagVerbose    bool
	flagForce      bool
	flagEventStore string
)

var rootCmd = &cobra.Command{
	Use:   "intercept [flags] -- <command> [args...]",
	Short: "Observe every process a command creates and report what ran",
	Long: `intercept runs a command under observation and writes a report
describing every process it (or any descendant) created: the resolved
program, its arguments, working directory, environment, and lifecycle.

It works by arranging for a small interception library to be loaded into
every descendant process (via the dynamic linker's preload mechanism)
or, where that is unavailable, by planting wrapper executables ahead of
the real tools on PATH.

Example:
  intercept --output report.json -- make -j4`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIntercept,
}

func init() { //nolint:gochecknoinits
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "report.json", "report output file")
	rootCmd.Flags().StringVar(&flagLibrary, "library", "", "path to the preload interception shim")
	rootCmd.Flags().StringVar(&flagWrapper, "wrapper", "", "path to the wrapper fallback binary")
	rootCmd.Flags().StringVar(&flagWrapperDir, "wrapper-dir", "", "directory for wrapper symlinks (defaults to a temp dir)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to a YAML configuration file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose shim/reporter diagnostics")
	rootCmd.Flags().BoolVarP(&flagForce, "force-wrapper", "w", false, "force wrapper mode even if library preload is available")
	rootCmd.Flags().StringVar(&flagEventStore, "event-store", "", "optional path to a SQLite event database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "intercept: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) hclog.Logger {
	level := hclog.Info
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "intercept",
		Level: level,
	})
}

func runIntercept(cmd *cobra.Command, args []string) error {
	logger := newLogger(flagVerbose)

	dashIdx := cmd.ArgsLenAtDash()
	var command []string
	if dashIdx >= 0 {
		command = args[dashIdx:]
	} else {
		command = args
	}
	if len(command) == 0 {
		return fmt.Errorf("missing command: usage: intercept [flags] -- <command> [args...]")
	}

	fileCfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	cliCfg := config.Config{
		OutputFile: flagOutput,
		Library:    flagLibrary,
		Wrapper:    flagWrapper,
		WrapperDir: flagWrapperDir,
		Verbose:    flagVerbose,
		EventStore: flagEventStore,
	}
	if flagForce {
		f := false
		cliCfg.UsePreload = &f
	}
	cfg := fileCfg.Merge(cliCfg)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate intercept binary: %w", err)
	}
	reporterPath := filepath.Join(filepath.Dir(self), "intercept-reporter")

	sockPath := filepath.Join(os.TempDir(), fmt.Sprintf("intercept-%s.sock", uuid.NewString()))
	srv, err := ipc.Listen(sockPath)
	if err != nil {
		return err
	}
	defer srv.Close()

	core := session.Core{
		Destination: srv.Addr(),
		Reporter:    reporterPath,
		Verbose:     cfg.Verbose,
	}

	sess, cleanup, err := buildSession(core, cfg, self)
	if err != nil {
		return err
	}
	defer cleanup()

	var store report.EventStore = report.NullStore{}
	if cfg.EventStore != "" {
		s, err := report.OpenSQLiteStore(cfg.EventStore)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	logger.Info("starting observation", "session", sess.Type(), "command", strings.Join(command, " "))

	start := time.Now()
	result, err := driver.Run(cmd.Context(), srv, driver.Options{
		Session: sess,
		Command: command,
		Store:   store,
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return err
	}
	logger.Info("observation complete", "duration", time.Since(start), "executions", len(result.Report.Executions))

	if err := report.WriteJSON(cfg.OutputFile, result.Report); err != nil {
		return err
	}

	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}
