package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rizsotto/intercept/internal/config"
	"github.com/rizsotto/intercept/internal/session"
	"github.com/rizsotto/intercept/internal/wrapper"
)

// buildSession chooses between LibraryPreloadSession and WrapperSession:
// preload is preferred whenever a usable shim library is configured and
// the platform supports LD_PRELOAD (ELF-based Unix); otherwise the driver
// falls back to planting wrapper symlinks. Returns a cleanup func that
// removes anything Plant created.
func buildSession(core session.Core, cfg config.Config, self string) (session.Session, func(), error) {
	noop := func() {}

	wantPreload := runtime.GOOS == "linux" || runtime.GOOS == "freebsd" || runtime.GOOS == "openbsd"
	if cfg.UsePreload != nil {
		wantPreload = *cfg.UsePreload
	}
	if cfg.UseWrapper != nil && *cfg.UseWrapper {
		wantPreload = false
	}

	if wantPreload && cfg.Library != "" {
		if _, err := os.Stat(cfg.Library); err != nil {
			return nil, noop, fmt.Errorf("preload library not found: %w", err)
		}
		return session.LibraryPreloadSession{Core: core, Library: cfg.Library}, noop, nil
	}

	wrapperBin := cfg.Wrapper
	if wrapperBin == "" {
		return nil, noop, fmt.Errorf("wrapper mode requires --wrapper (no preload library configured)")
	}
	dir := cfg.WrapperDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "intercept-wrapper-")
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create wrapper directory: %w", err)
		}
		dir = tmp
	}
	if _, err := wrapper.Plant(dir, wrapperBin, nil); err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		_ = wrapper.Cleanup(dir, nil)
		if cfg.WrapperDir == "" {
			_ = os.RemoveAll(dir)
		}
	}
	return session.WrapperSession{Core: core, WrapperDir: dir}, cleanup, nil
}
