package executor

import (
	"errors"
	"path/filepath"

	"github.com/tetratelabs/wazero/sys"
)

// parentDir returns the directory component of full, used to MkdirAll
// before writing a guest file that may be nested under a subdirectory the
// sandbox root doesn't yet contain.
func parentDir(full string) string {
	return filepath.Dir(full)
}

// exitCode extracts the guest's WASI exit code from an InstantiateModule
// error, if the module exited via proc_exit rather than trapping. ok is
// false for traps, host-function errors, and anything else wazero surfaces
// that isn't a clean (possibly non-zero) exit.
func exitCode(err error) (int, bool) {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.ExitCode()), true
	}
	return 0, false
}
