package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/hcgsync/internal/errors"
)

const (
	pidFile = "hcgsync.pid"
)

// Path returns the location of the PID file inside dir.
func Path(dir string) string {
	return filepath.Join(dir, pidFile)
}

// Write records the current process ID in dir, refusing when the PID file
// names another live process. Stale or unreadable PID files are replaced.
func Write(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if other, ok := readPID(path); ok && (other == os.Getpid() || alive(other)) {
		return errFactory.WithData(errors.ErrAlreadyRunning, other)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file from dir.
func Remove(dir string) error {
	errFactory := errors.New()

	if err := os.Remove(Path(dir)); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readPID(path string) (int, bool) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// EPERM means the process exists but belongs to someone else.
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
