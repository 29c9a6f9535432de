package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// pidFile manages a single consumer's PID file for liveness checks and
// stale-process detection, adapted from the daemon's own single-process
// PID file to track one file per queue's consumer instead of one file
// for the whole daemon.
type pidFile struct {
	path string
}

func newPIDFile(path string) *pidFile {
	return &pidFile{path: path}
}

// write records pid, overwriting any stale file. Callers must have
// already confirmed no live process holds this file.
func (p *pidFile) write(pid int) error {
	return os.WriteFile(p.path, []byte(strconv.Itoa(pid)), 0644)
}

// release removes the PID file. Safe to call multiple times.
func (p *pidFile) release() error {
	err := os.Remove(p.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// readPID reads the PID from a file, returning 0 and the error if the
// file is missing, empty, or unparsable.
func readPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		return 0, fmt.Errorf("PID file is empty")
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// isProcessRunning checks process liveness with signal 0, the same
// syscall the daemon uses for its own single-instance check.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
