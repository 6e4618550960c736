package health

import (
	"fmt"
	"os"
	"syscall"
)

// AcquireLock takes an exclusive file lock so only one orchestrator runs
// against a workspace. Keep the returned handle open for the process
// lifetime; the lock releases on close or exit.
func AcquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("health: open lock %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("health: another instance holds %s", path)
	}

	// PID in the lock file helps manual diagnosis.
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}
