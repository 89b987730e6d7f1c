package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/workspace"
)

// ErrLocked means another orchestrator owns this project root
var ErrLocked = errors.New("another ralph process owns this project (stale lock? delete .ralph/lock)")

// lockRecord is the advisory lock file contents
type lockRecord struct {
	PID       int             `json:"pid"`
	StartedAt types.Timestamp `json:"started_at"`
}

// AcquireLock takes the advisory .ralph/lock. A lock held by a dead process
// is treated as stale and replaced. The returned release func removes the
// lock; it is safe to call more than once.
func (s *Store) AcquireLock() (release func(), err error) {
	path := workspace.LockPath(s.projectRoot)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			rec := lockRecord{PID: os.Getpid(), StartedAt: types.Now()}
			enc := json.NewEncoder(f)
			writeErr := enc.Encode(rec)
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock: %w", errors.Join(writeErr, closeErr))
			}
			released := false
			return func() {
				if !released {
					released = true
					os.Remove(path)
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, classify(err)
		}

		// Lock exists: stale if the owning process is gone.
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, ErrLocked
		}
		var rec lockRecord
		if json.Unmarshal(data, &rec) != nil || rec.PID <= 0 || processAlive(rec.PID) {
			return nil, ErrLocked
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, classify(rmErr)
		}
	}
	return nil, ErrLocked
}

// processAlive probes a PID with signal 0
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
