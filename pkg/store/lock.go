package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/conductor-sh/conductor/pkg/types"
)

// lockSuffix is appended to every lock directory name. The lock is the
// existence of the directory; the info file inside is ownership metadata.
const lockSuffix = ".lock.d"

// infoFile records "<pid>:<epoch_seconds>" inside a lock directory
const infoFile = "info"

// Lock is an opaque handle for a held directory lock
type Lock struct {
	resource string
	dir      string
	pid      int
}

// Resource returns the resource name the lock protects
func (l *Lock) Resource() string {
	return l.resource
}

// Acquire takes the named lock, waiting up to timeout. Lock directories
// are created with a single mkdir, which is atomic on POSIX filesystems.
// A lock whose recorded pid no longer exists is stale and is reclaimed.
func (s *Store) Acquire(resource string, timeout time.Duration) (*Lock, error) {
	dir := filepath.Join(s.lockRoot, resource+lockSuffix)
	deadline := time.Now().Add(timeout)
	pid := os.Getpid()

	if err := os.MkdirAll(s.lockRoot, 0o755); err != nil {
		return nil, types.WrapError(types.KindIOError, "failed to create lock root", err)
	}

	for {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			// Lock is ours; record ownership.
			info := fmt.Sprintf("%d:%d", pid, time.Now().Unix())
			if werr := os.WriteFile(filepath.Join(dir, infoFile), []byte(info), 0o644); werr != nil {
				_ = os.RemoveAll(dir)
				return nil, types.WrapError(types.KindIOError, "failed to record lock owner", werr)
			}
			s.logger.Debug().Str("resource", resource).Msg("Lock acquired")
			return &Lock{resource: resource, dir: dir, pid: pid}, nil
		}
		if !os.IsExist(err) {
			return nil, types.WrapError(types.KindIOError,
				fmt.Sprintf("failed to create lock %s", resource), err)
		}

		// Held by someone. Reclaim if the owner is gone.
		if owner, ok := readLockOwner(dir); ok && !processAlive(owner) {
			s.logger.Warn().Str("resource", resource).Int("pid", owner).
				Msg("Reclaiming stale lock from dead process")
			_ = os.RemoveAll(dir)
			continue
		}

		if time.Now().After(deadline) {
			return nil, types.NewErrorf(types.KindLockTimeout,
				"timed out after %s waiting for lock %s", timeout, resource)
		}
		time.Sleep(s.backoff)
	}
}

// Release drops a held lock. The recorded pid must match the handle's;
// a mismatched release leaves the lock intact.
func (s *Store) Release(l *Lock) error {
	owner, ok := readLockOwner(l.dir)
	if ok && owner != l.pid {
		return types.NewErrorf(types.KindNotOwner,
			"lock %s is owned by pid %d, not %d", l.resource, owner, l.pid)
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to release lock %s", l.resource), err)
	}
	s.logger.Debug().Str("resource", l.resource).Msg("Lock released")
	return nil
}

// readLockOwner parses the pid out of a lock directory's info file
func readLockOwner(dir string) (int, bool) {
	raw, err := os.ReadFile(filepath.Join(dir, infoFile))
	if err != nil {
		return 0, false
	}
	fields := strings.SplitN(strings.TrimSpace(string(raw)), ":", 2)
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether a pid exists in the process table
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything. EPERM means
	// the process exists but belongs to someone else.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// ResourceForPath derives the canonical lock resource name for a file
// path, so every writer of the same file contends on the same lock.
func ResourceForPath(path string) string {
	clean := filepath.Clean(path)
	clean = strings.TrimPrefix(clean, string(filepath.Separator))
	return "file_" + strings.NewReplacer(string(filepath.Separator), "_", ".", "_").Replace(clean)
}
