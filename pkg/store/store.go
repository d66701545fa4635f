package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/types"
)

// Store provides the concurrency primitives behind every shared-artifact
// mutation: directory locks, safe reads, atomic writes with backups, and
// multi-file transactions.
type Store struct {
	lockRoot    string
	txRoot      string
	backups     int
	lockTimeout time.Duration
	backoff     time.Duration
	orphanGrace time.Duration
	logger      zerolog.Logger
}

// New creates a store rooted at the orchestration root
func New(root string, settings *config.Settings) *Store {
	if settings == nil {
		settings = config.Default()
	}
	return &Store{
		lockRoot:    filepath.Join(root, settings.Lock.Root),
		txRoot:      filepath.Join(root, settings.Store.TxRoot),
		backups:     settings.Store.BackupRetention,
		lockTimeout: settings.Lock.Timeout,
		backoff:     settings.Lock.Backoff,
		orphanGrace: settings.Store.TxOrphanGrace,
		logger:      log.WithComponent("store"),
	}
}

// Read returns the file's exact bytes under the file's lock. A missing
// file reads as empty without error.
func (s *Store) Read(path string) (string, error) {
	lock, err := s.Acquire(ResourceForPath(path), s.lockTimeout)
	if err != nil {
		return "", err
	}
	defer s.releaseQuiet(lock)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to read %s", path), err)
	}
	return string(raw), nil
}

// Write replaces the file's contents atomically: backup, write to a
// temporary file in the same directory, fsync, rename. With checkConflict
// the write fails if the file's mtime advanced between the caller's last
// look and lock acquisition.
func (s *Store) Write(path, body string, checkConflict bool) error {
	var before time.Time
	if checkConflict {
		if st, err := os.Stat(path); err == nil {
			before = st.ModTime()
		}
	}

	lock, err := s.Acquire(ResourceForPath(path), s.lockTimeout)
	if err != nil {
		return err
	}
	defer s.releaseQuiet(lock)

	if checkConflict && !before.IsZero() {
		if st, err := os.Stat(path); err == nil && st.ModTime().After(before) {
			return types.NewErrorf(types.KindConflict,
				"%s was modified while waiting for its lock", path)
		}
	}

	if _, err := s.backup(path); err != nil {
		return err
	}
	return s.writeLocked(path, body)
}

// writeLocked performs the tmp/fsync/rename dance. The caller holds the
// file's lock.
func (s *Store) writeLocked(path, body string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to create %s", dir), err)
	}

	tmp := fmt.Sprintf("%s.tmp.%s", path, uuid.NewString()[:8])
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to create temp file for %s", path), err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to write temp file for %s", path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to sync temp file for %s", path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to close temp file for %s", path), err)
	}

	// Rename is atomic within the same filesystem; readers see either the
	// old bytes or the new bytes, never a prefix.
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to replace %s", path), err)
	}
	return nil
}

// Append adds a line to an append-only file under its lock
func (s *Store) Append(path, line string) error {
	lock, err := s.Acquire(ResourceForPath(path), s.lockTimeout)
	if err != nil {
		return err
	}
	defer s.releaseQuiet(lock)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to create %s", filepath.Dir(path)), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to append to %s", path), err)
	}
	return f.Sync()
}

// Backup snapshots a file under its lock without modifying it. Returns
// the backup path, or empty when the file does not exist.
func (s *Store) Backup(path string) (string, error) {
	lock, err := s.Acquire(ResourceForPath(path), s.lockTimeout)
	if err != nil {
		return "", err
	}
	defer s.releaseQuiet(lock)
	return s.backup(path)
}

// backup snapshots the current file before a destructive write, pruning
// old snapshots beyond the retention count. Returns the backup path, or
// empty when the file does not exist yet.
func (s *Store) backup(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", types.WrapError(types.KindBackupFailed,
			fmt.Sprintf("failed to read %s for backup", path), err)
	}
	backupPath := fmt.Sprintf("%s.backup.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		return "", types.WrapError(types.KindBackupFailed,
			fmt.Sprintf("failed to write backup of %s", path), err)
	}

	s.pruneBackups(path)
	return backupPath, nil
}

// pruneBackups keeps only the newest retention-count backups of path
func (s *Store) pruneBackups(path string) {
	matches, err := filepath.Glob(path + ".backup.*")
	if err != nil || len(matches) <= s.backups {
		return
	}
	// Backup names embed a nanosecond timestamp of equal width, so the
	// lexicographic sort is also chronological.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-s.backups] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn().Err(err).Str("backup", old).Msg("Failed to prune backup")
		}
	}
}

// latestBackup returns the newest backup of path, if any
func latestBackup(path string) (string, bool) {
	matches, err := filepath.Glob(path + ".backup.*")
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}

// releaseQuiet releases a lock, logging instead of propagating failures
func (s *Store) releaseQuiet(l *Lock) {
	if err := s.Release(l); err != nil {
		s.logger.Error().Err(err).Str("resource", l.resource).Msg("Failed to release lock")
	}
}

// LockTimeout exposes the configured lock timeout for callers that take
// coarse-grained locks around multi-step operations
func (s *Store) LockTimeout() time.Duration {
	return s.lockTimeout
}
