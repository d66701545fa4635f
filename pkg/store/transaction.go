package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-sh/conductor/pkg/types"
)

// Tx is a staged group of atomic writes committed together. Staged
// operations live on disk so a crashed process leaves evidence that the
// next Begin garbage-collects.
type Tx struct {
	store *Store
	id    string
	dir   string
	n     int
	done  bool
}

// Begin allocates a transaction directory. Orphaned transaction
// directories older than the grace period are removed first.
func (s *Store) Begin() (*Tx, error) {
	s.gcOrphans()

	id := uuid.NewString()
	dir := filepath.Join(s.txRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError(types.KindIOError, "failed to create transaction directory", err)
	}
	s.logger.Debug().Str("tx", id).Msg("Transaction started")
	return &Tx{store: s, id: id, dir: dir}, nil
}

// ID returns the transaction identifier
func (t *Tx) ID() string {
	return t.id
}

// Stage records a pending write of body to target. Nothing touches the
// target until Commit.
func (t *Tx) Stage(target, body string) error {
	if t.done {
		return types.NewError(types.KindTransactionFailed, "transaction already finished")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return types.WrapError(types.KindIOError, "failed to resolve staged target", err)
	}

	opPath := filepath.Join(t.dir, fmt.Sprintf("op_%d", t.n))
	if err := os.WriteFile(opPath, []byte(abs), 0o644); err != nil {
		return types.WrapError(types.KindIOError, "failed to stage operation", err)
	}
	if err := os.WriteFile(opPath+".content", []byte(body), 0o644); err != nil {
		return types.WrapError(types.KindIOError, "failed to stage operation body", err)
	}
	t.n++
	return nil
}

// stagedOp is one pending write read back from the transaction directory
type stagedOp struct {
	target string
	body   string
}

// readOps loads the staged operations in stage order
func (t *Tx) readOps() ([]stagedOp, error) {
	ops := make([]stagedOp, 0, t.n)
	for i := 0; i < t.n; i++ {
		opPath := filepath.Join(t.dir, fmt.Sprintf("op_%d", i))
		target, err := os.ReadFile(opPath)
		if err != nil {
			return nil, types.WrapError(types.KindTransactionFailed, "failed to read staged target", err)
		}
		body, err := os.ReadFile(opPath + ".content")
		if err != nil {
			return nil, types.WrapError(types.KindTransactionFailed, "failed to read staged body", err)
		}
		ops = append(ops, stagedOp{target: string(target), body: string(body)})
	}
	return ops, nil
}

// Commit applies every staged write atomically. Locks are taken for all
// targets in sorted-path order to prevent deadlocks between concurrent
// transactions, then writes happen in the same order, each lock released
// right after its write. If a write fails, targets already written are
// restored from the backups taken during this commit.
func (t *Tx) Commit() error {
	if t.done {
		return types.NewError(types.KindTransactionFailed, "transaction already finished")
	}
	t.done = true
	defer t.cleanup()

	ops, err := t.readOps()
	if err != nil {
		return err
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].target < ops[j].target })

	// Acquire every lock up front; a conflict here leaves nothing written.
	locks := make([]*Lock, 0, len(ops))
	for _, op := range ops {
		lock, err := t.store.Acquire(ResourceForPath(op.target), t.store.lockTimeout)
		if err != nil {
			for _, held := range locks {
				t.store.releaseQuiet(held)
			}
			return types.WrapError(types.KindTransactionFailed,
				fmt.Sprintf("failed to lock %s", op.target), err)
		}
		locks = append(locks, lock)
	}

	type written struct {
		target  string
		backup  string
		existed bool
	}
	var applied []written

	for i, op := range ops {
		backup, berr := t.store.backup(op.target)
		if berr == nil {
			berr = t.store.writeLocked(op.target, op.body)
		}
		t.store.releaseQuiet(locks[i])
		locks[i] = nil

		if berr != nil {
			// Roll back what we already wrote, newest first.
			for j := len(applied) - 1; j >= 0; j-- {
				t.restore(applied[j].target, applied[j].backup, applied[j].existed)
			}
			for _, held := range locks[i+1:] {
				if held != nil {
					t.store.releaseQuiet(held)
				}
			}
			return types.WrapError(types.KindTransactionFailed,
				fmt.Sprintf("failed to write %s", op.target), berr)
		}
		applied = append(applied, written{target: op.target, backup: backup, existed: backup != ""})
	}

	t.store.logger.Debug().Str("tx", t.id).Int("writes", len(ops)).Msg("Transaction committed")
	return nil
}

// restore puts a target back to its pre-commit state
func (t *Tx) restore(target, backup string, existed bool) {
	lock, err := t.store.Acquire(ResourceForPath(target), t.store.lockTimeout)
	if err != nil {
		t.store.logger.Error().Err(err).Str("target", target).Msg("Rollback could not lock target")
		return
	}
	defer t.store.releaseQuiet(lock)

	if !existed {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			t.store.logger.Error().Err(err).Str("target", target).Msg("Rollback could not remove target")
		}
		return
	}
	raw, err := os.ReadFile(backup)
	if err != nil {
		t.store.logger.Error().Err(err).Str("backup", backup).Msg("Rollback could not read backup")
		return
	}
	if err := t.store.writeLocked(target, string(raw)); err != nil {
		t.store.logger.Error().Err(err).Str("target", target).Msg("Rollback could not restore target")
	}
}

// Rollback discards the staged operations without touching any target
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.cleanup()
	t.store.logger.Debug().Str("tx", t.id).Msg("Transaction rolled back")
	return nil
}

// cleanup removes the transaction directory
func (t *Tx) cleanup() {
	if err := os.RemoveAll(t.dir); err != nil {
		t.store.logger.Warn().Err(err).Str("tx", t.id).Msg("Failed to remove transaction directory")
	}
}

// gcOrphans removes transaction directories abandoned by crashed
// processes once they outlive the grace period
func (s *Store) gcOrphans() {
	entries, err := os.ReadDir(s.txRoot)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.orphanGrace)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(s.txRoot, entry.Name())
		s.logger.Warn().Str("tx", entry.Name()).Msg("Garbage-collecting orphaned transaction")
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("tx", entry.Name()).Msg("Failed to remove orphaned transaction")
		}
	}
}
