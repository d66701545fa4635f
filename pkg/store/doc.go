/*
Package store implements the atomic file store behind every shared-artifact
mutation.

Concurrent Conductor invocations and worker sessions coordinate through
files, so the store provides the three primitives that keep them from
corrupting each other:

# Directory locks

A lock on resource R is the directory <lock_root>/R.lock.d. The mkdir
syscall is the acquisition: it either creates the directory or fails with
EEXIST, atomically, with no reliance on file descriptors or advisory lock
inheritance. An info file inside records "<pid>:<epoch>"; a lock whose pid
has left the process table is stale and reclaimed. Contenders back off
(default 100ms) until the acquire timeout (default 30s) and then fail with
LockTimeout. Release verifies ownership; releasing someone else's lock
fails with NotOwner and leaves the lock intact.

# Safe reads and atomic writes

Reads take the file's lock and return exact bytes (missing file reads as
empty). Writes take the lock, optionally detect external modification via
mtime (Conflict), snapshot a timestamped backup (retaining the newest N,
default 5), then write through a same-directory temp file with fsync and
rename. Readers can never observe a partial write.

# Transactions

A transaction stages writes as op_<n>/op_<n>.content pairs inside
<tx_root>/<tx_id>. Commit locks all targets in sorted-path order (so two
transactions cannot deadlock), applies the writes in that order, and on a
mid-commit failure restores the already-written targets from the backups
taken during the same commit. Transaction directories are removed on
commit or rollback; directories orphaned by a crash are garbage-collected
by any later Begin after a grace period (default 1h).
*/
package store
