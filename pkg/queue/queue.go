package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/types"
)

// seqFile holds the per-queue monotonic sequence counter
const seqFile = "seq"

// cmdPrefix starts every command file name: cmd_<priority>_<sequence>_<rand>
const cmdPrefix = "cmd_"

// Manager owns the per-agent command queues. Every queue is a directory
// of command files; all mutation happens under the queue's store lock, so
// sequences are monotonic across concurrent enqueuers.
type Manager struct {
	store  *store.Store
	root   string // Queue root, usually <memory>/queues
	maxCmd int
	logger zerolog.Logger
}

// NewManager creates a queue manager rooted at dir
func NewManager(st *store.Store, dir string, settings *config.Settings) *Manager {
	if settings == nil {
		settings = config.Default()
	}
	return &Manager{
		store:  st,
		root:   dir,
		maxCmd: settings.Queue.MaxCommands,
		logger: log.WithComponent("queue"),
	}
}

// Status summarizes one queue's depth by priority
type Status struct {
	High   int
	Normal int
	Low    int
	Total  int
}

// queueDir returns the directory for one agent's queue
func (m *Manager) queueDir(agentKey string) string {
	return filepath.Join(m.root, agentKey)
}

// lockResource names the store lock guarding one queue
func lockResource(agentKey string) string {
	return "queue_" + agentKey
}

// Enqueue appends a command to the agent's queue. Fails with QueueFull
// when the queue holds the configured maximum.
func (m *Manager) Enqueue(agentKey, payload string, priority types.Priority) (types.QueuedCommand, error) {
	var cmd types.QueuedCommand

	lock, err := m.store.Acquire(lockResource(agentKey), m.store.LockTimeout())
	if err != nil {
		return cmd, err
	}
	defer m.store.Release(lock)

	dir := m.queueDir(agentKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cmd, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to create queue directory for %s", agentKey), err)
	}

	entries, err := listCommands(dir)
	if err != nil {
		return cmd, err
	}
	if len(entries) >= m.maxCmd {
		return cmd, types.NewErrorf(types.KindQueueFull,
			"queue for %s holds %d commands (max %d)", agentKey, len(entries), m.maxCmd)
	}

	seq, err := m.nextSequence(dir)
	if err != nil {
		return cmd, err
	}

	name := fmt.Sprintf("%s%d_%010d_%s", cmdPrefix, priority, seq, uuid.NewString()[:8])
	if err := os.WriteFile(filepath.Join(dir, name), []byte(payload), 0o644); err != nil {
		return cmd, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to write command for %s", agentKey), err)
	}

	cmd = types.QueuedCommand{
		AgentKey:   agentKey,
		Sequence:   seq,
		Priority:   priority,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	m.logger.Debug().Str("agent", agentKey).Int("seq", seq).
		Str("priority", priority.String()).Msg("Command enqueued")
	return cmd, nil
}

// Dequeue removes and returns the next command: lowest priority value
// first, then lowest sequence. Fails with QueueEmpty when none remain.
func (m *Manager) Dequeue(agentKey string) (types.QueuedCommand, error) {
	var cmd types.QueuedCommand

	lock, err := m.store.Acquire(lockResource(agentKey), m.store.LockTimeout())
	if err != nil {
		return cmd, err
	}
	defer m.store.Release(lock)

	dir := m.queueDir(agentKey)
	entries, err := listCommands(dir)
	if err != nil {
		return cmd, err
	}
	if len(entries) == 0 {
		return cmd, types.NewErrorf(types.KindQueueEmpty, "queue for %s is empty", agentKey)
	}

	best := entries[0]
	for _, e := range entries[1:] {
		if e.priority < best.priority ||
			(e.priority == best.priority && e.sequence < best.sequence) {
			best = e
		}
	}

	path := filepath.Join(dir, best.name)
	payload, err := os.ReadFile(path)
	if err != nil {
		return cmd, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to read command %s", best.name), err)
	}
	if err := os.Remove(path); err != nil {
		return cmd, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to remove command %s", best.name), err)
	}

	cmd = types.QueuedCommand{
		AgentKey: agentKey,
		Sequence: best.sequence,
		Priority: best.priority,
		Payload:  string(payload),
	}
	m.logger.Debug().Str("agent", agentKey).Int("seq", best.sequence).
		Str("priority", best.priority.String()).Msg("Command dequeued")
	return cmd, nil
}

// Status counts queued commands by priority
func (m *Manager) Status(agentKey string) (Status, error) {
	lock, err := m.store.Acquire(lockResource(agentKey), m.store.LockTimeout())
	if err != nil {
		return Status{}, err
	}
	defer m.store.Release(lock)

	entries, err := listCommands(m.queueDir(agentKey))
	if err != nil {
		return Status{}, err
	}

	var st Status
	for _, e := range entries {
		switch e.priority {
		case types.PriorityHigh:
			st.High++
		case types.PriorityNormal:
			st.Normal++
		case types.PriorityLow:
			st.Low++
		}
		st.Total++
	}
	return st, nil
}

// nextSequence increments and persists the queue's sequence counter. The
// caller holds the queue lock.
func (m *Manager) nextSequence(dir string) (int, error) {
	path := filepath.Join(dir, seqFile)
	seq := 0
	if raw, err := os.ReadFile(path); err == nil {
		if n, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil {
			seq = n
		}
	}
	seq++
	if err := os.WriteFile(path, []byte(strconv.Itoa(seq)), 0o644); err != nil {
		return 0, types.WrapError(types.KindIOError, "failed to persist queue sequence", err)
	}
	return seq, nil
}

// cmdEntry is one parsed command file name
type cmdEntry struct {
	name     string
	priority types.Priority
	sequence int
}

// listCommands parses the command files in a queue directory. Files that
// do not look like commands (the sequence file, stray editor droppings)
// are ignored.
func listCommands(dir string) ([]cmdEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to list queue directory %s", dir), err)
	}

	var out []cmdEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), cmdPrefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(entry.Name(), cmdPrefix), "_", 3)
		if len(parts) != 3 {
			continue
		}
		prio, err1 := strconv.Atoi(parts[0])
		seq, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, cmdEntry{
			name:     entry.Name(),
			priority: types.Priority(prio),
			sequence: seq,
		})
	}
	return out, nil
}
