package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	settings := config.Default()
	settings.Lock.Timeout = time.Second
	settings.Lock.Backoff = 10 * time.Millisecond
	st := store.New(root, settings)
	return NewManager(st, filepath.Join(root, "memory", "queues"), settings)
}

func TestPriorityOrdering(t *testing.T) {
	m := newTestManager(t)

	// Enqueue A:Low, B:High, C:Normal, D:High; expect B, D, C, A.
	_, err := m.Enqueue("backend", "A", types.PriorityLow)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "B", types.PriorityHigh)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "C", types.PriorityNormal)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "D", types.PriorityHigh)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		cmd, err := m.Dequeue("backend")
		require.NoError(t, err)
		got = append(got, cmd.Payload)
	}
	assert.Equal(t, []string{"B", "D", "C", "A"}, got)
}

func TestFIFOWithinPriority(t *testing.T) {
	m := newTestManager(t)

	for _, payload := range []string{"one", "two", "three"} {
		_, err := m.Enqueue("backend", payload, types.PriorityNormal)
		require.NoError(t, err)
	}

	for _, want := range []string{"one", "two", "three"} {
		cmd, err := m.Dequeue("backend")
		require.NoError(t, err)
		assert.Equal(t, want, cmd.Payload)
	}
}

func TestSequencesMonotonic(t *testing.T) {
	m := newTestManager(t)

	prev := 0
	for i := 0; i < 5; i++ {
		cmd, err := m.Enqueue("backend", "payload", types.PriorityNormal)
		require.NoError(t, err)
		assert.Greater(t, cmd.Sequence, prev)
		prev = cmd.Sequence
	}
}

func TestDequeueEmpty(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Dequeue("backend")
	require.Error(t, err)
	assert.Equal(t, types.KindQueueEmpty, types.KindOf(err))
}

func TestStatusCounts(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Enqueue("backend", "a", types.PriorityHigh)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "b", types.PriorityNormal)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "c", types.PriorityNormal)
	require.NoError(t, err)

	st, err := m.Status("backend")
	require.NoError(t, err)
	assert.Equal(t, 1, st.High)
	assert.Equal(t, 2, st.Normal)
	assert.Equal(t, 0, st.Low)
	assert.Equal(t, 3, st.Total)

	// R1: one more enqueue bumps its priority count and the total.
	_, err = m.Enqueue("backend", "d", types.PriorityLow)
	require.NoError(t, err)
	st, err = m.Status("backend")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Low)
	assert.Equal(t, 4, st.Total)
}

func TestQueueFull(t *testing.T) {
	root := t.TempDir()
	settings := config.Default()
	settings.Queue.MaxCommands = 2
	settings.Lock.Timeout = time.Second
	settings.Lock.Backoff = 10 * time.Millisecond
	st := store.New(root, settings)
	m := NewManager(st, filepath.Join(root, "queues"), settings)

	_, err := m.Enqueue("backend", "a", types.PriorityNormal)
	require.NoError(t, err)
	_, err = m.Enqueue("backend", "b", types.PriorityNormal)
	require.NoError(t, err)

	_, err = m.Enqueue("backend", "c", types.PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, types.KindQueueFull, types.KindOf(err))
}

func TestQueuesAreIndependent(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Enqueue("backend", "backend work", types.PriorityNormal)
	require.NoError(t, err)
	_, err = m.Enqueue("frontend", "frontend work", types.PriorityNormal)
	require.NoError(t, err)

	cmd, err := m.Dequeue("frontend")
	require.NoError(t, err)
	assert.Equal(t, "frontend work", cmd.Payload)

	st, err := m.Status("backend")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
}

func TestDequeueConsumesExactlyOnce(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Enqueue("backend", "only", types.PriorityHigh)
	require.NoError(t, err)

	cmd, err := m.Dequeue("backend")
	require.NoError(t, err)
	assert.Equal(t, "only", cmd.Payload)

	_, err = m.Dequeue("backend")
	assert.Equal(t, types.KindQueueEmpty, types.KindOf(err))
}
