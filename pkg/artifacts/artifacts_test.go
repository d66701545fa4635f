package artifacts

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

func newTestArtifacts(t *testing.T) *Artifacts {
	t.Helper()
	root := t.TempDir()
	settings := config.Default()
	settings.Lock.Timeout = time.Second
	settings.Lock.Backoff = 10 * time.Millisecond
	st := store.New(root, settings)
	return New(st, filepath.Join(root, "memory"))
}

func testProject() *types.Project {
	return &types.Project{
		Name:         "demo",
		WorkspaceDir: "/tmp/demo",
		Phases: map[int]types.Phase{
			1: {Name: "Foundation", Description: "core plumbing"},
			2: {Name: "Features"},
		},
	}
}

func TestWriteInitialCreatesAllArtifacts(t *testing.T) {
	a := newTestArtifacts(t)
	now := time.Now()

	require.NoError(t, a.WriteInitial(testProject(), testAgents, now))

	assignments, err := a.Assignments()
	require.NoError(t, err)
	assert.Len(t, assignments, 2)

	state, err := a.ReadProjectState()
	require.NoError(t, err)
	assert.Contains(t, state.CurrentPhase, "Foundation")

	blockers, err := a.OpenBlockers()
	require.NoError(t, err)
	assert.Empty(t, blockers)
}

func TestWriteInitialIsIdempotent(t *testing.T) {
	a := newTestArtifacts(t)
	now := time.Now()

	require.NoError(t, a.WriteInitial(testProject(), testAgents, now))

	// A worker edit must survive a re-run of init.
	content, err := a.ReadAssignments()
	require.NoError(t, err)
	edited, err := SetAssignment(content, testAgents[0], "42", now)
	require.NoError(t, err)
	require.NoError(t, a.store.Write(a.Path(TaskAssignmentsFile), edited, false))

	require.NoError(t, a.WriteInitial(testProject(), testAgents, now.Add(time.Hour)))

	after, err := a.ReadAssignments()
	require.NoError(t, err)
	assert.Equal(t, edited, after)
}

func TestResetAssignmentsArtifact(t *testing.T) {
	a := newTestArtifacts(t)
	now := time.Now()

	require.NoError(t, a.WriteInitial(testProject(), testAgents, now))

	content, err := a.ReadAssignments()
	require.NoError(t, err)
	deployed, err := SetAssignment(content, testAgents[1], "7", now)
	require.NoError(t, err)
	require.NoError(t, a.store.Write(a.Path(TaskAssignmentsFile), deployed, false))

	require.NoError(t, a.ResetAssignments(now.Add(time.Minute)))

	assignments, err := a.Assignments()
	require.NoError(t, err)
	for _, as := range assignments {
		assert.Equal(t, types.AssignmentIdle, as.Status)
		assert.Empty(t, as.TaskID)
	}
}

func TestBlockerLifecycle(t *testing.T) {
	a := newTestArtifacts(t)
	now := time.Now()

	require.NoError(t, a.AddBlocker("waiting on schema migration", now))
	require.NoError(t, a.AddBlocker("flaky CI runner", now))

	open, err := a.OpenBlockers()
	require.NoError(t, err)
	require.Len(t, open, 2)

	require.NoError(t, a.ResolveBlocker("waiting on schema migration", now.Add(time.Hour)))

	open, err = a.OpenBlockers()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "flaky CI runner", open[0].Description)

	content, err := a.store.Read(a.Path(BlockersFile))
	require.NoError(t, err)
	all := ParseBlockers(content)
	require.Len(t, all, 2)
}

func TestResolveUnknownBlocker(t *testing.T) {
	a := newTestArtifacts(t)
	require.NoError(t, a.AddBlocker("real", time.Now()))

	err := a.ResolveBlocker("imaginary", time.Now())
	require.Error(t, err)
	assert.Equal(t, types.KindBadArgs, types.KindOf(err))
}

func TestDecisionLog(t *testing.T) {
	a := newTestArtifacts(t)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, a.AppendDecision("use directory locks over flock", now))
	require.NoError(t, a.AppendDecision("one queue per agent", now.Add(time.Minute)))

	decisions, err := a.Decisions()
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "use directory locks over flock", decisions[0].Text)
	assert.True(t, now.Equal(decisions[0].Timestamp))
}

func TestParseProjectStateSections(t *testing.T) {
	content := "# Project State\n" +
		"\n" +
		"## Current Phase\n" +
		"\n" +
		"Phase 2 - Features\n" +
		"\n" +
		"## Active Tasks\n" +
		"\n" +
		"- 42 backend API\n" +
		"- 7 frontend polish\n" +
		"\n" +
		"## Completed Tasks\n" +
		"\n" +
		"- 3 project scaffolding\n" +
		"\n" +
		"## Blockers\n" +
		"\n" +
		"_None_\n"

	state := ParseProjectState(content)
	assert.Equal(t, "Phase 2 - Features", state.CurrentPhase)
	assert.Equal(t, []string{"42 backend API", "7 frontend polish"}, state.ActiveTasks)
	assert.Equal(t, []string{"3 project scaffolding"}, state.CompletedTasks)
	assert.Empty(t, state.Blockers)
}
