package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-sh/conductor/pkg/artifacts"
	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/registry"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/types"
)

// fakeHost is an in-memory session host for coordinator tests
type fakeHost struct {
	sessions map[string]*fakeSession
	alive    bool

	failCreate bool
	failSend   bool

	killed []string
	sent   map[string][]string
}

type fakeSession struct {
	cwd   string
	panes int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		sessions: make(map[string]*fakeSession),
		alive:    true,
		sent:     make(map[string][]string),
	}
}

func (f *fakeHost) ServerAlive() bool { return f.alive }

func (f *fakeHost) Exists(name string) (bool, error) {
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *fakeHost) Create(name, cwd string) error {
	if f.failCreate {
		return types.NewError(types.KindSessionCreateFailed, "injected create failure")
	}
	if _, ok := f.sessions[name]; ok {
		return types.NewErrorf(types.KindSessionExists, "session %q already exists", name)
	}
	f.sessions[name] = &fakeSession{cwd: cwd, panes: 1}
	return nil
}

func (f *fakeHost) SendLine(name, text string) error {
	if f.failSend {
		return types.NewError(types.KindIOError, "injected send failure")
	}
	if _, ok := f.sessions[name]; !ok {
		return types.NewErrorf(types.KindSessionMissing, "no session %q", name)
	}
	f.sent[name] = append(f.sent[name], text)
	return nil
}

func (f *fakeHost) Capture(name string) (string, error) {
	return strings.Join(f.sent[name], "\n"), nil
}

func (f *fakeHost) Kill(name string) error {
	delete(f.sessions, name)
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeHost) List() ([]types.SessionInfo, error) {
	var out []types.SessionInfo
	for name, s := range f.sessions {
		out = append(out, types.SessionInfo{
			Name: name, Windows: 1, Panes: s.panes,
			CreatedAt: time.Now(), LastActivity: time.Now(),
		})
	}
	return out, nil
}

func (f *fakeHost) PaneCWD(name string) (string, error) {
	s, ok := f.sessions[name]
	if !ok {
		return "", types.NewErrorf(types.KindSessionMissing, "no session %q", name)
	}
	return s.cwd, nil
}

func (f *fakeHost) PanePIDs(name string) ([]int, error) {
	s, ok := f.sessions[name]
	if !ok {
		return nil, types.NewErrorf(types.KindSessionMissing, "no session %q", name)
	}
	pids := make([]int, s.panes)
	for i := range pids {
		pids[i] = 1000 + i
	}
	return pids, nil
}

// env bundles a wired test fixture
type env struct {
	registry *registry.Registry
	store    *store.Store
	art      *artifacts.Artifacts
	host     *fakeHost
	coord    *Coordinator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	workspace := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("config/project.yml", fmt.Sprintf(`project:
  name: demo
  workspace_dir: %s
task_source:
  kind: github
  identifier: acme/demo
`, workspace))
	write("config/agents.yml", `agent_types:
  backend:
    directory: agents/backend
  frontend:
    directory: agents/frontend
`)
	write("agents/backend/config.yml", "display_name: Backend Agent\nsession_name: cond-backend\n")
	write("agents/backend/prompt.md", "backend prompt\n")
	write("agents/frontend/config.yml", "display_name: Frontend Agent\nsession_name: cond-frontend\n")
	write("agents/frontend/prompt.md", "frontend prompt\n")

	reg, err := registry.Load(root)
	require.NoError(t, err)

	settings := config.Default()
	settings.Lock.Timeout = time.Second
	settings.Lock.Backoff = 10 * time.Millisecond
	st := store.New(root, settings)
	art := artifacts.New(st, reg.MemoryDir())
	require.NoError(t, art.WriteInitial(reg.Project(), reg.Agents(), time.Now()))

	host := newFakeHost()
	return &env{
		registry: reg,
		store:    st,
		art:      art,
		host:     host,
		coord:    NewCoordinator(reg, st, art, host),
	}
}

func TestDeployHappyPath(t *testing.T) {
	e := newEnv(t)

	result, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "cond-backend", result.SessionName)

	// Session exists and was primed in order, ending with the ready line.
	exists, _ := e.host.Exists("cond-backend")
	assert.True(t, exists)
	sent := e.host.sent["cond-backend"]
	require.NotEmpty(t, sent)
	assert.Equal(t, "clear", sent[0])
	assert.Contains(t, sent[len(sent)-1], "Ready")
	assert.Contains(t, strings.Join(sent, "\n"), "https://github.com/acme/demo/issues/42")

	// The assignment is recorded.
	assignments, err := e.art.Assignments()
	require.NoError(t, err)
	var backend types.Assignment
	for _, a := range assignments {
		if a.AgentKey == "backend" {
			backend = a
		}
	}
	assert.Equal(t, "42", backend.TaskID)
	assert.Equal(t, types.AssignmentActive, backend.Status)
	assert.Equal(t, "cond-backend", backend.SessionName)

	// The orchestrator log mentions the deployment.
	logContent, err := e.store.Read(e.registry.OrchestratorLog())
	require.NoError(t, err)
	assert.Contains(t, logContent, "Deployed Backend Agent for task 42")
}

func TestDeployUnknownAgent(t *testing.T) {
	e := newEnv(t)

	before, err := e.art.ReadAssignments()
	require.NoError(t, err)

	_, err = e.coord.Deploy(context.Background(), "ghost", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindUnknownAgent, types.KindOf(err))

	// No side effects at all.
	after, rerr := e.art.ReadAssignments()
	require.NoError(t, rerr)
	assert.Equal(t, before, after)
	assert.Empty(t, e.host.sessions)
}

func TestDeployEmptyTask(t *testing.T) {
	e := newEnv(t)

	_, err := e.coord.Deploy(context.Background(), "backend", "  ", false)
	require.Error(t, err)
	assert.Equal(t, types.KindBadArgs, types.KindOf(err))
}

func TestDeploySessionExistsWithoutForce(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.host.Create("cond-backend", "/anywhere"))

	before, err := e.art.ReadAssignments()
	require.NoError(t, err)

	_, err = e.coord.Deploy(context.Background(), "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindSessionExists, types.KindOf(err))
	assert.Contains(t, types.HintOf(err), "--force")

	// Session untouched, artifact untouched.
	assert.Empty(t, e.host.killed)
	after, rerr := e.art.ReadAssignments()
	require.NoError(t, rerr)
	assert.Equal(t, before, after)
}

func TestDeployForceReplacesSession(t *testing.T) {
	e := newEnv(t)

	_, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.NoError(t, err)

	result, err := e.coord.Deploy(context.Background(), "backend", "43", true)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Contains(t, e.host.killed, "cond-backend")

	assignments, err := e.art.Assignments()
	require.NoError(t, err)
	for _, a := range assignments {
		if a.AgentKey == "backend" {
			assert.Equal(t, "43", a.TaskID)
		} else {
			// Other sections are untouched.
			assert.Equal(t, types.AssignmentIdle, a.Status)
		}
	}
}

func TestDeployTaskAlreadyAssigned(t *testing.T) {
	e := newEnv(t)

	_, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.NoError(t, err)

	before, err := e.art.ReadAssignments()
	require.NoError(t, err)

	// Another agent cannot take the same task, with or without force.
	for _, force := range []bool{false, true} {
		_, err = e.coord.Deploy(context.Background(), "frontend", "42", force)
		require.Error(t, err)
		assert.Equal(t, types.KindTaskAlreadyAssigned, types.KindOf(err))
		assert.Contains(t, err.Error(), "backend")
	}

	// The holder's session survived and nothing changed on disk.
	exists, _ := e.host.Exists("cond-backend")
	assert.True(t, exists)
	_, frontendExists := e.host.sessions["cond-frontend"]
	assert.False(t, frontendExists)

	after, rerr := e.art.ReadAssignments()
	require.NoError(t, rerr)
	assert.Equal(t, before, after)
}

func TestDeploySessionCreateFailure(t *testing.T) {
	e := newEnv(t)
	e.host.failCreate = true

	_, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindSessionCreateFailed, types.KindOf(err))

	// Nothing recorded.
	assignments, aerr := e.art.Assignments()
	require.NoError(t, aerr)
	for _, a := range assignments {
		assert.Equal(t, types.AssignmentIdle, a.Status)
	}
}

func TestDeployPrimingFailureKillsSession(t *testing.T) {
	e := newEnv(t)
	e.host.failSend = true

	_, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindEnvPrepFailed, types.KindOf(err))

	// The half-primed session was rolled back.
	assert.Contains(t, e.host.killed, "cond-backend")
	exists, _ := e.host.Exists("cond-backend")
	assert.False(t, exists)
}

func TestDeployHostUnavailable(t *testing.T) {
	e := newEnv(t)
	e.host.alive = false

	_, err := e.coord.Deploy(context.Background(), "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindHostUnavailable, types.KindOf(err))
}

func TestDeployPromptMissing(t *testing.T) {
	e := newEnv(t)
	path, err := e.registry.PromptPath("backend")
	require.NoError(t, err)

	// Validation resolves only the agent type; the reservation step's
	// prerequisite check is what reports the missing artifact.
	require.NoError(t, os.Remove(path))

	_, err = e.coord.Deploy(context.Background(), "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindPromptMissing, types.KindOf(err))
}

func TestDeployInterrupted(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.coord.Deploy(ctx, "backend", "42", false)
	require.Error(t, err)
	assert.Equal(t, types.KindInterrupted, types.KindOf(err))
	assert.Empty(t, e.host.sessions)
}

func TestDeploySerializesPerAgent(t *testing.T) {
	e := newEnv(t)

	// A held deploy lock forces the second deploy to time out rather
	// than interleave.
	lock, err := e.store.Acquire("deploy_backend", time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, derr := e.coord.Deploy(context.Background(), "backend", "42", false)
		done <- derr
	}()

	select {
	case derr := <-done:
		assert.Equal(t, types.KindLockTimeout, types.KindOf(derr))
	case <-time.After(3 * time.Second):
		t.Fatal("deploy did not return")
	}
	require.NoError(t, e.store.Release(lock))
}
