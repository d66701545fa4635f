package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
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

// stubHost is a minimal in-memory session host for supervisor tests
type stubHost struct {
	sessions map[string]types.SessionInfo
	sent     map[string][]string
	killErr  map[string]error
	killed   []string
}

func newStubHost() *stubHost {
	return &stubHost{
		sessions: make(map[string]types.SessionInfo),
		sent:     make(map[string][]string),
		killErr:  make(map[string]error),
	}
}

func (s *stubHost) add(name string, windows, panes int, lastActivity time.Time) {
	s.sessions[name] = types.SessionInfo{
		Name: name, Windows: windows, Panes: panes,
		CreatedAt: time.Now().Add(-time.Hour), LastActivity: lastActivity,
	}
}

func (s *stubHost) ServerAlive() bool { return true }

func (s *stubHost) Exists(name string) (bool, error) {
	_, ok := s.sessions[name]
	return ok, nil
}

func (s *stubHost) Create(name, cwd string) error {
	s.add(name, 1, 1, time.Now())
	return nil
}

func (s *stubHost) SendLine(name, text string) error {
	if _, ok := s.sessions[name]; !ok {
		return types.NewErrorf(types.KindSessionMissing, "no session %q", name)
	}
	s.sent[name] = append(s.sent[name], text)
	return nil
}

func (s *stubHost) Capture(name string) (string, error) { return "", nil }

func (s *stubHost) Kill(name string) error {
	if err := s.killErr[name]; err != nil {
		return err
	}
	delete(s.sessions, name)
	s.killed = append(s.killed, name)
	return nil
}

func (s *stubHost) List() ([]types.SessionInfo, error) {
	var out []types.SessionInfo
	for _, info := range s.sessions {
		out = append(out, info)
	}
	return out, nil
}

func (s *stubHost) PaneCWD(name string) (string, error) { return "/workspace", nil }

func (s *stubHost) PanePIDs(name string) ([]int, error) {
	info, ok := s.sessions[name]
	if !ok {
		return nil, types.NewErrorf(types.KindSessionMissing, "no session %q", name)
	}
	pids := make([]int, info.Panes)
	for i := range pids {
		pids[i] = 2000 + i
	}
	return pids, nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *stubHost, *artifacts.Artifacts, *registry.Registry) {
	t.Helper()
	root := t.TempDir()
	workspace := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("config/project.yml", fmt.Sprintf("project:\n  name: demo\n  workspace_dir: %s\n", workspace))
	write("config/agents.yml", "agent_types:\n  backend:\n    directory: agents/backend\n  frontend:\n    directory: agents/frontend\n")
	write("agents/backend/config.yml", "display_name: Backend Agent\nsession_name: cond-backend\n")
	write("agents/backend/prompt.md", "p\n")
	write("agents/frontend/config.yml", "display_name: Frontend Agent\nsession_name: cond-frontend\n")
	write("agents/frontend/prompt.md", "p\n")

	reg, err := registry.Load(root)
	require.NoError(t, err)

	settings := config.Default()
	settings.Lock.Timeout = time.Second
	settings.Lock.Backoff = 10 * time.Millisecond
	settings.Supervisor.PSBinary = "/nonexistent/ps" // Keep sampling off in tests
	st := store.New(root, settings)
	art := artifacts.New(st, reg.MemoryDir())
	require.NoError(t, art.WriteInitial(reg.Project(), reg.Agents(), time.Now()))

	host := newStubHost()
	return New(reg, st, art, host, settings), host, art, reg
}

func TestListFiltersToConfiguredAgents(t *testing.T) {
	sup, host, _, _ := newTestSupervisor(t)

	host.add("cond-backend", 1, 1, time.Now())
	host.add("somebody-elses-session", 1, 1, time.Now())

	statuses, err := sup.List()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "backend", statuses[0].AgentKey)
	assert.Equal(t, types.HealthHealthy, statuses[0].Health)
	assert.Equal(t, types.ActivityActive, statuses[0].Activity)
}

func TestHealthClassification(t *testing.T) {
	tests := []struct {
		name     string
		windows  int
		panes    int
		expected types.SessionHealth
	}{
		{"healthy", 1, 1, types.HealthHealthy},
		{"no panes", 1, 0, types.HealthNoPanes},
		{"no windows", 0, 0, types.HealthNoWindows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, host, _, _ := newTestSupervisor(t)
			host.add("cond-backend", tt.windows, tt.panes, time.Now())

			health, err := sup.Health("backend")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, health)
		})
	}
}

func TestHealthNotFound(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)

	health, err := sup.Health("backend")
	require.NoError(t, err)
	assert.Equal(t, types.HealthNotFound, health)
}

func TestIdleClassification(t *testing.T) {
	sup, host, _, _ := newTestSupervisor(t)
	host.add("cond-backend", 1, 1, time.Now().Add(-20*time.Minute))

	statuses, err := sup.List()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.ActivityIdle, statuses[0].Activity)
	assert.Greater(t, statuses[0].IdleFor, 15*time.Minute)
}

func TestStopAllKillsAndReconciles(t *testing.T) {
	sup, host, art, reg := newTestSupervisor(t)

	// Two live sessions with recorded assignments.
	host.add("cond-backend", 1, 1, time.Now())
	host.add("cond-frontend", 1, 1, time.Now())

	content, err := art.ReadAssignments()
	require.NoError(t, err)
	backend, _ := reg.Agent("backend")
	frontend, _ := reg.Agent("frontend")
	content, err = artifacts.SetAssignment(content, backend, "42", time.Now())
	require.NoError(t, err)
	content, err = artifacts.SetAssignment(content, frontend, "7", time.Now())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(art.Path(artifacts.TaskAssignmentsFile), []byte(content), 0o644))

	result, err := sup.StopAll()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stopped)
	assert.Zero(t, result.Failed)
	assert.True(t, result.Reconciled)
	assert.Empty(t, host.sessions)

	// I2: every section is idle again.
	assignments, err := art.Assignments()
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		assert.Equal(t, types.AssignmentIdle, a.Status)
		assert.Empty(t, a.TaskID)
		assert.Empty(t, a.SessionName)
	}
}

func TestStopAllAttemptsEveryKill(t *testing.T) {
	sup, host, _, _ := newTestSupervisor(t)

	host.add("cond-backend", 1, 1, time.Now())
	host.add("cond-frontend", 1, 1, time.Now())
	host.killErr["cond-backend"] = types.NewError(types.KindIOError, "injected kill failure")

	result, err := sup.StopAll()
	require.Error(t, err)
	assert.Equal(t, 1, result.Stopped)
	assert.Equal(t, 1, result.Failed)

	// The healthy session still went down.
	assert.Contains(t, host.killed, "cond-frontend")
}

func TestResolveSession(t *testing.T) {
	sup, host, _, _ := newTestSupervisor(t)

	_, err := sup.ResolveSession("backend")
	require.Error(t, err)
	assert.Equal(t, types.KindSessionMissing, types.KindOf(err))
	assert.NotEmpty(t, types.HintOf(err))

	host.add("cond-backend", 1, 1, time.Now())
	session, err := sup.ResolveSession("backend")
	require.NoError(t, err)
	assert.Equal(t, "cond-backend", session)

	_, err = sup.ResolveSession("ghost")
	assert.Equal(t, types.KindAgentMissing, types.KindOf(err))
}

func TestSendDeliversAndRecordsHistory(t *testing.T) {
	sup, host, _, reg := newTestSupervisor(t)
	host.add("cond-backend", 1, 1, time.Now())

	require.NoError(t, sup.Send("backend", "make test"))
	assert.Equal(t, []string{"make test"}, host.sent["cond-backend"])

	history, err := os.ReadFile(filepath.Join(reg.AgentLogDir("backend"), "history.log"))
	require.NoError(t, err)
	assert.Contains(t, string(history), "make test")
}

func TestSendRefusesUnsafeCommand(t *testing.T) {
	sup, host, _, _ := newTestSupervisor(t)
	host.add("cond-backend", 1, 1, time.Now())

	err := sup.Send("backend", "sudo rm -rf / --no-preserve-root")
	require.Error(t, err)
	assert.Equal(t, types.KindUnsafeCommand, types.KindOf(err))

	// Nothing reached the session.
	assert.Empty(t, host.sent["cond-backend"])
}

func TestValidateEnvironment(t *testing.T) {
	sup, host, _, reg := newTestSupervisor(t)
	host.add("cond-backend", 1, 1, time.Now())

	// The stub pane reports /workspace, which is not the project
	// workspace, so validation fails.
	err := sup.ValidateEnvironment("backend", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), reg.Project().WorkspaceDir)
}
