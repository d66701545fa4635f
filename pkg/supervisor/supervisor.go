package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/artifacts"
	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/registry"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/tmux"
	"github.com/conductor-sh/conductor/pkg/types"
)

// Supervisor observes the session host and reconciles the shared
// artifacts with what is actually running. It holds only a name-keyed
// view of sessions; the host owns their lifetime.
type Supervisor struct {
	registry      *registry.Registry
	store         *store.Store
	art           *artifacts.Artifacts
	host          tmux.SessionHost
	sampler       *resourceSampler
	idleThreshold time.Duration
	logger        zerolog.Logger
}

// New creates a supervisor
func New(reg *registry.Registry, st *store.Store, art *artifacts.Artifacts, host tmux.SessionHost, settings *config.Settings) *Supervisor {
	if settings == nil {
		settings = config.Default()
	}
	return &Supervisor{
		registry:      reg,
		store:         st,
		art:           art,
		host:          host,
		sampler:       newResourceSampler(settings),
		idleThreshold: settings.Supervisor.IdleThreshold,
		logger:        log.WithComponent("supervisor"),
	}
}

// List reports the status of every configured agent whose session name
// appears on the host, healthy or not
func (s *Supervisor) List() ([]types.AgentSessionStatus, error) {
	sessions, err := s.host.List()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]types.SessionInfo, len(sessions))
	for _, info := range sessions {
		byName[info.Name] = info
	}

	now := time.Now()
	var out []types.AgentSessionStatus
	for _, agent := range s.registry.Agents() {
		info, live := byName[agent.SessionName]
		if !live {
			continue
		}

		status := types.AgentSessionStatus{
			AgentKey:    agent.Key,
			DisplayName: agent.DisplayName,
			SessionName: agent.SessionName,
			Health:      classifyHealth(info),
		}
		status.Activity, status.IdleFor = classifyActivity(info, now, s.idleThreshold)

		if pids, perr := s.host.PanePIDs(agent.SessionName); perr == nil {
			status.Resources = s.sampler.sample(pids)
		}
		out = append(out, status)
	}
	return out, nil
}

// Health reports the health of one agent's session
func (s *Supervisor) Health(agentKey string) (types.SessionHealth, error) {
	agent, err := s.registry.Agent(agentKey)
	if err != nil {
		return types.HealthNotFound, err
	}
	exists, err := s.host.Exists(agent.SessionName)
	if err != nil {
		return types.HealthNotFound, err
	}
	if !exists {
		return types.HealthNotFound, nil
	}

	sessions, err := s.host.List()
	if err != nil {
		return types.HealthNotFound, err
	}
	for _, info := range sessions {
		if info.Name == agent.SessionName {
			return classifyHealth(info), nil
		}
	}
	return types.HealthNotFound, nil
}

// classifyHealth maps a session snapshot onto the health enum
func classifyHealth(info types.SessionInfo) types.SessionHealth {
	switch {
	case info.Windows < 1:
		return types.HealthNoWindows
	case info.Panes < 1:
		return types.HealthNoPanes
	default:
		return types.HealthHealthy
	}
}

// classifyActivity derives the activity class from the last-attach epoch
func classifyActivity(info types.SessionInfo, now time.Time, threshold time.Duration) (types.SessionActivity, time.Duration) {
	if info.LastActivity.IsZero() {
		return types.ActivityInactive, 0
	}
	idle := now.Sub(info.LastActivity)
	if idle <= threshold {
		return types.ActivityActive, idle
	}
	return types.ActivityIdle, idle
}

// ValidateEnvironment asserts that the agent's pane runs in the project
// workspace and that the given paths exist
func (s *Supervisor) ValidateEnvironment(agentKey string, requiredPaths []string) error {
	agent, err := s.registry.Agent(agentKey)
	if err != nil {
		return err
	}

	cwd, err := s.host.PaneCWD(agent.SessionName)
	if err != nil {
		return err
	}
	workspace := s.registry.Project().WorkspaceDir
	if filepath.Clean(cwd) != filepath.Clean(workspace) {
		return types.NewErrorf(types.KindEnvPrepFailed,
			"session %s runs in %s, expected %s", agent.SessionName, cwd, workspace)
	}

	for _, p := range requiredPaths {
		if _, err := os.Stat(p); err != nil {
			return types.NewErrorf(types.KindEnvPrepFailed, "required path %s is missing", p)
		}
	}
	return nil
}

// StopResult summarizes a bulk stop
type StopResult struct {
	Stopped    int
	Failed     int
	Reconciled bool
}

// StopAll kills every configured agent session and then reconciles the
// assignment table in one atomic write. Every kill is attempted even if
// earlier ones fail; reconciliation failure is reported but does not
// undo the kills.
func (s *Supervisor) StopAll() (StopResult, error) {
	var result StopResult

	for _, agent := range s.registry.Agents() {
		exists, err := s.host.Exists(agent.SessionName)
		if err != nil || !exists {
			continue
		}
		if err := s.host.Kill(agent.SessionName); err != nil {
			s.logger.Error().Err(err).Str("session", agent.SessionName).Msg("Failed to kill session")
			result.Failed++
			continue
		}
		s.logger.Info().Str("session", agent.SessionName).Str("agent", agent.Key).Msg("Session stopped")
		result.Stopped++
	}

	if err := s.art.ResetAssignments(time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reconcile task assignments")
	} else {
		result.Reconciled = true
	}

	line := fmt.Sprintf("%s Stopped %d agent session(s)",
		time.Now().UTC().Format(time.RFC3339), result.Stopped)
	if err := s.store.Append(s.registry.OrchestratorLog(), line); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to append orchestrator log")
	}

	if result.Failed > 0 {
		return result, types.NewErrorf(types.KindIOError,
			"%d session(s) could not be stopped", result.Failed)
	}
	return result, nil
}

// ResolveSession maps an agent key to its live session name
func (s *Supervisor) ResolveSession(agentKey string) (string, error) {
	agent, err := s.registry.Agent(agentKey)
	if err != nil {
		return "", types.NewErrorf(types.KindAgentMissing, "unknown agent %q", agentKey).
			WithHint("run list-available to see registered agents")
	}
	exists, err := s.host.Exists(agent.SessionName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", types.NewErrorf(types.KindSessionMissing,
			"agent %s has no running session", agentKey).
			WithHint(fmt.Sprintf("deploy it first: conductor deploy %s <task-id>", agentKey))
	}
	return agent.SessionName, nil
}

// Send delivers one line to an agent's session after the deny-list
// check, recording it in the agent's history file
func (s *Supervisor) Send(agentKey, payload string) error {
	if pattern, blocked := CheckCommand(payload); blocked {
		return types.NewErrorf(types.KindUnsafeCommand,
			"command matches deny pattern %q", pattern).
			WithHint("run it manually inside the session if you really mean it")
	}

	session, err := s.ResolveSession(agentKey)
	if err != nil {
		return err
	}
	if err := s.host.SendLine(session, payload); err != nil {
		return err
	}

	entry := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), payload)
	history := filepath.Join(s.registry.AgentLogDir(agentKey), "history.log")
	if err := s.store.Append(history, entry); err != nil {
		s.logger.Warn().Err(err).Str("agent", agentKey).Msg("Failed to record send history")
	}
	return nil
}
