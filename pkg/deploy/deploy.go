package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/artifacts"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/registry"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/tmux"
	"github.com/conductor-sh/conductor/pkg/types"
)

// State is one stop of the deployment lifecycle
type State string

const (
	StateRequested        State = "Requested"
	StateValidated        State = "Validated"
	StateReserved         State = "Reserved"
	StateEnvironmentReady State = "EnvironmentReady"
	StateSessionLive      State = "SessionLive"
	StatePrimed           State = "Primed"
	StateRecorded         State = "Recorded"
	StateDone             State = "Done"
	StateFailed           State = "Failed"
)

// Coordinator drives the deployment state machine. It owns no sessions
// and no artifacts; it orchestrates the session host, the atomic store
// and the shared artifacts it is given.
type Coordinator struct {
	registry *registry.Registry
	store    *store.Store
	art      *artifacts.Artifacts
	host     tmux.SessionHost
	logger   zerolog.Logger
}

// NewCoordinator creates a deployment coordinator
func NewCoordinator(reg *registry.Registry, st *store.Store, art *artifacts.Artifacts, host tmux.SessionHost) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    st,
		art:      art,
		host:     host,
		logger:   log.WithComponent("deploy"),
	}
}

// Result reports a finished deployment
type Result struct {
	AgentKey    string
	DisplayName string
	TaskID      string
	SessionName string
	State       State
}

// run tracks one deployment pass
type run struct {
	c     *Coordinator
	ctx   context.Context
	force bool

	agent  *types.AgentType
	taskID string
	state  State
	logger zerolog.Logger

	sessionCreated bool
	killExisting   bool
}

// advance moves the run to the next state
func (r *run) advance(next State) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(next)).Msg("Deployment transition")
	r.state = next
}

// Deploy takes (agent, task) through validation, reservation, session
// creation, priming, recording and verification. The path from conflict
// check through commit runs under a per-agent store lock, so concurrent
// deploys of the same agent serialize; deploys of different agents only
// contend on the task-assignments write.
func (c *Coordinator) Deploy(ctx context.Context, agentKey, taskID string, force bool) (*Result, error) {
	r := &run{
		c:      c,
		ctx:    ctx,
		force:  force,
		taskID: taskID,
		state:  StateRequested,
		logger: log.WithComponent("deploy").With().Str("agent", agentKey).Str("task_id", taskID).Logger(),
	}

	if err := r.validate(agentKey); err != nil {
		return nil, err
	}

	// Per-agent serialization covers the conflict window.
	lock, err := c.store.Acquire("deploy_"+agentKey, c.store.LockTimeout())
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := c.store.Release(lock); rerr != nil {
			r.logger.Error().Err(rerr).Msg("Failed to release deploy lock")
		}
	}()

	steps := []func() error{
		r.reserve,
		r.prepareEnvironment,
		r.createSession,
		r.prime,
		r.record,
		r.verify,
	}
	for _, step := range steps {
		if err := r.interrupted(); err != nil {
			return nil, r.fail(err)
		}
		if err := step(); err != nil {
			return nil, r.fail(err)
		}
	}

	r.advance(StateDone)
	r.logger.Info().Str("session", r.agent.SessionName).Msg("Deployment complete")
	return &Result{
		AgentKey:    r.agent.Key,
		DisplayName: r.agent.DisplayName,
		TaskID:      r.taskID,
		SessionName: r.agent.SessionName,
		State:       StateDone,
	}, nil
}

// interrupted maps operator cancellation onto the error taxonomy
func (r *run) interrupted() error {
	select {
	case <-r.ctx.Done():
		return types.NewError(types.KindInterrupted, "deployment interrupted")
	default:
		return nil
	}
}

// fail rolls back to the last committed state. A session created during
// this run is killed unless it survived into a recorded assignment; record
// clears sessionCreated once the assignment commits.
func (r *run) fail(err error) error {
	r.advance(StateFailed)
	if r.sessionCreated {
		if kerr := r.c.host.Kill(r.agent.SessionName); kerr != nil {
			r.logger.Error().Err(kerr).Msg("Rollback could not kill session")
		} else {
			r.logger.Warn().Str("session", r.agent.SessionName).Msg("Rolled back created session")
		}
	}
	r.logger.Error().Err(err).Msg("Deployment failed")
	return err
}

// validate is Requested -> Validated: argument and registry checks
func (r *run) validate(agentKey string) error {
	if agentKey == "" {
		return types.NewError(types.KindBadArgs, "agent key must not be empty")
	}
	if strings.TrimSpace(r.taskID) == "" {
		return types.NewError(types.KindBadArgs, "task id must not be empty")
	}
	for _, ch := range r.taskID {
		if ch < 0x20 || ch == 0x7f {
			return types.NewErrorf(types.KindBadArgs, "task id contains non-printable characters")
		}
	}

	// Resolution only; the prompt artifact itself is a prerequisite
	// checked during reservation.
	agent, err := r.c.registry.Agent(agentKey)
	if err != nil {
		return err
	}
	r.agent = agent
	r.advance(StateValidated)
	return nil
}

// reserve is Validated -> Reserved: prerequisite and conflict checks
func (r *run) reserve() error {
	project := r.c.registry.Project()

	if st, err := os.Stat(project.WorkspaceDir); err != nil || !st.IsDir() {
		return types.NewErrorf(types.KindWorkspaceMissing,
			"workspace %s does not exist", project.WorkspaceDir)
	}

	// Resolving the prompt proves the artifact exists and is readable.
	if _, _, err := r.c.registry.Resolve(r.agent.Key); err != nil {
		promptPath, perr := r.c.registry.PromptPath(r.agent.Key)
		if perr != nil {
			promptPath = r.agent.PromptArtifact
		}
		return types.WrapError(types.KindPromptMissing,
			fmt.Sprintf("prompt artifact %s does not exist", promptPath), err)
	}

	if !r.c.host.ServerAlive() {
		return types.NewError(types.KindHostUnavailable, "session host is not reachable").
			WithHint("start the tmux server or check host.binary in settings")
	}

	exists, err := r.c.host.Exists(r.agent.SessionName)
	if err != nil {
		return err
	}
	if exists {
		if !r.force {
			return types.NewErrorf(types.KindSessionExists,
				"session %q already exists", r.agent.SessionName).
				WithHint("pass --force to replace the running session")
		}
		r.killExisting = true
	}

	// Cross-agent task conflicts are never overridden, force or not.
	content, err := r.c.art.ReadAssignments()
	if err != nil {
		return err
	}
	if holder, ok := artifacts.FindTaskHolder(content, r.taskID); ok && holder != r.agent.Key {
		return types.NewErrorf(types.KindTaskAlreadyAssigned,
			"task %s is already assigned to agent %s", r.taskID, holder).
			WithHint("stop that agent first or pick a different task")
	}

	r.advance(StateReserved)
	return nil
}

// prepareEnvironment is Reserved -> EnvironmentReady: directories, the
// pre-deployment assignment backup, and forced teardown
func (r *run) prepareEnvironment() error {
	if err := r.c.art.EnsureDir(); err != nil {
		return err
	}
	for _, dir := range []string{r.c.registry.LogDir(), r.c.registry.AgentLogDir(r.agent.Key)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.WrapError(types.KindEnvPrepFailed,
				fmt.Sprintf("failed to create %s", dir), err)
		}
	}

	if _, err := r.c.store.Backup(r.c.art.Path(artifacts.TaskAssignmentsFile)); err != nil {
		return types.WrapError(types.KindBackupFailed, "failed to back up task assignments", err)
	}

	if r.killExisting {
		r.logger.Warn().Str("session", r.agent.SessionName).Msg("Killing existing session (--force)")
		if err := r.c.host.Kill(r.agent.SessionName); err != nil {
			return types.WrapError(types.KindSessionCreateFailed,
				"failed to kill existing session", err)
		}
	}

	r.advance(StateEnvironmentReady)
	return nil
}

// createSession is EnvironmentReady -> SessionLive
func (r *run) createSession() error {
	if err := r.c.host.Create(r.agent.SessionName, r.c.registry.Project().WorkspaceDir); err != nil {
		if types.KindOf(err) == "" {
			err = types.WrapError(types.KindSessionCreateFailed, "session creation failed", err)
		}
		return err
	}
	r.sessionCreated = true
	r.advance(StateSessionLive)
	return nil
}

// primingLines builds the deterministic priming sequence. The
// coordinator never reads anything back from the session.
func (r *run) primingLines() []string {
	promptPath, _ := r.c.registry.PromptPath(r.agent.Key)
	return []string{
		"clear",
		"# ============================================",
		fmt.Sprintf("# Agent: %s", r.agent.DisplayName),
		fmt.Sprintf("# Task: #%s", r.taskID),
		fmt.Sprintf("# Session: %s", r.agent.SessionName),
		"# ============================================",
		fmt.Sprintf("# Prompt: %s", promptPath),
		fmt.Sprintf("# Shared memory: %s", r.c.art.Dir()),
		fmt.Sprintf("# Task ref: %s", r.c.registry.TaskRef(r.taskID)),
		"",
		"# Ready. Start your agent when prepared.",
	}
}

// prime is SessionLive -> Primed
func (r *run) prime() error {
	for _, line := range r.primingLines() {
		if err := r.c.host.SendLine(r.agent.SessionName, line); err != nil {
			return types.WrapError(types.KindEnvPrepFailed, "failed to prime session", err)
		}
	}
	r.advance(StatePrimed)
	return nil
}

// record is Primed -> Recorded: the one transactional write
func (r *run) record() error {
	path := r.c.art.Path(artifacts.TaskAssignmentsFile)
	content, err := r.c.art.ReadAssignments()
	if err != nil {
		return types.WrapError(types.KindRecordFailed, "failed to read task assignments", err)
	}

	updated, err := artifacts.SetAssignment(content, r.agent, r.taskID, time.Now())
	if err != nil {
		return err
	}

	tx, err := r.c.store.Begin()
	if err != nil {
		return types.WrapError(types.KindRecordFailed, "failed to begin transaction", err)
	}
	if err := tx.Stage(path, updated); err != nil {
		_ = tx.Rollback()
		return types.WrapError(types.KindRecordFailed, "failed to stage assignment", err)
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindRecordFailed, "failed to commit assignment", err)
	}

	// The assignment is durable; a later interrupt must not tear the
	// session down anymore.
	r.sessionCreated = false
	r.advance(StateRecorded)
	return nil
}

// verify is Recorded -> Done: post-deployment checks and the
// orchestrator log line
func (r *run) verify() error {
	exists, err := r.c.host.Exists(r.agent.SessionName)
	if err != nil || !exists {
		return r.postVerifyFailure("session disappeared after recording")
	}

	pids, err := r.c.host.PanePIDs(r.agent.SessionName)
	if err != nil || len(pids) < 1 {
		return r.postVerifyFailure("session has no panes")
	}

	cwd, err := r.c.host.PaneCWD(r.agent.SessionName)
	if err != nil || !samePath(cwd, r.c.registry.Project().WorkspaceDir) {
		return r.postVerifyFailure(fmt.Sprintf("pane cwd %q is not the workspace", cwd))
	}

	line := fmt.Sprintf("%s Deployed %s for task %s",
		time.Now().UTC().Format(time.RFC3339), r.agent.DisplayName, r.taskID)
	if err := r.c.store.Append(r.c.registry.OrchestratorLog(), line); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to append orchestrator log")
	}
	return nil
}

// postVerifyFailure kills the verified-bad session and reverts the
// recorded assignment
func (r *run) postVerifyFailure(reason string) error {
	if err := r.c.host.Kill(r.agent.SessionName); err != nil {
		r.logger.Error().Err(err).Msg("Post-verify rollback could not kill session")
	}

	content, err := r.c.art.ReadAssignments()
	if err == nil {
		if reverted, cerr := artifacts.ClearAssignment(content, r.agent.Key, time.Now()); cerr == nil {
			path := r.c.art.Path(artifacts.TaskAssignmentsFile)
			if werr := r.c.store.Write(path, reverted, false); werr != nil {
				r.logger.Error().Err(werr).Msg("Post-verify rollback could not revert assignment")
			}
		}
	}
	return types.NewError(types.KindPostVerifyFailed, reason)
}

// samePath compares two directories, tolerating symlinked tempdirs
func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, err1 := filepath.EvalSymlinks(a)
	rb, err2 := filepath.EvalSymlinks(b)
	return err1 == nil && err2 == nil && ra == rb
}
