package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/types"
)

// Artifact file names under the shared-artifact root
const (
	ProjectStateFile    = "project_state.md"
	TaskAssignmentsFile = "task_assignments.md"
	BlockersFile        = "blockers.md"
	DecisionsFile       = "decisions.md"
)

// Artifacts mediates every read and write of the shared coordination
// documents through the atomic store
type Artifacts struct {
	store  *store.Store
	dir    string // Shared-artifact root (absolute)
	logger zerolog.Logger
}

// New creates an artifacts view over the given shared-artifact root
func New(st *store.Store, dir string) *Artifacts {
	return &Artifacts{
		store:  st,
		dir:    dir,
		logger: log.WithComponent("artifacts"),
	}
}

// Dir returns the shared-artifact root
func (a *Artifacts) Dir() string {
	return a.dir
}

// Path returns the absolute path of one artifact file
func (a *Artifacts) Path(name string) string {
	return filepath.Join(a.dir, name)
}

// EnsureDir creates the shared-artifact root if missing
func (a *Artifacts) EnsureDir() error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return types.WrapError(types.KindMemoryDirUnwritable,
			fmt.Sprintf("failed to create shared-artifact root %s", a.dir), err)
	}
	return nil
}

// ReadAssignments returns the raw task-assignments content
func (a *Artifacts) ReadAssignments() (string, error) {
	return a.store.Read(a.Path(TaskAssignmentsFile))
}

// Assignments returns the parsed assignment table
func (a *Artifacts) Assignments() ([]types.Assignment, error) {
	content, err := a.ReadAssignments()
	if err != nil {
		return nil, err
	}
	return ParseAssignments(content), nil
}

// WriteInitial populates the four artifacts for a fresh workspace. An
// existing non-empty artifact is left alone so re-running init never
// destroys worker edits.
func (a *Artifacts) WriteInitial(project *types.Project, agents []*types.AgentType, now time.Time) error {
	if err := a.EnsureDir(); err != nil {
		return err
	}

	initial := map[string]string{
		ProjectStateFile:    InitialProjectState(project, now),
		TaskAssignmentsFile: InitialAssignments(agents, now),
		BlockersFile:        InitialBlockers(),
		DecisionsFile:       InitialDecisions(now),
	}

	for name, content := range initial {
		path := a.Path(name)
		existing, err := a.store.Read(path)
		if err != nil {
			return err
		}
		if existing != "" {
			a.logger.Debug().Str("artifact", name).Msg("Artifact exists, leaving untouched")
			continue
		}
		if err := a.store.Write(path, content, false); err != nil {
			return err
		}
		a.logger.Info().Str("artifact", name).Msg("Artifact created")
	}
	return nil
}

// ResetAssignments rewrites every agent section to idle in one atomic
// write. Used by stop-all reconciliation.
func (a *Artifacts) ResetAssignments(now time.Time) error {
	path := a.Path(TaskAssignmentsFile)
	content, err := a.store.Read(path)
	if err != nil {
		return err
	}
	if content == "" {
		return nil
	}
	return a.store.Write(path, ResetAllAssignments(content, now), false)
}
