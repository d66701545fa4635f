package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/schema"
	"github.com/conductor-sh/conductor/pkg/types"
)

// Well-known document locations under the orchestration root
const (
	ProjectDocPath = "config/project.yml"
	AgentsDocPath  = "config/agents.yml"
)

// Registry is the resolved, in-memory view of the project configuration:
// the project record, every agent type, and the validation profiles.
// It is loaded once per invocation and immutable afterwards. All paths
// are resolved from the orchestration root passed to Load, never from
// the process working directory.
type Registry struct {
	root     string // Orchestration root (absolute)
	project  *types.Project
	agents   map[string]*types.AgentType
	agentDir map[string]string // key -> absolute definition directory
	profiles map[string]types.ValidationProfile
	prompts  map[string]string // Lazily loaded prompt text per key
	keys     []string          // Stable alphabetical order
	logger   zerolog.Logger
}

// Load builds the registry from the declarative documents under root
func Load(root string) (*Registry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, types.WrapError(types.KindLoadConfigFailed, "failed to resolve orchestration root", err)
	}

	project, err := schema.LoadProject(filepath.Join(absRoot, ProjectDocPath))
	if err != nil {
		return nil, types.WrapError(types.KindLoadConfigFailed, "failed to load project document", err)
	}

	idx, err := schema.LoadAgentIndex(filepath.Join(absRoot, AgentsDocPath))
	if err != nil {
		return nil, types.WrapError(types.KindLoadConfigFailed, "failed to load agents document", err)
	}

	r := &Registry{
		root:     absRoot,
		project:  project,
		agents:   make(map[string]*types.AgentType, len(idx.Directories)),
		agentDir: make(map[string]string, len(idx.Directories)),
		profiles: idx.Profiles,
		prompts:  make(map[string]string),
		keys:     idx.Keys(),
		logger:   log.WithComponent("registry"),
	}

	for _, key := range r.keys {
		dir := idx.Directories[key]
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(absRoot, dir)
		}
		agent, err := schema.LoadAgentConfig(dir, key)
		if err != nil {
			return nil, types.WrapError(types.KindLoadConfigFailed,
				fmt.Sprintf("failed to load agent %q", key), err)
		}
		r.agents[key] = agent
		r.agentDir[key] = dir
	}

	r.logger.Debug().Int("agents", len(r.agents)).Str("root", absRoot).Msg("Registry loaded")
	return r, nil
}

// Root returns the absolute orchestration root
func (r *Registry) Root() string {
	return r.root
}

// Project returns the project record
func (r *Registry) Project() *types.Project {
	return r.project
}

// AgentKeys returns every agent key in stable alphabetical order
func (r *Registry) AgentKeys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Agent returns one agent type without loading its prompt
func (r *Registry) Agent(key string) (*types.AgentType, error) {
	agent, ok := r.agents[key]
	if !ok {
		return nil, types.NewErrorf(types.KindUnknownAgent, "unknown agent %q", key).
			WithHint("run list-available to see registered agents")
	}
	return agent, nil
}

// Agents returns every agent type in stable key order
func (r *Registry) Agents() []*types.AgentType {
	out := make([]*types.AgentType, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, r.agents[key])
	}
	return out
}

// Resolve returns an agent type together with its prompt text. Prompts
// are loaded on first use and cached for the invocation.
func (r *Registry) Resolve(key string) (*types.AgentType, string, error) {
	agent, err := r.Agent(key)
	if err != nil {
		return nil, "", err
	}
	if prompt, ok := r.prompts[key]; ok {
		return agent, prompt, nil
	}

	prompt, err := schema.LoadAgentPrompt(r.agentDir[key], agent)
	if err != nil {
		return nil, "", types.WrapError(types.KindMissingPrompt,
			fmt.Sprintf("prompt for agent %q", key), err)
	}
	r.prompts[key] = prompt
	return agent, prompt, nil
}

// PromptPath returns the absolute path of an agent's prompt artifact
func (r *Registry) PromptPath(key string) (string, error) {
	agent, err := r.Agent(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.agentDir[key], agent.PromptArtifact), nil
}

// Profile resolves a validation profile by key
func (r *Registry) Profile(key string) (types.ValidationProfile, bool) {
	p, ok := r.profiles[key]
	return p, ok
}

// AgentsWithCapability returns the agents whose capability tags contain
// cap, preserving registry order
func (r *Registry) AgentsWithCapability(cap string) []*types.AgentType {
	var out []*types.AgentType
	for _, key := range r.keys {
		agent := r.agents[key]
		for _, c := range agent.Capabilities {
			if c == cap {
				out = append(out, agent)
				break
			}
		}
	}
	return out
}

// MemoryDir returns the absolute shared-artifact root
func (r *Registry) MemoryDir() string {
	return filepath.Join(r.root, r.project.MemoryDir)
}

// LogDir returns the absolute log root
func (r *Registry) LogDir() string {
	return filepath.Join(r.root, r.project.LogDir)
}

// OrchestratorLog returns the absolute orchestrator log path
func (r *Registry) OrchestratorLog() string {
	return filepath.Join(r.root, r.project.Orchestrator)
}

// AgentLogDir returns the absolute per-agent log directory for key
func (r *Registry) AgentLogDir(key string) string {
	return filepath.Join(r.root, r.project.AgentLogDir, key)
}

// QueueDir returns the absolute queue root
func (r *Registry) QueueDir() string {
	return filepath.Join(r.MemoryDir(), "queues")
}

// TaskRef formats the task source reference for a task id. For a github
// source this is the issue URL; anything else is identifier/id treated as
// an opaque string.
func (r *Registry) TaskRef(taskID string) string {
	src := r.project.TaskSource
	switch src.Kind {
	case "github":
		return fmt.Sprintf("https://github.com/%s/issues/%s", src.Identifier, taskID)
	default:
		if src.Identifier == "" {
			return taskID
		}
		return fmt.Sprintf("%s/%s", src.Identifier, taskID)
	}
}

// Violation is one problem found by ValidateAll
type Violation struct {
	AgentKey string // Empty for project-level violations
	Message  string
}

func (v Violation) String() string {
	if v.AgentKey == "" {
		return v.Message
	}
	return fmt.Sprintf("agent %s: %s", v.AgentKey, v.Message)
}

// ValidateAll checks every cross-reference and environment precondition:
// validation profiles resolve, prompt artifacts exist, the workspace is
// writable, and required external tools are present. The returned list is
// empty when the configuration is sound.
func (r *Registry) ValidateAll(hostAlive func() bool) []Violation {
	var out []Violation

	if st, err := os.Stat(r.project.WorkspaceDir); err != nil || !st.IsDir() {
		out = append(out, Violation{Message: fmt.Sprintf("workspace_dir %s does not exist", r.project.WorkspaceDir)})
	} else if !writable(r.project.WorkspaceDir) {
		out = append(out, Violation{Message: fmt.Sprintf("workspace_dir %s is not writable", r.project.WorkspaceDir)})
	}

	seenSessions := make(map[string]string)
	for _, key := range r.keys {
		agent := r.agents[key]

		if agent.ValidationProfileKey != "" {
			if _, ok := r.profiles[agent.ValidationProfileKey]; !ok {
				out = append(out, Violation{AgentKey: key,
					Message: fmt.Sprintf("validation profile %q is not defined", agent.ValidationProfileKey)})
			}
		}

		promptPath := filepath.Join(r.agentDir[key], agent.PromptArtifact)
		if _, err := os.Stat(promptPath); err != nil {
			out = append(out, Violation{AgentKey: key,
				Message: fmt.Sprintf("prompt artifact %s does not exist", promptPath)})
		}

		if holder, dup := seenSessions[agent.SessionName]; dup {
			out = append(out, Violation{AgentKey: key,
				Message: fmt.Sprintf("session name %q is already used by agent %s", agent.SessionName, holder)})
		}
		seenSessions[agent.SessionName] = key
	}

	if hostAlive != nil && !hostAlive() {
		out = append(out, Violation{Message: "session host is not reachable"})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentKey != out[j].AgentKey {
			return out[i].AgentKey < out[j].AgentKey
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// writable probes a directory for write access by creating and removing
// a marker file
func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".conductor-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
