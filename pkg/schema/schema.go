package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/conductor-sh/conductor/pkg/types"
)

// LoadErrorKind classifies a configuration load failure
type LoadErrorKind string

const (
	ErrSyntax       LoadErrorKind = "syntax"
	ErrMissingFile  LoadErrorKind = "missing_file"
	ErrMissingField LoadErrorKind = "missing_field"
	ErrTypeMismatch LoadErrorKind = "type_mismatch"
)

// LoadError reports why a declarative document could not be loaded
type LoadError struct {
	Kind     LoadErrorKind
	Location string // File path, optionally with a field name
	Err      error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Location, e.Err)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.Location)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// loadErr builds a LoadError
func loadErr(kind LoadErrorKind, location string, err error) *LoadError {
	return &LoadError{Kind: kind, Location: location, Err: err}
}

// classify converts a yaml decode error into a LoadError
func classify(path string, err error) *LoadError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return loadErr(ErrTypeMismatch, path, err)
	}
	return loadErr(ErrSyntax, path, err)
}

// projectDoc mirrors config/project.yml
type projectDoc struct {
	Project struct {
		Name         string `yaml:"name"`
		Description  string `yaml:"description"`
		Version      string `yaml:"version"`
		WorkspaceDir string `yaml:"workspace_dir"`
	} `yaml:"project"`
	TaskSource struct {
		Kind       string `yaml:"kind"`
		Identifier string `yaml:"identifier"`
	} `yaml:"task_source"`
	Paths struct {
		MemoryDir   string `yaml:"memory_dir"`
		LogDir      string `yaml:"log_dir"`
		AgentDir    string `yaml:"agent_dir"`
		TemplateDir string `yaml:"template_dir"`
	} `yaml:"paths"`
	Logging struct {
		OrchestratorLog string `yaml:"orchestrator_log"`
		AgentLogDir     string `yaml:"agent_log_dir"`
	} `yaml:"logging"`
	Session struct {
		Prefix       string `yaml:"prefix"`
		DefaultShell string `yaml:"default_shell"`
		WindowName   string `yaml:"window_name"`
	} `yaml:"session"`
	Phases map[int]struct {
		Name            string   `yaml:"name"`
		Description     string   `yaml:"description"`
		PriorityTaskIDs []string `yaml:"priority_task_ids"`
	} `yaml:"phases"`
}

// LoadProject parses the project document at path
func LoadProject(path string) (*types.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, loadErr(ErrMissingFile, path, err)
		}
		return nil, loadErr(ErrSyntax, path, err)
	}

	var doc projectDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, classify(path, err)
	}

	if doc.Project.Name == "" {
		return nil, loadErr(ErrMissingField, path+": project.name", nil)
	}
	if doc.Project.WorkspaceDir == "" {
		return nil, loadErr(ErrMissingField, path+": project.workspace_dir", nil)
	}

	p := &types.Project{
		Name:          doc.Project.Name,
		Description:   doc.Project.Description,
		Version:       doc.Project.Version,
		WorkspaceDir:  doc.Project.WorkspaceDir,
		TaskSource:    types.TaskSource{Kind: doc.TaskSource.Kind, Identifier: doc.TaskSource.Identifier},
		MemoryDir:     doc.Paths.MemoryDir,
		LogDir:        doc.Paths.LogDir,
		AgentDir:      doc.Paths.AgentDir,
		TemplateDir:   doc.Paths.TemplateDir,
		Orchestrator:  doc.Logging.OrchestratorLog,
		AgentLogDir:   doc.Logging.AgentLogDir,
		SessionPrefix: doc.Session.Prefix,
		DefaultShell:  doc.Session.DefaultShell,
		WindowName:    doc.Session.WindowName,
	}

	// Layout defaults; the document only needs to override them.
	if p.MemoryDir == "" {
		p.MemoryDir = "memory"
	}
	if p.LogDir == "" {
		p.LogDir = "logs"
	}
	if p.AgentDir == "" {
		p.AgentDir = "agents"
	}
	if p.TemplateDir == "" {
		p.TemplateDir = "templates"
	}
	if p.Orchestrator == "" {
		p.Orchestrator = filepath.Join(p.LogDir, "orchestrator.log")
	}
	if p.AgentLogDir == "" {
		p.AgentLogDir = filepath.Join(p.LogDir, "agents")
	}
	if p.WindowName == "" {
		p.WindowName = "main"
	}

	if len(doc.Phases) > 0 {
		p.Phases = make(map[int]types.Phase, len(doc.Phases))
		for id, ph := range doc.Phases {
			if id <= 0 {
				return nil, loadErr(ErrTypeMismatch,
					fmt.Sprintf("%s: phases.%d", path, id),
					fmt.Errorf("phase ids must be positive integers"))
			}
			p.Phases[id] = types.Phase{
				Name:            ph.Name,
				Description:     ph.Description,
				PriorityTaskIDs: ph.PriorityTaskIDs,
			}
		}
	}

	return p, nil
}

// agentsDoc mirrors config/agents.yml
type agentsDoc struct {
	AgentTypes map[string]struct {
		Directory string `yaml:"directory"`
	} `yaml:"agent_types"`
	ValidationProfiles map[string]map[string]string `yaml:"validation_profiles"`
}

// AgentIndex is the parsed agents.yml: agent key to definition directory
// (relative to the orchestration root) plus the validation profiles.
type AgentIndex struct {
	Directories map[string]string
	Profiles    map[string]types.ValidationProfile
}

// LoadAgentIndex parses the agents document at path
func LoadAgentIndex(path string) (*AgentIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, loadErr(ErrMissingFile, path, err)
		}
		return nil, loadErr(ErrSyntax, path, err)
	}

	var doc agentsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, classify(path, err)
	}
	if len(doc.AgentTypes) == 0 {
		return nil, loadErr(ErrMissingField, path+": agent_types", nil)
	}

	idx := &AgentIndex{
		Directories: make(map[string]string, len(doc.AgentTypes)),
		Profiles:    make(map[string]types.ValidationProfile, len(doc.ValidationProfiles)),
	}
	for key, decl := range doc.AgentTypes {
		if !types.ValidKey(key) {
			return nil, loadErr(ErrTypeMismatch,
				fmt.Sprintf("%s: agent_types.%s", path, key),
				fmt.Errorf("agent keys must match ^[a-z][a-z0-9_-]*$"))
		}
		if decl.Directory == "" {
			return nil, loadErr(ErrMissingField,
				fmt.Sprintf("%s: agent_types.%s.directory", path, key), nil)
		}
		idx.Directories[key] = decl.Directory
	}
	for key, steps := range doc.ValidationProfiles {
		idx.Profiles[key] = types.ValidationProfile{Key: key, Steps: steps}
	}

	return idx, nil
}

// Keys returns the agent keys in stable alphabetical order
func (i *AgentIndex) Keys() []string {
	keys := make([]string, 0, len(i.Directories))
	for k := range i.Directories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// agentDoc mirrors a per-agent config.yml. The key is implied by the
// directory, so it is absent from the document.
type agentDoc struct {
	DisplayName       string   `yaml:"display_name"`
	Description       string   `yaml:"description"`
	SessionName       string   `yaml:"session_name"`
	Prompt            string   `yaml:"prompt"`
	Technologies      []string `yaml:"technologies"`
	Capabilities      []string `yaml:"capabilities"`
	ValidationProfile string   `yaml:"validation_profile"`
}

// LoadAgentConfig parses the agent definition under dir for the given key
func LoadAgentConfig(dir, key string) (*types.AgentType, error) {
	path := filepath.Join(dir, "config.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, loadErr(ErrMissingFile, path, err)
		}
		return nil, loadErr(ErrSyntax, path, err)
	}

	var doc agentDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, classify(path, err)
	}
	if doc.SessionName == "" {
		return nil, loadErr(ErrMissingField, path+": session_name", nil)
	}
	if !types.ValidSessionName(doc.SessionName) {
		return nil, loadErr(ErrTypeMismatch, path+": session_name",
			fmt.Errorf("session names must not contain whitespace or dots"))
	}

	a := &types.AgentType{
		Key:                  key,
		DisplayName:          doc.DisplayName,
		Description:          doc.Description,
		SessionName:          doc.SessionName,
		PromptArtifact:       doc.Prompt,
		Technologies:         doc.Technologies,
		Capabilities:         doc.Capabilities,
		ValidationProfileKey: doc.ValidationProfile,
	}
	if a.DisplayName == "" {
		a.DisplayName = key
	}
	if a.PromptArtifact == "" {
		a.PromptArtifact = "prompt.md"
	}

	return a, nil
}

// LoadAgentPrompt reads the agent's prompt artifact from its definition
// directory
func LoadAgentPrompt(dir string, agent *types.AgentType) (string, error) {
	path := filepath.Join(dir, agent.PromptArtifact)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", loadErr(ErrMissingFile, path, err)
		}
		return "", loadErr(ErrSyntax, path, err)
	}
	return string(raw), nil
}
