package types

import (
	"regexp"
	"strings"
	"time"
)

// Project represents the singleton project record for a workspace
type Project struct {
	Name         string
	Description  string
	Version      string
	WorkspaceDir string // Absolute path; must exist and be writable

	// TaskSource identifies the external system issuing task ids.
	// The orchestrator treats ids as opaque strings.
	TaskSource TaskSource

	// Paths relative to the orchestration root
	MemoryDir    string // Shared-artifact root
	LogDir       string // Log root
	AgentDir     string // Agent-definition root
	TemplateDir  string // Template root
	Orchestrator string // Orchestrator log path, relative to root
	AgentLogDir  string // Per-agent log directory, relative to root

	// Session-naming policy
	SessionPrefix string
	DefaultShell  string
	WindowName    string

	// Phases maps ordered phase number to its description. Purely
	// informational; phase ids are unique positive integers.
	Phases map[int]Phase
}

// TaskSource describes where task ids come from
type TaskSource struct {
	Kind       string // e.g. "github", "jira", "local"
	Identifier string // e.g. "org/repo" for github
}

// Phase is one entry of the project phase map
type Phase struct {
	Name            string
	Description     string
	PriorityTaskIDs []string
}

// AgentType is a declaratively configured agent role
type AgentType struct {
	Key         string // Unique, ^[a-z][a-z0-9_-]*$
	DisplayName string
	Description string

	// SessionName is the host-unique identifier for the live session.
	// No whitespace or dots.
	SessionName string

	// PromptArtifact is the path to the prompt text consumed at deploy
	// time, relative to the agent's definition directory.
	PromptArtifact string

	Technologies []string
	Capabilities []string

	ValidationProfileKey string
}

var agentKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidKey reports whether s is a well-formed agent type key
func ValidKey(s string) bool {
	return agentKeyPattern.MatchString(s)
}

// ValidSessionName reports whether s can be used as a session name
func ValidSessionName(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " \t\n.")
}

// ValidationProfile is a named map of validation steps. The orchestrator
// stores and displays the commands; an external validator executes them.
type ValidationProfile struct {
	Key   string
	Steps map[string]string // step name -> command string
}

// AssignmentStatus represents the state of an agent's assignment
type AssignmentStatus string

const (
	AssignmentIdle   AssignmentStatus = "Idle"
	AssignmentActive AssignmentStatus = "Active"
)

// Assignment binds an agent type to its current task. At most one Active
// assignment exists per task id across all agent types.
type Assignment struct {
	AgentKey    string
	TaskID      string // Empty when not assigned
	SessionName string // Empty when not assigned
	Status      AssignmentStatus
	AssignedAt  time.Time // Zero when not assigned
}

// Assigned reports whether the assignment currently holds a task
func (a Assignment) Assigned() bool {
	return a.Status == AssignmentActive && a.TaskID != ""
}

// BlockerStatus represents the state of a blocker entry
type BlockerStatus string

const (
	BlockerOpen     BlockerStatus = "open"
	BlockerResolved BlockerStatus = "resolved"
)

// Blocker is one entry in the blockers artifact
type Blocker struct {
	CreatedAt   time.Time
	Description string
	Status      BlockerStatus
	ResolvedAt  time.Time // Zero unless resolved
}

// Decision is one entry of the append-only decision log
type Decision struct {
	Timestamp time.Time
	Text      string
}

// Priority is the three-level ordinal on queued commands. Lower values
// are delivered first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// ParsePriority converts a user-facing priority name
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh, true
	case "normal", "":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	}
	return 0, false
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// QueuedCommand is one command waiting in a per-agent queue. Delivery
// order is (Priority, Sequence) ascending.
type QueuedCommand struct {
	AgentKey   string
	Sequence   int
	Priority   Priority
	Payload    string
	EnqueuedAt time.Time
}

// SessionInfo is a point-in-time snapshot of one live session as reported
// by the session host
type SessionInfo struct {
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	Windows      int
	Panes        int
}

// SessionHealth classifies the liveness of an agent's session
type SessionHealth string

const (
	HealthHealthy   SessionHealth = "Healthy"
	HealthNoPanes   SessionHealth = "NoPanes"
	HealthNoWindows SessionHealth = "NoWindows"
	HealthNotFound  SessionHealth = "NotFound"
)

// SessionActivity classifies recent attach activity
type SessionActivity string

const (
	ActivityActive   SessionActivity = "Active"
	ActivityIdle     SessionActivity = "Idle"
	ActivityInactive SessionActivity = "Inactive"
)

// ResourceSample is a best-effort CPU/memory reading summed over a
// session's processes
type ResourceSample struct {
	CPUPercent float64
	MemPercent float64
	Sampled    bool // False when sampling was unavailable
}

// AgentSessionStatus is the supervisor's per-agent view used by list
type AgentSessionStatus struct {
	AgentKey    string
	DisplayName string
	SessionName string
	Health      SessionHealth
	Activity    SessionActivity
	IdleFor     time.Duration
	Resources   ResourceSample
}

// DeploymentAvailability is the list-available classification of an agent
type DeploymentAvailability string

const (
	AvailabilityTemplate DeploymentAvailability = "Template" // No prompt artifact yet
	AvailabilityIdle     DeploymentAvailability = "Idle"
	AvailabilityDeployed DeploymentAvailability = "Deployed"
)
