package artifacts

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conductor-sh/conductor/pkg/types"
)

// Field values marking an unassigned agent section
const (
	NoTask    = "Not assigned"
	NoSession = "None"
	NoValue   = "-"
)

// keyPattern extracts the agent key from a section heading of the form
// "## Display Name (key)"
var keyPattern = regexp.MustCompile(`\(([a-z][a-z0-9_-]*)\)\s*$`)

// sectionKey returns the agent key embedded in a heading, if any
func sectionKey(heading string) (string, bool) {
	m := keyPattern.FindStringSubmatch(heading)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// agentSection locates the section belonging to the given agent key
func agentSection(doc *document, key string) *section {
	return doc.find(func(heading string) bool {
		k, ok := sectionKey(heading)
		return ok && k == key
	})
}

// parseAssignment reads one agent section into an Assignment record
func parseAssignment(key string, s *section) types.Assignment {
	a := types.Assignment{AgentKey: key, Status: types.AssignmentIdle}

	if v, ok := s.field("Current"); ok && v != NoTask && v != "" {
		a.TaskID = v
	}
	if v, ok := s.field("Status"); ok && strings.EqualFold(v, string(types.AssignmentActive)) {
		a.Status = types.AssignmentActive
	}
	if v, ok := s.field("Session"); ok && v != NoSession && v != "" {
		a.SessionName = v
	}
	if v, ok := s.field("Assigned"); ok && v != NoValue && v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			a.AssignedAt = ts
		}
	}
	return a
}

// ParseAssignments extracts every agent assignment from the artifact
// content, in document order
func ParseAssignments(content string) []types.Assignment {
	doc := parseDocument(content)
	var out []types.Assignment
	for _, s := range doc.sections {
		key, ok := sectionKey(s.heading)
		if !ok {
			continue
		}
		out = append(out, parseAssignment(key, s))
	}
	return out
}

// FindTaskHolder returns the agent key holding taskID with an Active
// assignment, if any. This is the cross-agent conflict check behind
// TaskAlreadyAssigned.
func FindTaskHolder(content, taskID string) (string, bool) {
	for _, a := range ParseAssignments(content) {
		if a.Assigned() && a.TaskID == taskID {
			return a.AgentKey, true
		}
	}
	return "", false
}

// touchUpdated refreshes the "Updated:" line in the document preamble
func touchUpdated(doc *document, now time.Time) {
	stamp := "Updated: " + now.UTC().Format(time.RFC3339)
	for i, line := range doc.preamble {
		if strings.HasPrefix(line, "Updated:") {
			doc.preamble[i] = stamp
			return
		}
	}
	doc.preamble = append(doc.preamble, "", stamp)
}

// SetAssignment returns the artifact content with the agent's section
// switched to an Active assignment. Other sections and unknown lines pass
// through byte-exact. The agent must already have a section; deployments
// never invent one.
func SetAssignment(content string, agent *types.AgentType, taskID string, now time.Time) (string, error) {
	doc := parseDocument(content)
	s := agentSection(doc, agent.Key)
	if s == nil {
		return "", types.NewErrorf(types.KindRecordFailed,
			"no task-assignments section for agent %q; run init first", agent.Key)
	}

	s.setField("Current", taskID)
	s.setField("Status", string(types.AssignmentActive))
	s.setField("Session", agent.SessionName)
	s.setField("Assigned", now.UTC().Format(time.RFC3339))
	touchUpdated(doc, now)

	return doc.render(), nil
}

// ClearAssignment returns the content with one agent's section back to
// idle
func ClearAssignment(content, key string, now time.Time) (string, error) {
	doc := parseDocument(content)
	s := agentSection(doc, key)
	if s == nil {
		return "", types.NewErrorf(types.KindRecordFailed,
			"no task-assignments section for agent %q", key)
	}
	resetSection(s)
	touchUpdated(doc, now)
	return doc.render(), nil
}

// ResetAllAssignments returns the content with every agent section idle.
// Used by stop-all reconciliation.
func ResetAllAssignments(content string, now time.Time) string {
	doc := parseDocument(content)
	for _, s := range doc.sections {
		if _, ok := sectionKey(s.heading); !ok {
			continue
		}
		resetSection(s)
	}
	touchUpdated(doc, now)
	return doc.render()
}

// resetSection switches one agent section to the idle field values
func resetSection(s *section) {
	s.setField("Current", NoTask)
	s.setField("Status", string(types.AssignmentIdle))
	s.setField("Session", NoSession)
	s.setField("Assigned", NoValue)
}

// InitialAssignments renders the post-init artifact: one idle section per
// registered agent, in the given order
func InitialAssignments(agents []*types.AgentType, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Task Assignments\n")
	b.WriteString("\n")
	b.WriteString("Updated: " + now.UTC().Format(time.RFC3339) + "\n")
	for _, a := range agents {
		b.WriteString("\n")
		fmt.Fprintf(&b, "## %s (%s)\n", a.DisplayName, a.Key)
		b.WriteString("\n")
		b.WriteString("- Current: " + NoTask + "\n")
		b.WriteString("- Status: " + string(types.AssignmentIdle) + "\n")
		b.WriteString("- Session: " + NoSession + "\n")
		b.WriteString("- Assigned: " + NoValue + "\n")
		b.WriteString("- Next: " + NoValue + "\n")
	}
	return b.String()
}
