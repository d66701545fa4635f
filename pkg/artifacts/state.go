package artifacts

import (
	"sort"
	"strings"
	"time"

	"github.com/conductor-sh/conductor/pkg/types"
)

// Project-state section headings
const (
	headingCurrentPhase   = "## Current Phase"
	headingActiveTasks    = "## Active Tasks"
	headingCompletedTasks = "## Completed Tasks"
	headingStateBlockers  = "## Blockers"
)

// placeholder marks an empty list section in the state document
const placeholder = "_None_"

// ProjectStateSummary is the parsed view of the project-state artifact
// used by the status verb
type ProjectStateSummary struct {
	CurrentPhase   string
	ActiveTasks    []string
	CompletedTasks []string
	Blockers       []string
}

// InitialProjectState renders the post-init project-state document. The
// current phase comes from the lowest-numbered phase in the project's
// phase map.
func InitialProjectState(project *types.Project, now time.Time) string {
	phase := placeholder
	if len(project.Phases) > 0 {
		ids := make([]int, 0, len(project.Phases))
		for id := range project.Phases {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		first := project.Phases[ids[0]]
		phase = first.Name
		if first.Description != "" {
			phase += " - " + first.Description
		}
	}

	var b strings.Builder
	b.WriteString("# Project State\n")
	b.WriteString("\n")
	b.WriteString("Project: " + project.Name + "\n")
	b.WriteString("Updated: " + now.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("\n")
	b.WriteString(headingCurrentPhase + "\n\n")
	b.WriteString(phase + "\n")
	b.WriteString("\n")
	b.WriteString(headingActiveTasks + "\n\n")
	b.WriteString(placeholder + "\n")
	b.WriteString("\n")
	b.WriteString(headingCompletedTasks + "\n\n")
	b.WriteString(placeholder + "\n")
	b.WriteString("\n")
	b.WriteString(headingStateBlockers + "\n\n")
	b.WriteString(placeholder + "\n")
	return b.String()
}

// ParseProjectState extracts the status summary from the state document.
// Workers edit this file freely; anything unparseable is simply absent
// from the summary.
func ParseProjectState(content string) ProjectStateSummary {
	doc := parseDocument(content)
	var out ProjectStateSummary

	if s := doc.find(matchHeading(headingCurrentPhase)); s != nil {
		for _, line := range s.lines {
			if t := strings.TrimSpace(line); t != "" && t != placeholder {
				out.CurrentPhase = t
				break
			}
		}
	}
	out.ActiveTasks = listEntries(doc, headingActiveTasks)
	out.CompletedTasks = listEntries(doc, headingCompletedTasks)
	out.Blockers = listEntries(doc, headingStateBlockers)
	return out
}

// matchHeading matches a heading line ignoring trailing whitespace
func matchHeading(want string) func(string) bool {
	return func(heading string) bool {
		return strings.TrimSpace(heading) == want
	}
}

// listEntries collects the "- " entries of a named section
func listEntries(doc *document, heading string) []string {
	s := doc.find(matchHeading(heading))
	if s == nil {
		return nil
	}
	var out []string
	for _, e := range s.entries() {
		out = append(out, strings.TrimSpace(strings.TrimPrefix(e, "- ")))
	}
	return out
}

// ReadProjectState returns the parsed project-state summary
func (a *Artifacts) ReadProjectState() (ProjectStateSummary, error) {
	content, err := a.store.Read(a.Path(ProjectStateFile))
	if err != nil {
		return ProjectStateSummary{}, err
	}
	return ParseProjectState(content), nil
}
