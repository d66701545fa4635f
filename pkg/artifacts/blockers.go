package artifacts

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conductor-sh/conductor/pkg/types"
)

// Blockers section headings
const (
	headingCurrentBlockers  = "## Current Blockers"
	headingResolvedBlockers = "## Resolved Blockers"
)

// blockerEntry matches "- [<RFC3339>] <description>" with an optional
// "(resolved <RFC3339>)" suffix
var blockerEntry = regexp.MustCompile(`^- \[([^\]]+)\] (.*?)(?: \(resolved ([^)]+)\))?$`)

// InitialBlockers renders the empty blockers artifact
func InitialBlockers() string {
	var b strings.Builder
	b.WriteString("# Blockers\n")
	b.WriteString("\n")
	b.WriteString(headingCurrentBlockers + "\n")
	b.WriteString("\n")
	b.WriteString(headingResolvedBlockers + "\n")
	return b.String()
}

// ParseBlockers extracts blocker entries from both sections
func ParseBlockers(content string) []types.Blocker {
	doc := parseDocument(content)
	var out []types.Blocker

	collect := func(heading string, status types.BlockerStatus) {
		s := doc.find(matchHeading(heading))
		if s == nil {
			return
		}
		for _, e := range s.entries() {
			m := blockerEntry.FindStringSubmatch(e)
			if m == nil {
				continue
			}
			blocker := types.Blocker{Description: m[2], Status: status}
			if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
				blocker.CreatedAt = ts
			}
			if m[3] != "" {
				if ts, err := time.Parse(time.RFC3339, m[3]); err == nil {
					blocker.ResolvedAt = ts
				}
			}
			out = append(out, blocker)
		}
	}
	collect(headingCurrentBlockers, types.BlockerOpen)
	collect(headingResolvedBlockers, types.BlockerResolved)
	return out
}

// AddBlocker appends an open blocker to the current section
func (a *Artifacts) AddBlocker(description string, now time.Time) error {
	path := a.Path(BlockersFile)
	content, err := a.store.Read(path)
	if err != nil {
		return err
	}
	if content == "" {
		content = InitialBlockers()
	}

	doc := parseDocument(content)
	s := doc.find(matchHeading(headingCurrentBlockers))
	if s == nil {
		return types.NewError(types.KindIOError, "blockers artifact has no current-blockers section")
	}
	s.appendEntry(fmt.Sprintf("- [%s] %s", now.UTC().Format(time.RFC3339), description))
	return a.store.Write(path, doc.render(), false)
}

// ResolveBlocker moves the first open blocker whose description matches
// into the resolved section
func (a *Artifacts) ResolveBlocker(description string, now time.Time) error {
	path := a.Path(BlockersFile)
	content, err := a.store.Read(path)
	if err != nil {
		return err
	}

	doc := parseDocument(content)
	current := doc.find(matchHeading(headingCurrentBlockers))
	resolved := doc.find(matchHeading(headingResolvedBlockers))
	if current == nil || resolved == nil {
		return types.NewError(types.KindIOError, "blockers artifact is missing its sections")
	}

	for _, e := range current.entries() {
		m := blockerEntry.FindStringSubmatch(e)
		if m == nil || m[2] != description {
			continue
		}
		current.removeLine(e)
		resolved.appendEntry(fmt.Sprintf("%s (resolved %s)", e, now.UTC().Format(time.RFC3339)))
		return a.store.Write(path, doc.render(), false)
	}
	return types.NewErrorf(types.KindBadArgs, "no open blocker matches %q", description)
}

// OpenBlockers returns the unresolved blocker entries
func (a *Artifacts) OpenBlockers() ([]types.Blocker, error) {
	content, err := a.store.Read(a.Path(BlockersFile))
	if err != nil {
		return nil, err
	}
	var open []types.Blocker
	for _, b := range ParseBlockers(content) {
		if b.Status == types.BlockerOpen {
			open = append(open, b)
		}
	}
	return open, nil
}
