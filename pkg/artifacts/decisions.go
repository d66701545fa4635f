package artifacts

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conductor-sh/conductor/pkg/types"
)

// decisionEntry matches "- [<RFC3339>] <text>"
var decisionEntry = regexp.MustCompile(`^- \[([^\]]+)\] (.*)$`)

// InitialDecisions renders the empty decision log
func InitialDecisions(now time.Time) string {
	var b strings.Builder
	b.WriteString("# Decision Log\n")
	b.WriteString("\n")
	b.WriteString("Started: " + now.UTC().Format(time.RFC3339) + "\n")
	return b.String()
}

// AppendDecision adds one timestamped entry to the append-only log
func (a *Artifacts) AppendDecision(text string, now time.Time) error {
	entry := fmt.Sprintf("- [%s] %s", now.UTC().Format(time.RFC3339), text)
	return a.store.Append(a.Path(DecisionsFile), entry)
}

// ParseDecisions extracts the logged decisions in file order
func ParseDecisions(content string) []types.Decision {
	var out []types.Decision
	for _, line := range strings.Split(content, "\n") {
		m := decisionEntry.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d := types.Decision{Text: m[2]}
		if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
			d.Timestamp = ts
		}
		out = append(out, d)
	}
	return out
}

// Decisions returns the parsed decision log
func (a *Artifacts) Decisions() ([]types.Decision, error) {
	content, err := a.store.Read(a.Path(DecisionsFile))
	if err != nil {
		return nil, err
	}
	return ParseDecisions(content), nil
}
