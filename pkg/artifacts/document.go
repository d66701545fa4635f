package artifacts

import (
	"strings"
)

// document is a parsed markdown artifact: the lines before the first
// "## " heading, then one section per heading. Lines are kept verbatim so
// a rewrite reproduces untouched content byte-exact.
type document struct {
	preamble []string
	sections []*section
}

// section is one "## " heading and the lines below it, up to the next
// heading
type section struct {
	heading string // Full heading line, including "## "
	lines   []string
}

// parseDocument splits content into preamble and sections
func parseDocument(content string) *document {
	doc := &document{}
	if content == "" {
		return doc
	}

	lines := strings.Split(content, "\n")
	// A trailing newline produces one empty trailing element; drop it and
	// re-add the newline on render.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var current *section
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			current = &section{heading: line}
			doc.sections = append(doc.sections, current)
			continue
		}
		if current == nil {
			doc.preamble = append(doc.preamble, line)
		} else {
			current.lines = append(current.lines, line)
		}
	}
	return doc
}

// render reassembles the document. Output always ends with a newline.
func (d *document) render() string {
	var b strings.Builder
	for _, line := range d.preamble {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, s := range d.sections {
		b.WriteString(s.heading)
		b.WriteByte('\n')
		for _, line := range s.lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// find returns the first section whose heading matches pred
func (d *document) find(pred func(heading string) bool) *section {
	for _, s := range d.sections {
		if pred(s.heading) {
			return s
		}
	}
	return nil
}

// field returns the value of a "- Key: value" line within the section
func (s *section) field(key string) (string, bool) {
	prefix := "- " + key + ":"
	for _, line := range s.lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// setField replaces the value of a "- Key: value" line, appending the
// line if the section does not carry it yet. Unrelated lines are
// untouched.
func (s *section) setField(key, value string) {
	prefix := "- " + key + ":"
	for i, line := range s.lines {
		if strings.HasPrefix(line, prefix) {
			s.lines[i] = prefix + " " + value
			return
		}
	}
	// Insert before any trailing blank lines so sections keep their
	// separating whitespace.
	insert := len(s.lines)
	for insert > 0 && strings.TrimSpace(s.lines[insert-1]) == "" {
		insert--
	}
	s.lines = append(s.lines, "")
	copy(s.lines[insert+1:], s.lines[insert:])
	s.lines[insert] = prefix + " " + value
}

// appendEntry adds a list entry to the end of the section, before any
// trailing blank lines
func (s *section) appendEntry(entry string) {
	insert := len(s.lines)
	for insert > 0 && strings.TrimSpace(s.lines[insert-1]) == "" {
		insert--
	}
	s.lines = append(s.lines, "")
	copy(s.lines[insert+1:], s.lines[insert:])
	s.lines[insert] = entry
}

// removeLine deletes the first line equal to target. Reports whether a
// line was removed.
func (s *section) removeLine(target string) bool {
	for i, line := range s.lines {
		if line == target {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return true
		}
	}
	return false
}

// entries returns the "- " list entries of the section
func (s *section) entries() []string {
	var out []string
	for _, line := range s.lines {
		if strings.HasPrefix(line, "- ") {
			out = append(out, line)
		}
	}
	return out
}
