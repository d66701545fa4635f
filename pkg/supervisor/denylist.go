package supervisor

import (
	"regexp"
)

// denyList is the single canonical set of patterns refused by send.
// The send verb and Supervisor.Send both check commands through
// CheckCommand; no other copy of the patterns exists, which keeps the
// refusal behavior consistent across verbs.
var denyList = []*regexp.Regexp{
	// Unconditional filesystem destruction
	regexp.MustCompile(`(?i)rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+(/|~|\*|\.)(\s|$)`),
	regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?777\s+/(\s|$)`),

	// Raw device writes
	regexp.MustCompile(`(?i)>\s*/dev/(sd|hd|nvme|vd)`),
	regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`),

	// Privilege escalation
	regexp.MustCompile(`(?i)^\s*(sudo|doas)\b`),

	// Machine-wide disruption
	regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`(?i)\bkill\s+-9\s+-1\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`),
}

// CheckCommand reports whether payload matches the deny list, returning
// the offending pattern for the error message
func CheckCommand(payload string) (string, bool) {
	for _, re := range denyList {
		if re.MatchString(payload) {
			return re.String(), true
		}
	}
	return "", false
}
