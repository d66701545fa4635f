/*
Package types defines the core data structures shared across Conductor.

It holds the declarative records loaded from configuration (Project,
AgentType, ValidationProfile), the mutable coordination records kept in
shared artifacts (Assignment, Blocker, Decision, QueuedCommand), the
session host snapshot types, and the typed error taxonomy with its stable
exit-code mapping.

# Error handling

Failures cross package boundaries as *types.Error values carrying an
ErrorKind, a human message and an optional next-step hint:

	return types.NewErrorf(types.KindSessionExists,
		"session %q already exists", name).
		WithHint("pass --force to replace it")

The CLI boundary resolves errors to exit codes through types.ExitCode;
codes are stable across releases (0 success, 1 generic, 2 unknown verb,
10 and up reserved per kind).
*/
package types
