/*
Package artifacts reads and writes the shared coordination documents.

Four markdown files live under the shared-artifact root and are edited by
both the orchestrator and the worker sessions:

	project_state.md      current phase, active and completed tasks
	task_assignments.md   one section per agent: Current/Status/Session
	blockers.md           current and resolved blocker entries
	decisions.md          append-only timestamped decision log

Every mutation goes through the store package, so writes are atomic and
serialized against concurrent invocations and workers. Parsing is
heading-driven and deliberately forgiving: lines the orchestrator does not
understand are preserved byte-exact on rewrite, so workers can annotate
any section without fear of losing their edits.

The assignment invariants enforced here: after a successful deployment the
deployed agent's section reads Current=<task>/Status=Active/Session=<name>
and no other agent holds the same Current; after stop-all every section is
back to Not assigned/Idle/None.
*/
package artifacts
