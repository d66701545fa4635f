/*
Package deploy drives the deployment state machine.

A deployment takes an (agent, task) request through a fixed sequence of
states:

	Requested -> Validated -> Reserved -> EnvironmentReady
	          -> SessionLive -> Primed -> Recorded -> Done

with a terminal Failed(reason) on any step. The interesting guarantees
live at the edges:

  - Conflict semantics: an existing session fails with SessionExists
    unless --force records a teardown intent, but a task held Active by
    another agent fails with TaskAlreadyAssigned regardless of force.
  - The window from conflict check through the assignment commit runs
    under a per-agent directory lock, so concurrent deploys of the same
    agent serialize. Different agents only contend on the single
    task-assignments write lock.
  - Rollback: a session created by this run is killed on any later
    failure until the assignment transaction commits; a post-verify
    failure kills the session and reverts the recorded assignment.
  - Priming is strictly one-way. The coordinator sends a fixed line
    sequence into the session and never depends on session output.

The coordinator reaches the session host only through the SessionHost
interface, never through the supervisor, which keeps the two components
independent.
*/
package deploy
