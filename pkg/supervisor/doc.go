/*
Package supervisor observes and manages the live agent sessions.

The supervisor never owns a session; it queries the session host for a
name-keyed snapshot and classifies each configured agent as Healthy,
NoPanes, NoWindows or NotFound, with an activity class derived from the
last-attach epoch. Resource usage is a best-effort point-in-time ps(1)
read over the session's pane pids.

StopAll is the reconciliation path: every configured session is killed
(all kills are attempted even when some fail), then the task-assignments
artifact is reset to idle in one atomic write, and the orchestrator log
records the stopped count.

The supervisor also owns the send deny list. It is the only copy in the
repository; the send verb refuses any payload matching it with
UnsafeCommand before anything reaches a queue or a session.
*/
package supervisor
