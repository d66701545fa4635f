/*
Package tmux drives the terminal-multiplexer session host through its CLI.

Worker sessions live inside detached tmux sessions so their state and
interactivity survive orchestrator exits. The driver treats tmux strictly
as an external process: every operation is a single CLI invocation with a
bounded deadline (default 5s, 1s for the liveness probe), and no handle
outlives one call.

The SessionHost interface is the seam consumed by the deploy coordinator
and the session supervisor. Tests inject a fake host; the CLIDriver is
the production implementation. Session names are always targeted with
tmux's "=" exact-match prefix so a session named "backend" can never
accidentally address "backend-2".
*/
package tmux
