package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/types"
)

// SessionHost is the capability surface the orchestrator needs from the
// terminal multiplexer. The deploy coordinator and the supervisor both
// consume this interface, never each other, which keeps the dependency
// graph acyclic and lets tests substitute a fake host.
type SessionHost interface {
	// ServerAlive reports whether the multiplexer server is reachable.
	// Never blocks longer than the probe timeout.
	ServerAlive() bool

	// Exists reports whether a session with the exact name exists
	Exists(name string) (bool, error)

	// Create starts a detached session with one window and one pane,
	// rooted at cwd. Fails if the session already exists.
	Create(name, cwd string) error

	// SendLine appends text plus a newline to the session's primary
	// pane input. No quoting is applied; callers sanitize.
	SendLine(name, text string) error

	// Capture returns the visible pane buffer, best effort
	Capture(name string) (string, error)

	// Kill tears the session down. Idempotent: succeeds if the session
	// is gone afterward.
	Kill(name string) error

	// List snapshots all sessions
	List() ([]types.SessionInfo, error)

	// PaneCWD returns the primary pane's current working directory
	PaneCWD(name string) (string, error)

	// PanePIDs returns the pids of processes rooted in the session
	PanePIDs(name string) ([]int, error)
}

// runner executes one multiplexer CLI invocation. Split out so driver
// tests can record and replay calls without a tmux server.
type runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// execRunner shells out to the real binary
type execRunner struct {
	bin string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, r.bin, args...).CombinedOutput()
}

// CLIDriver drives tmux through its CLI. Every call is a one-shot
// process execution with a bounded deadline; the driver holds no handle
// whose lifetime exceeds one call.
type CLIDriver struct {
	bin          string
	callTimeout  time.Duration
	probeTimeout time.Duration
	run          runner
	logger       zerolog.Logger
}

// NewCLIDriver creates a driver using the configured tmux binary
func NewCLIDriver(settings *config.Settings) *CLIDriver {
	if settings == nil {
		settings = config.Default()
	}
	return &CLIDriver{
		bin:          settings.Host.Binary,
		callTimeout:  settings.Host.CallTimeout,
		probeTimeout: settings.Host.ProbeTimeout,
		run:          execRunner{bin: settings.Host.Binary},
		logger:       log.WithComponent("tmux"),
	}
}

// command runs one tmux invocation under the call deadline
func (d *CLIDriver) command(timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := d.run.Run(ctx, args...)
	if ctx.Err() == context.DeadlineExceeded {
		return out, types.NewErrorf(types.KindHostUnavailable,
			"tmux %s timed out after %s", args[0], timeout)
	}
	return out, err
}

// target prefixes a session name with "=" so tmux matches it exactly
// instead of by prefix
func target(name string) string {
	return "=" + name
}

// ServerAlive probes the multiplexer server
func (d *CLIDriver) ServerAlive() bool {
	out, err := d.command(d.probeTimeout, "list-sessions")
	if err == nil {
		return true
	}
	// A reachable server with no sessions still answers; only a missing
	// server is dead.
	msg := strings.ToLower(string(out))
	return strings.Contains(msg, "no sessions") && !strings.Contains(msg, "no server running")
}

// Exists checks for a session by exact name
func (d *CLIDriver) Exists(name string) (bool, error) {
	_, err := d.command(d.callTimeout, "has-session", "-t", target(name))
	if err == nil {
		return true, nil
	}
	if types.IsKind(err, types.KindHostUnavailable) {
		return false, err
	}
	// has-session exits non-zero for a missing session.
	return false, nil
}

// Create starts a detached session rooted at cwd
func (d *CLIDriver) Create(name, cwd string) error {
	if st, err := os.Stat(cwd); err != nil || !st.IsDir() {
		return types.NewErrorf(types.KindSessionCreateFailed,
			"session working directory %s does not exist", cwd)
	}
	exists, err := d.Exists(name)
	if err != nil {
		return err
	}
	if exists {
		return types.NewErrorf(types.KindSessionExists, "session %q already exists", name)
	}

	out, err := d.command(d.callTimeout, "new-session", "-d", "-s", name, "-c", cwd)
	if err != nil {
		return types.WrapError(types.KindSessionCreateFailed,
			fmt.Sprintf("failed to create session %q: %s", name, strings.TrimSpace(string(out))), err)
	}
	d.logger.Info().Str("session", name).Str("cwd", cwd).Msg("Session created")
	return nil
}

// SendLine delivers text plus a newline to the session's input
func (d *CLIDriver) SendLine(name, text string) error {
	// Literal send first, then the carriage return, so tmux never
	// interprets key names inside the payload.
	if text != "" {
		out, err := d.command(d.callTimeout, "send-keys", "-t", target(name), "-l", "--", text)
		if err != nil {
			return types.WrapError(types.KindIOError,
				fmt.Sprintf("failed to send to session %q: %s", name, strings.TrimSpace(string(out))), err)
		}
	}
	out, err := d.command(d.callTimeout, "send-keys", "-t", target(name), "C-m")
	if err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to send newline to session %q: %s", name, strings.TrimSpace(string(out))), err)
	}
	return nil
}

// Capture returns the visible pane buffer
func (d *CLIDriver) Capture(name string) (string, error) {
	out, err := d.command(d.callTimeout, "capture-pane", "-p", "-t", target(name))
	if err != nil {
		return "", types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to capture session %q", name), err)
	}
	return string(out), nil
}

// Kill tears down a session; a session that is already gone is success
func (d *CLIDriver) Kill(name string) error {
	exists, err := d.Exists(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	out, err := d.command(d.callTimeout, "kill-session", "-t", target(name))
	if err != nil {
		// Racing teardown: gone now means done.
		if gone, eerr := d.Exists(name); eerr == nil && !gone {
			return nil
		}
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to kill session %q: %s", name, strings.TrimSpace(string(out))), err)
	}
	d.logger.Info().Str("session", name).Msg("Session killed")
	return nil
}

// listFormat captures the session fields List needs, tab-separated. The
// last-attached epoch is empty for a session nobody has attached to yet,
// which the supervisor reads as Inactive.
const listFormat = "#{session_name}\t#{session_created}\t#{session_last_attached}\t#{session_windows}"

// List snapshots all sessions with their pane counts
func (d *CLIDriver) List() ([]types.SessionInfo, error) {
	out, err := d.command(d.callTimeout, "list-sessions", "-F", listFormat)
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "no server running") {
			return nil, nil
		}
		if strings.Contains(strings.ToLower(string(out)), "no sessions") {
			return nil, nil
		}
		return nil, types.WrapError(types.KindHostUnavailable, "failed to list sessions", err)
	}

	var sessions []types.SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		info := types.SessionInfo{Name: fields[0]}
		if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			info.CreatedAt = time.Unix(v, 0)
		}
		if v, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			info.LastActivity = time.Unix(v, 0)
		}
		if v, err := strconv.Atoi(fields[3]); err == nil {
			info.Windows = v
		}
		if pids, err := d.PanePIDs(info.Name); err == nil {
			info.Panes = len(pids)
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

// PaneCWD returns the primary pane's current working directory
func (d *CLIDriver) PaneCWD(name string) (string, error) {
	out, err := d.command(d.callTimeout, "display-message", "-p", "-t", target(name), "#{pane_current_path}")
	if err != nil {
		return "", types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to read pane cwd for %q", name), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PanePIDs returns the root pid of every pane in the session
func (d *CLIDriver) PanePIDs(name string) ([]int, error) {
	out, err := d.command(d.callTimeout, "list-panes", "-s", "-t", target(name), "-F", "#{pane_pid}")
	if err != nil {
		return nil, types.WrapError(types.KindIOError,
			fmt.Sprintf("failed to list panes for %q", name), err)
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Attach hands the foreground terminal to the session. This is the one
// driver call without a deadline: it returns when the operator detaches.
func (d *CLIDriver) Attach(name string) error {
	cmd := exec.Command(d.bin, "attach-session", "-t", target(name))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return types.WrapError(types.KindIOError,
			fmt.Sprintf("attach to session %q failed", name), err)
	}
	return nil
}
