package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor-sh/conductor/pkg/deploy"
	"github.com/conductor-sh/conductor/pkg/journal"
	"github.com/conductor-sh/conductor/pkg/supervisor"
	"github.com/conductor-sh/conductor/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the shared workspace artifacts",
	Long: `Create the shared-artifact and log directories and write the initial
project-state, task-assignments, blockers and decisions documents.

Re-running init is safe: artifacts that already hold content are left
untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		for _, dir := range []string{a.registry.MemoryDir(), a.registry.LogDir(), a.registry.QueueDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return types.WrapError(types.KindMemoryDirUnwritable,
					fmt.Sprintf("failed to create %s", dir), err)
			}
		}
		for _, key := range a.registry.AgentKeys() {
			if err := os.MkdirAll(a.registry.AgentLogDir(key), 0o755); err != nil {
				return types.WrapError(types.KindMemoryDirUnwritable,
					fmt.Sprintf("failed to create agent log dir for %s", key), err)
			}
		}

		now := time.Now()
		if err := a.artifacts.WriteInitial(a.registry.Project(), a.registry.Agents(), now); err != nil {
			return err
		}

		line := fmt.Sprintf("%s Orchestrator initialized for %s",
			now.UTC().Format(time.RFC3339), a.registry.Project().Name)
		if err := a.store.Append(a.registry.OrchestratorLog(), line); err != nil {
			return err
		}

		j := a.journal()
		if j != nil {
			defer j.Close()
		}
		recordEvent(j, journal.Event{Type: journal.EventInit,
			Message: "workspace initialized",
			Metadata: map[string]string{"project": a.registry.Project().Name}})

		fmt.Printf("Initialized %s with %d agent(s)\n",
			a.registry.Project().Name, len(a.registry.AgentKeys()))
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <agent> <task-id>",
	Short: "Deploy an agent session for a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		j := a.journal()
		if j != nil {
			defer j.Close()
		}

		coordinator := deploy.NewCoordinator(a.registry, a.store, a.artifacts, a.host)
		result, err := coordinator.Deploy(ctx, args[0], args[1], force)
		if err != nil {
			recordEvent(j, journal.Event{Type: journal.EventDeployFailed,
				Message: err.Error(),
				Metadata: map[string]string{"agent": args[0], "task": args[1]}})
			return err
		}

		recordEvent(j, journal.Event{Type: journal.EventDeploySucceeded,
			Message: fmt.Sprintf("deployed %s for task %s", result.DisplayName, result.TaskID),
			Metadata: map[string]string{"agent": result.AgentKey, "task": result.TaskID,
				"session": result.SessionName}})

		fmt.Printf("Deployed %s for task %s (session %s)\n",
			result.DisplayName, result.TaskID, result.SessionName)
		fmt.Printf("Attach with: conductor attach %s\n", result.AgentKey)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live agent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		statuses, err := a.supervisor.List()
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No agent sessions running")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSESSION\tHEALTH\tACTIVITY\tCPU%\tMEM%")
		for _, st := range statuses {
			activity := string(st.Activity)
			if st.Activity == types.ActivityIdle {
				activity = fmt.Sprintf("Idle (%s)", st.IdleFor.Round(time.Second))
			}
			cpu, mem := "-", "-"
			if st.Resources.Sampled {
				cpu = fmt.Sprintf("%.1f", st.Resources.CPUPercent)
				mem = fmt.Sprintf("%.1f", st.Resources.MemPercent)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				st.AgentKey, st.SessionName, st.Health, activity, cpu, mem)
		}
		return w.Flush()
	},
}

var listAvailableCmd = &cobra.Command{
	Use:   "list-available",
	Short: "List every registered agent type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		capFilter, _ := cmd.Flags().GetString("capability")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		agents := a.registry.Agents()
		if capFilter != "" {
			agents = a.registry.AgentsWithCapability(capFilter)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSTATUS\tDESCRIPTION")
		for _, agent := range agents {
			status := types.AvailabilityIdle
			if path, err := a.registry.PromptPath(agent.Key); err == nil {
				if _, serr := os.Stat(path); serr != nil {
					status = types.AvailabilityTemplate
				}
			}
			if status == types.AvailabilityIdle {
				if exists, err := a.host.Exists(agent.SessionName); err == nil && exists {
					status = types.AvailabilityDeployed
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", agent.Key, status, agent.Description)
		}
		return w.Flush()
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <agent>",
	Short: "Attach the terminal to an agent's session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		session, err := a.supervisor.ResolveSession(args[0])
		if err != nil {
			return err
		}
		return a.host.Attach(session)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <agent> <command>",
	Short: "Queue a command and deliver the next one to the agent",
	Long: `Enqueue the command on the agent's priority queue, then immediately
drain one command from the queue into the session. Within a priority,
commands are delivered strictly in enqueue order; High precedes Normal
precedes Low.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prioName, _ := cmd.Flags().GetString("priority")
		priority, ok := types.ParsePriority(prioName)
		if !ok {
			return types.NewErrorf(types.KindBadArgs, "unknown priority %q", prioName)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		agentKey := args[0]
		payload := strings.Join(args[1:], " ")

		// The deny list gates the queue as well as the session; an
		// unsafe command must leave no trace anywhere.
		if pattern, blocked := supervisor.CheckCommand(payload); blocked {
			return types.NewErrorf(types.KindUnsafeCommand,
				"command matches deny pattern %q", pattern)
		}
		if _, err := a.supervisor.ResolveSession(agentKey); err != nil {
			return err
		}

		if _, err := a.queues.Enqueue(agentKey, payload, priority); err != nil {
			return err
		}
		next, err := a.queues.Dequeue(agentKey)
		if err != nil {
			return err
		}
		if err := a.supervisor.Send(agentKey, next.Payload); err != nil {
			return err
		}

		j := a.journal()
		if j != nil {
			defer j.Close()
		}
		recordEvent(j, journal.Event{Type: journal.EventSend,
			Message:  fmt.Sprintf("sent command to %s", agentKey),
			Metadata: map[string]string{"agent": agentKey, "priority": priority.String()}})

		fmt.Printf("Delivered to %s (queued as %s #%d)\n", agentKey, next.Priority, next.Sequence)
		return nil
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every agent session and reset assignments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		result, err := a.supervisor.StopAll()

		j := a.journal()
		if j != nil {
			defer j.Close()
		}
		recordEvent(j, journal.Event{Type: journal.EventStopAll,
			Message: fmt.Sprintf("stopped %d session(s), %d failed", result.Stopped, result.Failed)})

		fmt.Printf("Stopped %d session(s)\n", result.Stopped)
		if result.Failed > 0 {
			fmt.Printf("Failed to stop %d session(s)\n", result.Failed)
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project state, assignments and blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		state, err := a.artifacts.ReadProjectState()
		if err != nil {
			return err
		}
		fmt.Printf("Project: %s\n", a.registry.Project().Name)
		if state.CurrentPhase != "" {
			fmt.Printf("Phase: %s\n", state.CurrentPhase)
		}

		assignments, err := a.artifacts.Assignments()
		if err != nil {
			return err
		}
		fmt.Println("\nAssignments:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  AGENT\tTASK\tSTATUS\tSESSION")
		for _, as := range assignments {
			task, session := as.TaskID, as.SessionName
			if task == "" {
				task = "-"
			}
			if session == "" {
				session = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", as.AgentKey, task, as.Status, session)
		}
		w.Flush()

		if statuses, err := a.supervisor.List(); err == nil && len(statuses) > 0 {
			fmt.Println("\nLive sessions:")
			for _, st := range statuses {
				fmt.Printf("  %s (%s): %s\n", st.AgentKey, st.SessionName, st.Health)
			}
		}

		if blockers, err := a.artifacts.OpenBlockers(); err == nil && len(blockers) > 0 {
			fmt.Println("\nCurrent blockers:")
			for _, b := range blockers {
				fmt.Printf("  - %s\n", b.Description)
			}
		}

		if j := a.journal(); j != nil {
			defer j.Close()
			if events, err := j.Recent(5); err == nil && len(events) > 0 {
				fmt.Println("\nRecent activity:")
				for _, e := range events {
					fmt.Printf("  %s %s: %s\n",
						e.Timestamp.Format(time.RFC3339), e.Type, e.Message)
				}
			}
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		p := a.registry.Project()
		fmt.Printf("Project: %s (version %s)\n", p.Name, p.Version)
		fmt.Printf("Workspace: %s\n", p.WorkspaceDir)
		fmt.Printf("Task source: %s (%s)\n", p.TaskSource.Identifier, p.TaskSource.Kind)
		fmt.Printf("Orchestration root: %s\n", a.root)
		fmt.Printf("Shared artifacts: %s\n", a.registry.MemoryDir())
		fmt.Printf("Logs: %s\n", a.registry.LogDir())

		if len(p.Phases) > 0 {
			fmt.Printf("Phases: %d\n", len(p.Phases))
		}

		fmt.Println("\nAgents:")
		for _, agent := range a.registry.Agents() {
			fmt.Printf("  %s: %s (session %s)\n", agent.Key, agent.DisplayName, agent.SessionName)
			if len(agent.Capabilities) > 0 {
				fmt.Printf("    capabilities: %s\n", strings.Join(agent.Capabilities, ", "))
			}
			if profile, ok := a.registry.Profile(agent.ValidationProfileKey); ok {
				fmt.Printf("    validation: %s (%d steps)\n", profile.Key, len(profile.Steps))
			}
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the project configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		violations := a.registry.ValidateAll(a.host.ServerAlive)
		if len(violations) == 0 {
			fmt.Println("Configuration is valid")
			return nil
		}
		for _, v := range violations {
			fmt.Printf("violation: %s\n", v)
		}
		return types.NewErrorf(types.KindMissingConfig,
			"%d validation violation(s)", len(violations))
	},
}

func init() {
	deployCmd.Flags().Bool("force", false, "Replace an existing session for this agent")
	sendCmd.Flags().String("priority", "normal", "Queue priority (high, normal, low)")
	listAvailableCmd.Flags().String("capability", "", "Only agents with this capability tag")
}
