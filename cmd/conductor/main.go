package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conductor-sh/conductor/pkg/artifacts"
	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/journal"
	"github.com/conductor-sh/conductor/pkg/log"
	"github.com/conductor-sh/conductor/pkg/queue"
	"github.com/conductor-sh/conductor/pkg/registry"
	"github.com/conductor-sh/conductor/pkg/store"
	"github.com/conductor-sh/conductor/pkg/supervisor"
	"github.com/conductor-sh/conductor/pkg/tmux"
	"github.com/conductor-sh/conductor/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra reports an unrecognized verb as a plain error; give it
		// the stable unknown-verb exit code.
		if strings.HasPrefix(err.Error(), "unknown command") {
			err = types.WrapError(types.KindUnknownVerb, "unknown verb", err)
		}

		// One line, typed kind first, hint on its own line when present.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := types.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(types.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor - Multi-agent session orchestrator",
	Long: `Conductor deploys, supervises and coordinates long-running AI agent
sessions inside a terminal multiplexer. Each agent runs detached in its
own tmux session, so its state survives orchestrator exits, and all
coordination happens through file-backed shared artifacts that both the
orchestrator and the agents read and write.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Conductor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("root", ".", "Orchestration root directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(listAvailableCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(stopAllCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(validateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// app bundles the wired components behind one invocation. Help and
// version never build one, so a broken project is still discoverable.
type app struct {
	root       string
	settings   *config.Settings
	registry   *registry.Registry
	store      *store.Store
	artifacts  *artifacts.Artifacts
	host       *tmux.CLIDriver
	queues     *queue.Manager
	supervisor *supervisor.Supervisor
}

// newApp resolves the orchestration root once and wires every component
// from it. Nothing downstream consults the working directory again.
func newApp(cmd *cobra.Command) (*app, error) {
	root, _ := cmd.Flags().GetString("root")
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, types.WrapError(types.KindBadArgs, "failed to resolve --root", err)
	}

	settings, err := config.Load(absRoot)
	if err != nil {
		return nil, types.WrapError(types.KindLoadConfigFailed, "failed to load settings", err)
	}

	reg, err := registry.Load(absRoot)
	if err != nil {
		return nil, err
	}

	st := store.New(absRoot, settings)
	art := artifacts.New(st, reg.MemoryDir())
	host := tmux.NewCLIDriver(settings)

	return &app{
		root:       absRoot,
		settings:   settings,
		registry:   reg,
		store:      st,
		artifacts:  art,
		host:       host,
		queues:     queue.NewManager(st, reg.QueueDir(), settings),
		supervisor: supervisor.New(reg, st, art, host, settings),
	}, nil
}

// journal opens the event journal; failures are best-effort by contract
func (a *app) journal() *journal.Journal {
	j, err := journal.Open(filepath.Join(a.registry.LogDir(), "journal.db"))
	if err != nil {
		logger := log.WithComponent("journal")
		logger.Warn().Err(err).Msg("Journal unavailable")
		return nil
	}
	return j
}

// recordEvent appends an event to the journal when it is available
func recordEvent(j *journal.Journal, event journal.Event) {
	if j == nil {
		return
	}
	if err := j.Append(event); err != nil {
		logger := log.WithComponent("journal")
		logger.Warn().Err(err).Msg("Failed to record event")
	}
}
