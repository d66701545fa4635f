package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeyReplacer maps nested keys to env names, e.g. host.binary ->
// CONDUCTOR_HOST_BINARY.
var envKeyReplacer = strings.NewReplacer(".", "_")

// LockConfig contains directory-lock settings
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Backoff time.Duration `mapstructure:"backoff"`
	Root    string        `mapstructure:"root"` // Relative to orchestration root
}

// StoreConfig contains atomic store settings
type StoreConfig struct {
	BackupRetention int           `mapstructure:"backup_retention"`
	TxRoot          string        `mapstructure:"tx_root"` // Relative to orchestration root
	TxOrphanGrace   time.Duration `mapstructure:"tx_orphan_grace"`
}

// HostConfig contains session host driver settings
type HostConfig struct {
	Binary       string        `mapstructure:"binary"`       // Session host binary, resolved via PATH
	CallTimeout  time.Duration `mapstructure:"call_timeout"` // Per-call deadline
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// QueueConfig contains priority queue settings
type QueueConfig struct {
	MaxCommands int `mapstructure:"max_commands"`
}

// SupervisorConfig contains session supervisor settings
type SupervisorConfig struct {
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	PSBinary      string        `mapstructure:"ps_binary"` // Process sampler, resolved via PATH
}

// Settings is the orchestrator's own runtime configuration, distinct from
// the declarative project documents under config/. Every external command
// is injectable here so tests can substitute fakes.
type Settings struct {
	Lock       LockConfig       `mapstructure:"lock"`
	Store      StoreConfig      `mapstructure:"store"`
	Host       HostConfig       `mapstructure:"host"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

// EnvPrefix is the prefix for environment overrides, e.g.
// CONDUCTOR_HOST_BINARY=./fake-tmux.
const EnvPrefix = "CONDUCTOR"

// Load reads settings from the optional .conductor.yaml in the
// orchestration root and from CONDUCTOR_* environment variables.
func Load(root string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName(".conductor")
	v.SetConfigType("yaml")
	v.AddConfigPath(root)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)

	// Defaults double as the key registry: viper only surfaces
	// environment overrides for keys it knows about.
	d := Default()
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("lock.backoff", d.Lock.Backoff)
	v.SetDefault("lock.root", d.Lock.Root)
	v.SetDefault("store.backup_retention", d.Store.BackupRetention)
	v.SetDefault("store.tx_root", d.Store.TxRoot)
	v.SetDefault("store.tx_orphan_grace", d.Store.TxOrphanGrace)
	v.SetDefault("host.binary", d.Host.Binary)
	v.SetDefault("host.call_timeout", d.Host.CallTimeout)
	v.SetDefault("host.probe_timeout", d.Host.ProbeTimeout)
	v.SetDefault("queue.max_commands", d.Queue.MaxCommands)
	v.SetDefault("supervisor.idle_threshold", d.Supervisor.IdleThreshold)
	v.SetDefault("supervisor.ps_binary", d.Supervisor.PSBinary)

	// The settings file is optional; only a malformed one is an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	applyDefaults(s)
	return s, nil
}

// Default returns the built-in settings without consulting any file or
// the environment
func Default() *Settings {
	s := &Settings{}
	applyDefaults(s)
	return s
}

// applyDefaults fills in zero-valued fields
func applyDefaults(s *Settings) {
	if s.Lock.Timeout == 0 {
		s.Lock.Timeout = 30 * time.Second
	}
	if s.Lock.Backoff == 0 {
		s.Lock.Backoff = 100 * time.Millisecond
	}
	if s.Lock.Root == "" {
		s.Lock.Root = ".locks"
	}
	if s.Store.BackupRetention == 0 {
		s.Store.BackupRetention = 5
	}
	if s.Store.TxRoot == "" {
		s.Store.TxRoot = ".tx"
	}
	if s.Store.TxOrphanGrace == 0 {
		s.Store.TxOrphanGrace = time.Hour
	}
	if s.Host.Binary == "" {
		s.Host.Binary = "tmux"
	}
	if s.Host.CallTimeout == 0 {
		s.Host.CallTimeout = 5 * time.Second
	}
	if s.Host.ProbeTimeout == 0 {
		s.Host.ProbeTimeout = time.Second
	}
	if s.Queue.MaxCommands == 0 {
		s.Queue.MaxCommands = 1000
	}
	if s.Supervisor.IdleThreshold == 0 {
		s.Supervisor.IdleThreshold = 5 * time.Minute
	}
	if s.Supervisor.PSBinary == "" {
		s.Supervisor.PSBinary = "ps"
	}
}
