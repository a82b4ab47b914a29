package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cuemby/claimd/pkg/assigner"
	"github.com/cuemby/claimd/pkg/checker"
	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/health"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/scheduler"
	"github.com/cuemby/claimd/pkg/shift"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// Config is the claimd configuration file
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Raft          RaftConfig          `yaml:"raft"`
	Log           log.Config          `yaml:"log"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Checker       CheckerConfig       `yaml:"checker"`
	Propagator    PropagatorConfig    `yaml:"propagator"`
	RPC           RPCConfig           `yaml:"rpc"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Estimator     EstimatorConfig     `yaml:"estimator"`
	Assigner      AssignerConfig      `yaml:"assigner"`
}

type ServerConfig struct {
	APIAddr    string `yaml:"api_addr" validate:"nonzero"`
	HealthAddr string `yaml:"health_addr"`
	// ReadOnlyAddr serves only Get methods when set
	ReadOnlyAddr string `yaml:"read_only_addr"`
}

type RaftConfig struct {
	NodeID     string `yaml:"node_id" validate:"nonzero"`
	BindAddr   string `yaml:"bind_addr"`
	DataDir    string `yaml:"data_dir" validate:"nonzero"`
	Standalone bool   `yaml:"standalone"`
	// Join is the API address of a running manager; empty bootstraps
	Join         string        `yaml:"join"`
	JoinToken    string        `yaml:"join_token"`
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

type SchedulerConfig struct {
	Priority scheduler.PriorityConfig `yaml:"priority"`
}

type CheckerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval" validate:"nonzero"`
	LookAhead      time.Duration `yaml:"look_ahead" validate:"nonzero"`
	MinStartOffset time.Duration `yaml:"min_start_offset"`
}

type PropagatorConfig struct {
	// StorageRetention is how long storage claims outlive their task
	StorageRetention time.Duration `yaml:"storage_retention" validate:"nonzero"`
}

// RPCConfig applies to every outbound collaborator call. Empty addresses
// select the in-process no-op collaborators.
type RPCConfig struct {
	Timeout         time.Duration `yaml:"timeout" validate:"nonzero"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"min=1"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	TaskControlAddr string        `yaml:"task_control_addr"`
	ProjectsAddr    string        `yaml:"project_metadata_addr"`
	CleanupAddr     string        `yaml:"cleanup_addr"`
	// ProbeInterval is how often collaborator reachability is checked;
	// zero disables probing
	ProbeInterval   time.Duration `yaml:"probe_interval"`
}

type NotificationsConfig struct {
	// RedisAddr enables forwarding events to redis when set
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"min=0"`
	Prefix        string        `yaml:"prefix" validate:"nonzero"`
	Timeout       time.Duration `yaml:"timeout"`
}

// EstimatorConfig selects a remote estimator (Addr) or static rules
// (RulesFile)
type EstimatorConfig struct {
	Addr      string `yaml:"addr"`
	RulesFile string `yaml:"rules_file"`
}

type AssignerConfig struct {
	Workers   int    `yaml:"workers" validate:"min=1"`
	QueueSize int    `yaml:"queue_size" validate:"min=1"`
	Username  string `yaml:"username" validate:"nonzero"`
	UserID    int    `yaml:"user_id"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	cc := checker.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			APIAddr:    "127.0.0.1:7950",
			HealthAddr: "127.0.0.1:9090",
		},
		Raft: RaftConfig{
			NodeID:       "claimd-1",
			BindAddr:     "127.0.0.1:7946",
			DataDir:      "/var/lib/claimd",
			ApplyTimeout: 5 * time.Second,
		},
		Log: log.Config{Level: log.InfoLevel},
		Scheduler: SchedulerConfig{
			Priority: scheduler.DefaultPriorityConfig(),
		},
		Checker: CheckerConfig{
			Enabled:        true,
			Interval:       cc.Interval,
			LookAhead:      cc.LookAhead,
			MinStartOffset: cc.MinStartOffset,
		},
		Propagator: PropagatorConfig{
			StorageRetention: shift.DefaultStorageRetention,
		},
		RPC: RPCConfig{
			Timeout:        rpc.DefaultTimeout,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			ProbeInterval:  30 * time.Second,
		},
		Notifications: NotificationsConfig{
			Prefix:  "lofar.ra.notification",
			Timeout: time.Second,
		},
		Assigner: AssignerConfig{
			Workers:   4,
			QueueSize: 64,
			Username:  "resourceassigner",
		},
	}
}

// ValidationError is returned when a configuration fails validation
type ValidationError struct {
	errorMap validator.ErrorMap
}

// ErrForField returns the validation error for the given field
func (e ValidationError) ErrForField(name string) error {
	return e.errorMap[name]
}

func (e ValidationError) Error() string {
	var w bytes.Buffer
	fields := make([]string, 0, len(e.errorMap))
	for f := range e.errorMap {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	fmt.Fprintf(&w, "validation failed")
	for _, f := range fields {
		fmt.Fprintf(&w, "\n   %s: %v", f, e.errorMap[f])
	}
	return w.String()
}

// Load parses paths in order onto Default, so later files override earlier
// ones, and validates the merged result
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		if errs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errorMap: errs}
		}
		return err
	}
	switch c.Scheduler.Priority.Policy {
	case "", scheduler.BumpMinimal, scheduler.BumpAll:
	default:
		return errors.Errorf("unknown bump policy %q", c.Scheduler.Priority.Policy)
	}
	switch c.Log.Level {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	if !c.Raft.Standalone && c.Raft.BindAddr == "" {
		return errors.New("raft.bind_addr is required unless raft.standalone is set")
	}
	if c.RPC.MaxBackoff < c.RPC.InitialBackoff {
		return errors.New("rpc.max_backoff must not be below rpc.initial_backoff")
	}
	return nil
}

// Manager returns the store configuration
func (c *Config) Manager() *manager.Config {
	return &manager.Config{
		NodeID:       c.Raft.NodeID,
		BindAddr:     c.Raft.BindAddr,
		DataDir:      c.Raft.DataDir,
		Standalone:   c.Raft.Standalone,
		ApplyTimeout: c.Raft.ApplyTimeout,
	}
}

func (c *Config) CheckerConfig() checker.Config {
	return checker.Config{
		Interval:       c.Checker.Interval,
		LookAhead:      c.Checker.LookAhead,
		MinStartOffset: c.Checker.MinStartOffset,
	}
}

func (c *Config) AssignerConfig() assigner.Config {
	return assigner.Config{
		Priority: c.Scheduler.Priority,
		Owner:    types.Owner{Username: c.Assigner.Username, UserID: c.Assigner.UserID},
	}
}

// RetryPolicy builds the retry policy of outbound calls
func (c *Config) RetryPolicy() rpc.RetryPolicy {
	return rpc.NewRetryPolicy(c.RPC.MaxAttempts, c.RPC.InitialBackoff, c.RPC.MaxBackoff)
}

// Probes configures collaborator reachability checks
func (c *Config) Probes() health.Config {
	return health.Config{Interval: c.RPC.ProbeInterval, Timeout: c.RPC.Timeout, Retries: c.RPC.MaxAttempts}
}

func (c *Config) ExternalOptions() external.Options {
	return external.Options{Timeout: c.RPC.Timeout, Retry: c.RetryPolicy()}
}

// Redis returns the forwarder configuration; ok is false when forwarding
// is disabled
func (c *Config) Redis() (cfg events.RedisConfig, ok bool) {
	n := c.Notifications
	return events.RedisConfig{
		Addr:     n.RedisAddr,
		Password: n.RedisPassword,
		DB:       n.RedisDB,
		Prefix:   n.Prefix,
		Timeout:  n.Timeout,
	}, n.RedisAddr != ""
}
