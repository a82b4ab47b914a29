package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/claimd/pkg/api"
	"github.com/cuemby/claimd/pkg/assigner"
	"github.com/cuemby/claimd/pkg/catalog"
	"github.com/cuemby/claimd/pkg/checker"
	"github.com/cuemby/claimd/pkg/client"
	"github.com/cuemby/claimd/pkg/config"
	"github.com/cuemby/claimd/pkg/estimator"
	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/health"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/shift"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a claimd manager",
	Long: `Run a claimd manager: the resource assignment database, the assigner
worker pool, the status and specification propagators and the schedule
checker, behind the gRPC API.

Without --join the node bootstraps a new raft cluster. With --standalone
no raft is used and the node is its own leader.

Examples:
  # Single node, no raft, catalog loaded at start
  claimd serve --standalone --data-dir ./claimd-data --catalog catalog.yaml

  # Second manager of a cluster
  claimd serve --node-id claimd-2 --bind-addr 10.0.0.2:7946 \
    --join 10.0.0.1:7950 --token <token>`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceP("config", "c", nil, "Configuration files, later files override earlier ones")
	serveCmd.Flags().String("node-id", "", "Unique node ID")
	serveCmd.Flags().String("bind-addr", "", "Address for raft communication")
	serveCmd.Flags().String("api-addr", "", "Address for the gRPC API")
	serveCmd.Flags().String("data-dir", "", "Data directory for assignment state")
	serveCmd.Flags().Bool("standalone", false, "Run without raft")
	serveCmd.Flags().String("join", "", "API address of a running manager to join")
	serveCmd.Flags().String("token", "", "Join token from the leader")
	serveCmd.Flags().String("catalog", "", "YAML resource catalog to load at start")
}

// applyFlags lets command line flags override configuration file values
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("node-id"); v != "" {
		cfg.Raft.NodeID = v
	}
	if v, _ := flags.GetString("bind-addr"); v != "" {
		cfg.Raft.BindAddr = v
	}
	if v, _ := flags.GetString("api-addr"); v != "" {
		cfg.Server.APIAddr = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.Raft.DataDir = v
	}
	if v, _ := flags.GetBool("standalone"); v {
		cfg.Raft.Standalone = true
	}
	if v, _ := flags.GetString("join"); v != "" {
		cfg.Raft.Join = v
	}
	if v, _ := flags.GetString("token"); v != "" {
		cfg.Raft.JoinToken = v
	}
}

// collaborators are the external systems, dialed when an address is
// configured and no-ops otherwise
type collaborators struct {
	control   external.TaskControl
	projects  external.ProjectMetadata
	cleanup   external.Cleanup
	estimator estimator.Estimator
	conns     map[string]*grpc.ClientConn
}

func (c *collaborators) dial(name, addr string) (*grpc.ClientConn, error) {
	conn, err := rpc.Dial(addr)
	if err != nil {
		return nil, err
	}
	c.conns[name] = conn
	return conn, nil
}

// probe registers a reachability check for every dialed collaborator
func (c *collaborators) probe(mon *health.Monitor) {
	for name, conn := range c.conns {
		mon.Add(name, health.NewGRPCChecker(name, conn))
	}
}

func (c *collaborators) close() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

func dialCollaborators(cfg *config.Config) (*collaborators, error) {
	c := &collaborators{
		control:  external.NopTaskControl{},
		projects: external.NopProjectMetadata{},
		cleanup:  external.NopCleanup{},
		conns:    make(map[string]*grpc.ClientConn),
	}
	opts := cfg.ExternalOptions()

	if addr := cfg.RPC.TaskControlAddr; addr != "" {
		conn, err := c.dial("task_control", addr)
		if err != nil {
			c.close()
			return nil, err
		}
		c.control = external.NewTaskControlClient(conn, opts)
	}
	if addr := cfg.RPC.ProjectsAddr; addr != "" {
		conn, err := c.dial("project_metadata", addr)
		if err != nil {
			c.close()
			return nil, err
		}
		c.projects = external.NewProjectMetadataClient(conn, opts)
	}
	if addr := cfg.RPC.CleanupAddr; addr != "" {
		conn, err := c.dial("cleanup", addr)
		if err != nil {
			c.close()
			return nil, err
		}
		c.cleanup = external.NewCleanupClient(conn, opts)
	}

	switch {
	case cfg.Estimator.Addr != "":
		conn, err := c.dial("estimator", cfg.Estimator.Addr)
		if err != nil {
			c.close()
			return nil, err
		}
		c.estimator = estimator.NewClient(conn, cfg.RPC.Timeout, cfg.RetryPolicy())
	case cfg.Estimator.RulesFile != "":
		static, err := estimator.LoadStatic(cfg.Estimator.RulesFile)
		if err != nil {
			c.close()
			return nil, err
		}
		c.estimator = static
	default:
		c.estimator = estimator.NewStatic(nil)
	}
	return c, nil
}

// startManager creates the manager and brings up raft: bootstrap, join or
// standalone
func startManager(ctx context.Context, cfg *config.Config) (*manager.Manager, error) {
	mgr, err := manager.NewManager(cfg.Manager())
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %v", err)
	}
	if cfg.Raft.Standalone {
		return mgr, nil
	}

	if cfg.Raft.Join == "" {
		if err := mgr.Bootstrap(); err != nil {
			mgr.Shutdown()
			return nil, fmt.Errorf("failed to bootstrap cluster: %v", err)
		}
	} else {
		leader, err := client.NewClient(cfg.Raft.Join)
		if err != nil {
			mgr.Shutdown()
			return nil, fmt.Errorf("failed to connect to leader: %v", err)
		}
		defer leader.Close()
		if err := mgr.Join(ctx, leader, cfg.Raft.JoinToken); err != nil {
			mgr.Shutdown()
			return nil, err
		}
	}

	if err := mgr.WaitForLeader(30 * time.Second); err != nil {
		mgr.Shutdown()
		return nil, err
	}
	return mgr, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	paths, _ := cmd.Flags().GetStringSlice("config")
	catalogFile, _ := cmd.Flags().GetString("catalog")

	cfg, err := config.Load(paths...)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.Log)
	metrics.SetVersion(Version)
	logger := log.WithComponent("serve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Starting claimd manager...")
	fmt.Printf("  Node ID: %s\n", cfg.Raft.NodeID)
	if cfg.Raft.Standalone {
		fmt.Println("  Raft: standalone")
	} else {
		fmt.Printf("  Raft Address: %s\n", cfg.Raft.BindAddr)
	}
	fmt.Printf("  API Address: %s\n", cfg.Server.APIAddr)
	fmt.Printf("  Data Directory: %s\n", cfg.Raft.DataDir)
	fmt.Println()

	collab, err := dialCollaborators(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up collaborators: %v", err)
	}
	defer collab.close()

	mgr, err := startManager(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Println("✓ Assignment database ready")

	if catalogFile != "" {
		if !mgr.IsLeader() {
			logger.Warn().Str("file", catalogFile).Msg("Not the leader, skipping catalog load")
		} else if err := loadCatalog(mgr, catalogFile); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to load catalog: %v", err)
		}
	}

	broker := mgr.GetEventBroker()

	cat := catalog.New(mgr)
	cat.Watch(ctx, broker.Subscribe())
	mgr.OnLeadershipChange(cat.LeadershipChanged)

	shifter := shift.New(mgr, cfg.Propagator.StorageRetention)

	statusPropagator := propagator.NewStatusPropagator(mgr, shifter, collab.control)
	specPropagator := propagator.NewSpecificationPropagator(mgr, collab.control)

	asg := assigner.New(mgr, cat, collab.estimator, cfg.AssignerConfig(),
		assigner.WithTaskControl(collab.control),
		assigner.WithPropagator(specPropagator),
		assigner.WithProjectMetadata(collab.projects),
		assigner.WithCleanup(collab.cleanup),
	)
	pool := assigner.NewPool(asg, cfg.Assigner.Workers, cfg.Assigner.QueueSize)
	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()
	fmt.Printf("✓ Assigner started (%d workers)\n", cfg.Assigner.Workers)
	fmt.Println("✓ Propagators started")


	var chk *checker.Checker
	if cfg.Checker.Enabled {
		chk = checker.New(mgr, shifter, collab.projects, collab.control, cfg.CheckerConfig())
		chk.SetLeaderCheck(mgr.IsLeader)
		chk.Start()
		fmt.Println("✓ Schedule checker started")
	}

	var forwarder *events.RedisForwarder
	if redisCfg, ok := cfg.Redis(); ok {
		forwarder = events.NewRedisForwarder(redisCfg)
		forwarder.Start(broker.Subscribe())
		fmt.Printf("✓ Notifications forwarded to redis %s\n", redisCfg.Addr)
	}

	collector := manager.NewMetricsCollector(mgr, 15*time.Second)
	collector.Start()

	var monitor *health.Monitor
	if cfg.RPC.ProbeInterval > 0 {
		monitor = health.NewMonitor(cfg.Probes())
		collab.probe(monitor)
		if forwarder != nil {
			monitor.Add("notifications", health.NewPingChecker("redis", forwarder.Ping))
		}
		monitor.Start()
	}

	errCh := make(chan error, 3)

	apiServer := api.NewServer(mgr, cat, pool, statusPropagator, api.Options{})
	go func() {
		if err := apiServer.Start(cfg.Server.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	metrics.RegisterComponent("api", true, "serving")

	var readOnly *api.Server
	if cfg.Server.ReadOnlyAddr != "" {
		readOnly = api.NewServer(mgr, cat, nil, nil, api.Options{ReadOnly: true})
		go func() {
			if err := readOnly.Start(cfg.Server.ReadOnlyAddr); err != nil {
				errCh <- fmt.Errorf("read-only API server error: %v", err)
			}
		}()
	}

	if cfg.Server.HealthAddr != "" {
		healthServer := api.NewHealthServer(mgr, Version)
		go func() {
			if err := healthServer.Start(cfg.Server.HealthAddr); err != nil {
				errCh <- fmt.Errorf("health server error: %v", err)
			}
		}()
	}

	fmt.Println()
	fmt.Println("Manager is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown in reverse order of start
	metrics.RegisterComponent("api", false, "stopped")
	if readOnly != nil {
		readOnly.Stop()
	}
	apiServer.Stop()
	if monitor != nil {
		monitor.Stop()
	}
	collector.Stop()
	if forwarder != nil {
		if err := forwarder.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if chk != nil {
		chk.Stop()
	}
	cancel()
	if err := <-poolDone; err != nil {
		logger.Warn().Err(err).Msg("Assigner pool stopped with error")
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
