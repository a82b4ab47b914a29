package manager

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/storage"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Manager is the single mutation path for resources, tasks and claims.
// Writes are commands applied through the raft log, or directly to the FSM
// in standalone mode. Reads are served from the local store.
type Manager struct {
	nodeID       string
	bindAddr     string
	dataDir      string
	standalone   bool
	applyTimeout time.Duration

	raft         *raft.Raft
	fsm          *ClaimFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
	logger       zerolog.Logger

	leaderMu    sync.Mutex
	leaderHooks []func(isLeader bool)
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Standalone applies commands without raft
	Standalone   bool
	ApplyTimeout time.Duration
}

// ClusterJoiner asks a running leader to add this node as a voter
type ClusterJoiner interface {
	JoinCluster(ctx context.Context, nodeID, addr, token string) error
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	// Create BoltDB store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create store")
	}
	metrics.RegisterComponent("storage", true, "open")

	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = 5 * time.Second
	}

	// Create event broker
	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		standalone:   cfg.Standalone,
		applyTimeout: applyTimeout,
		fsm:          NewClaimFSM(store),
		store:        store,
		tokenManager: NewTokenManager(),
		eventBroker:  eventBroker,
		logger:       log.WithComponent("manager"),
		stopCh:       make(chan struct{}),
	}

	if cfg.Standalone {
		metrics.RegisterComponent("raft", true, "standalone")
	}

	return m, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned for LAN failover well under 10s.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// startRaft creates the raft instance with a TCP transport and BoltDB log
func (m *Manager) startRaft() (raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve bind address")
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transport")
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot store")
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create log store")
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stable store")
	}

	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create raft")
	}
	m.raft = r
	go m.watchLeadership(r.LeaderCh())
	return transport, nil
}

func (m *Manager) bootstrapCluster(transport raft.Transport) error {
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return errors.Wrap(err, "failed to bootstrap cluster")
	}
	metrics.RegisterComponent("raft", true, "bootstrapped")
	return nil
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	if m.standalone {
		return errors.New("standalone manager has no raft cluster")
	}
	transport, err := m.startRaft()
	if err != nil {
		return err
	}
	m.logger.Info().Str("node_id", m.nodeID).Str("bind_addr", m.bindAddr).Msg("Bootstrapping raft cluster")
	return m.bootstrapCluster(transport)
}

// BootstrapInMemory bootstraps a single-node cluster on in-memory raft
// stores and transport. The assignment state itself stays in BoltDB.
func (m *Manager) BootstrapInMemory() error {
	if m.standalone {
		return errors.New("standalone manager has no raft cluster")
	}
	_, transport := raft.NewInmemTransport(raft.ServerAddress(m.nodeID))
	store := raft.NewInmemStore()
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, store, store, raft.NewInmemSnapshotStore(), transport)
	if err != nil {
		return errors.Wrap(err, "failed to create raft")
	}
	m.raft = r
	go m.watchLeadership(r.LeaderCh())
	return m.bootstrapCluster(transport)
}

// Join adds this manager to an existing cluster through the leader
func (m *Manager) Join(ctx context.Context, leader ClusterJoiner, token string) error {
	if m.standalone {
		return errors.New("standalone manager cannot join a cluster")
	}
	if _, err := m.startRaft(); err != nil {
		return err
	}

	m.logger.Info().Str("node_id", m.nodeID).Str("bind_addr", m.bindAddr).Msg("Joining raft cluster")
	if err := leader.JoinCluster(ctx, m.nodeID, m.bindAddr, token); err != nil {
		return errors.Wrap(err, "failed to join cluster via RPC")
	}
	metrics.RegisterComponent("raft", true, "joined")
	return nil
}

// WaitForLeader blocks until some node is leader or the timeout passes
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	if m.raft == nil {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr, _ := m.raft.LeaderWithID(); addr != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.New("timed out waiting for raft leader")
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return errors.New("raft not initialized")
	}

	if !m.IsLeader() {
		return m.notLeader()
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return errors.Wrap(err, "failed to add voter")
	}

	m.logger.Info().Str("voter_id", nodeID).Str("address", address).Msg("Added voter to cluster")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return errors.New("raft not initialized")
	}

	if !m.IsLeader() {
		return m.notLeader()
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return errors.Wrap(err, "failed to remove server")
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, errors.New("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to get configuration")
	}

	return future.Configuration().Servers, nil
}

// NodeID returns the raft id of this manager
func (m *Manager) NodeID() string {
	return m.nodeID
}

// OnLeadershipChange registers fn to run every time this node gains or
// loses raft leadership. A standalone manager never calls it.
func (m *Manager) OnLeadershipChange(fn func(isLeader bool)) {
	m.leaderMu.Lock()
	defer m.leaderMu.Unlock()
	m.leaderHooks = append(m.leaderHooks, fn)
}

func (m *Manager) watchLeadership(ch <-chan bool) {
	for {
		select {
		case isLeader := <-ch:
			state := "follower"
			if isLeader {
				state = "leader"
			}
			m.logger.Info().Str("node_id", m.nodeID).Str("state", state).Msg("Raft leadership changed")
			metrics.RegisterComponent("raft", true, state)

			m.leaderMu.Lock()
			hooks := append(([]func(bool))(nil), m.leaderHooks...)
			m.leaderMu.Unlock()
			for _, fn := range hooks {
				fn(isLeader)
			}
		case <-m.stopCh:
			return
		}
	}
}

// IsLeader returns true if this manager may apply commands: it is the raft
// leader, or it runs standalone
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return m.standalone
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()
	if servers, err := m.GetClusterServers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// Publish publishes an event to all subscribers
func (m *Manager) Publish(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command and returns the FSM's result value
func (m *Manager) Apply(cmd Command) (interface{}, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RaftApplyDuration, cmd.Op)

	var resp interface{}
	if m.raft == nil {
		if !m.standalone {
			return nil, errors.Wrap(types.ErrNotLeader, "raft not initialized")
		}
		resp = m.fsm.applyCommand(cmd)
	} else {
		data, err := json.Marshal(cmd)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal command")
		}

		future := m.raft.Apply(data, m.applyTimeout)
		if err := future.Error(); err != nil {
			if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
				return nil, m.notLeader()
			}
			return nil, errors.Wrap(err, "failed to apply command")
		}
		resp = future.Response()
	}

	// Check if apply returned an error
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *Manager) notLeader() error {
	return errors.Wrapf(types.ErrNotLeader, "current leader: %s", m.LeaderAddr())
}

func (m *Manager) apply(op string, payload interface{}) (interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// Resource writes

// CreateResource registers a resource; an explicit id is kept
func (m *Manager) CreateResource(res *types.Resource) (*types.Resource, error) {
	v, err := m.apply(OpCreateResource, res)
	if err != nil {
		return nil, err
	}
	return v.(*types.Resource), nil
}

// UpdateResource changes availability or capacity of a resource
func (m *Manager) UpdateResource(id int, update types.ResourceUpdate) (*types.Resource, error) {
	v, err := m.apply(OpUpdateResource, updateResourcePayload{ID: id, Update: update})
	if err != nil {
		return nil, err
	}
	res := v.(*types.Resource)
	m.Publish(&events.Event{
		Type:    events.EventResourceUpdated,
		Message: "resource " + res.Name + " updated",
		Metadata: map[string]string{
			"resource_id":        strconv.Itoa(res.ID),
			"active":             strconv.FormatBool(res.Active),
			"available_capacity": strconv.FormatInt(res.AvailableCapacity, 10),
			"total_capacity":     strconv.FormatInt(res.TotalCapacity, 10),
		},
	})
	return res, nil
}

// CreateResourceGroup registers a resource group
func (m *Manager) CreateResourceGroup(group *types.ResourceGroup) (*types.ResourceGroup, error) {
	v, err := m.apply(OpCreateResourceGroup, group)
	if err != nil {
		return nil, err
	}
	return v.(*types.ResourceGroup), nil
}

// AddChildGroup links a child group below a parent
func (m *Manager) AddChildGroup(parentID, childID int) error {
	_, err := m.apply(OpAddChildGroup, groupLinkPayload{ParentID: parentID, ChildID: childID})
	return err
}

// AddResourceToGroup makes a resource member of a group
func (m *Manager) AddResourceToGroup(groupID, resourceID int) error {
	_, err := m.apply(OpAddResourceToGroup, groupLinkPayload{GroupID: groupID, ResourceID: resourceID})
	return err
}

// Task writes

// UpsertTask inserts or updates a task and its specification by OTDB id
func (m *Manager) UpsertTask(spec *types.Specification, task *types.Task) (*types.Task, error) {
	v, err := m.apply(OpUpsertTask, upsertTaskPayload{Specification: spec, Task: task})
	if err != nil {
		return nil, err
	}
	return v.(*types.Task), nil
}

// UpdateTask changes a task's status and/or window
func (m *Manager) UpdateTask(update types.TaskUpdate) (*types.Task, error) {
	v, err := m.apply(OpUpdateTask, update)
	if err != nil {
		return nil, err
	}
	return v.(*types.Task), nil
}

// SetTaskStatus is UpdateTask for a status change only
func (m *Manager) SetTaskStatus(taskID int, status types.TaskStatus) (*types.Task, error) {
	return m.UpdateTask(types.TaskUpdate{TaskID: taskID, Status: &status})
}

// SetPredecessors replaces a task's predecessor links
func (m *Manager) SetPredecessors(taskID int, predecessorIDs []int) error {
	_, err := m.apply(OpSetPredecessors, predecessorsPayload{TaskID: taskID, PredecessorIDs: predecessorIDs})
	return err
}

// DeleteSpecification deletes a specification with its tasks and claims
func (m *Manager) DeleteSpecification(specID int) error {
	_, err := m.apply(OpDeleteSpecification, specID)
	return err
}

// Claim writes

// InsertClaims atomically checks and inserts a task's claims
func (m *Manager) InsertClaims(taskID int, requests []*types.ClaimRequest, owner types.Owner) ([]*types.ResourceClaim, error) {
	v, err := m.apply(OpInsertClaims, insertClaimsPayload{TaskID: taskID, Requests: requests, Owner: owner})
	if err != nil {
		return nil, err
	}
	claims, _ := v.([]*types.ResourceClaim)
	for _, c := range claims {
		metrics.ClaimsInserted.WithLabelValues(string(c.Status)).Inc()
	}
	return claims, nil
}

// UpdateClaims applies a bulk claim mutation
func (m *Manager) UpdateClaims(filter types.ClaimFilter, update types.ClaimUpdate) ([]*types.ResourceClaim, error) {
	v, err := m.apply(OpUpdateClaims, updateClaimsPayload{Filter: filter, Update: update})
	if err != nil {
		return nil, err
	}
	claims, _ := v.([]*types.ResourceClaim)
	return claims, nil
}

// DeleteClaims deletes the claims matching filter
func (m *Manager) DeleteClaims(filter types.ClaimFilter) (int, error) {
	v, err := m.apply(OpDeleteClaims, filter)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// Reads (local store)

func (m *Manager) GetResource(id int) (*types.Resource, error) {
	return m.store.GetResource(id)
}

func (m *Manager) ListResources() ([]*types.Resource, error) {
	return m.store.ListResources()
}

func (m *Manager) GetResourceGroup(id int) (*types.ResourceGroup, error) {
	return m.store.GetResourceGroup(id)
}

func (m *Manager) ListResourceGroups() ([]*types.ResourceGroup, error) {
	return m.store.ListResourceGroups()
}

func (m *Manager) GetTask(id int) (*types.Task, error) {
	return m.store.GetTask(id)
}

func (m *Manager) GetTaskByOTDBID(otdbID int) (*types.Task, error) {
	return m.store.GetTaskByOTDBID(otdbID)
}

func (m *Manager) GetTaskByMoMID(momID int) (*types.Task, error) {
	return m.store.GetTaskByMoMID(momID)
}

func (m *Manager) ListTasks(filter types.TaskFilter) ([]*types.Task, error) {
	return m.store.ListTasks(filter)
}

func (m *Manager) GetSpecification(id int) (*types.Specification, error) {
	return m.store.GetSpecification(id)
}

func (m *Manager) GetClaim(id int) (*types.ResourceClaim, error) {
	return m.store.GetClaim(id)
}

// GetClaims lists claims; the time window is inclusive
func (m *Manager) GetClaims(filter types.ClaimFilter) ([]*types.ResourceClaim, error) {
	return m.store.ListClaims(filter)
}

// ClaimableCapacity is available capacity minus peak claimed usage over [lower, upper)
func (m *Manager) ClaimableCapacity(resourceID int, lower, upper time.Time) (int64, error) {
	return m.store.ClaimableCapacity(resourceID, lower, upper)
}

// GetOverlappingClaims returns the claims on the same resource intersecting claimID
func (m *Manager) GetOverlappingClaims(claimID int) ([]*types.ResourceClaim, error) {
	return m.store.OverlappingClaims(claimID)
}

// GetOverlappingTasks returns the distinct owners of the overlapping claims
func (m *Manager) GetOverlappingTasks(claimID int) ([]*types.Task, error) {
	claims, err := m.store.OverlappingClaims(claimID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var tasks []*types.Task
	for _, c := range claims {
		if seen[c.TaskID] {
			continue
		}
		seen[c.TaskID] = true
		task, err := m.store.GetTask(c.TaskID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Join tokens

// GenerateJoinToken generates a new token for adding a manager
func (m *Manager) GenerateJoinToken() (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, m.notLeader()
	}

	// Token valid for 24 hours
	return m.tokenManager.GenerateToken(24 * time.Hour)
}

// ValidateJoinToken validates a join token
func (m *Manager) ValidateJoinToken(token string) error {
	return m.tokenManager.ValidateToken(token)
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	// Stop event broker
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return errors.Wrap(err, "failed to shutdown raft")
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return errors.Wrap(err, "failed to close store")
		}
		metrics.RegisterComponent("storage", false, "closed")
	}

	return nil
}
