package manager

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/cuemby/claimd/pkg/storage"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/pkg/errors"
)

// Command operations
const (
	OpCreateResource      = "create_resource"
	OpUpdateResource      = "update_resource"
	OpCreateResourceGroup = "create_resource_group"
	OpAddChildGroup       = "add_child_group"
	OpAddResourceToGroup  = "add_resource_to_group"
	OpUpsertTask          = "upsert_task"
	OpUpdateTask          = "update_task"
	OpSetPredecessors     = "set_predecessors"
	OpDeleteSpecification = "delete_specification"
	OpInsertClaims        = "insert_claims"
	OpUpdateClaims        = "update_claims"
	OpDeleteClaims        = "delete_claims"
)

// ClaimFSM implements the Raft Finite State Machine for claimd's assignment state.
// Apply must be deterministic: every value it stores, timestamps included,
// comes from the command payload.
type ClaimFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewClaimFSM creates a new FSM instance
func NewClaimFSM(store storage.Store) *ClaimFSM {
	return &ClaimFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type updateResourcePayload struct {
	ID     int                  `json:"id"`
	Update types.ResourceUpdate `json:"update"`
}

type groupLinkPayload struct {
	ParentID   int `json:"parent_id,omitempty"`
	ChildID    int `json:"child_id,omitempty"`
	GroupID    int `json:"group_id,omitempty"`
	ResourceID int `json:"resource_id,omitempty"`
}

type upsertTaskPayload struct {
	Specification *types.Specification `json:"specification"`
	Task          *types.Task          `json:"task"`
}

type predecessorsPayload struct {
	TaskID         int   `json:"task_id"`
	PredecessorIDs []int `json:"predecessor_ids"`
}

type insertClaimsPayload struct {
	TaskID   int                   `json:"task_id"`
	Requests []*types.ClaimRequest `json:"requests"`
	Owner    types.Owner           `json:"owner"`
}

type updateClaimsPayload struct {
	Filter types.ClaimFilter `json:"filter"`
	Update types.ClaimUpdate `json:"update"`
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *ClaimFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return errors.Wrap(err, "failed to unmarshal command")
	}
	return f.applyCommand(cmd)
}

// applyCommand returns the operation's result value, or an error
func (f *ClaimFSM) applyCommand(cmd Command) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Resource operations
	case OpCreateResource:
		var res types.Resource
		if err := json.Unmarshal(cmd.Data, &res); err != nil {
			return err
		}
		if err := f.store.CreateResource(&res); err != nil {
			return err
		}
		return &res

	case OpUpdateResource:
		var p updateResourcePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return result(f.store.UpdateResource(p.ID, p.Update))

	case OpCreateResourceGroup:
		var group types.ResourceGroup
		if err := json.Unmarshal(cmd.Data, &group); err != nil {
			return err
		}
		if err := f.store.CreateResourceGroup(&group); err != nil {
			return err
		}
		return &group

	case OpAddChildGroup:
		var p groupLinkPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.AddChildGroup(p.ParentID, p.ChildID)

	case OpAddResourceToGroup:
		var p groupLinkPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.AddResourceToGroup(p.GroupID, p.ResourceID)

	// Task operations
	case OpUpsertTask:
		var p upsertTaskPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if p.Specification == nil || p.Task == nil {
			return types.NewValidationError("upsert needs a specification and a task")
		}
		return result(f.store.UpsertTask(p.Specification, p.Task))

	case OpUpdateTask:
		var update types.TaskUpdate
		if err := json.Unmarshal(cmd.Data, &update); err != nil {
			return err
		}
		return result(f.store.UpdateTask(update))

	case OpSetPredecessors:
		var p predecessorsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.SetPredecessors(p.TaskID, p.PredecessorIDs)

	case OpDeleteSpecification:
		var specID int
		if err := json.Unmarshal(cmd.Data, &specID); err != nil {
			return err
		}
		return f.store.DeleteSpecification(specID)

	// Claim operations
	case OpInsertClaims:
		var p insertClaimsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return result(f.store.InsertClaims(p.TaskID, p.Requests, p.Owner))

	case OpUpdateClaims:
		var p updateClaimsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return result(f.store.UpdateClaims(p.Filter, p.Update))

	case OpDeleteClaims:
		var filter types.ClaimFilter
		if err := json.Unmarshal(cmd.Data, &filter); err != nil {
			return err
		}
		return result(f.store.DeleteClaims(filter))

	default:
		return errors.Errorf("unknown command: %s", cmd.Op)
	}
}

// result collapses a (value, error) pair into one FSM response
func result(v interface{}, err error) interface{} {
	if err != nil {
		return err
	}
	return v
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *ClaimFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap, err := f.store.Dump()
	if err != nil {
		return nil, errors.Wrap(err, "failed to dump store")
	}
	return &ClaimSnapshot{state: snap}, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *ClaimFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap storage.Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return errors.Wrap(err, "failed to decode snapshot")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store.Restore(&snap)
}

// ClaimSnapshot represents a point-in-time snapshot of assignment state
type ClaimSnapshot struct {
	state *storage.Snapshot
}

// Persist writes the snapshot to the given SnapshotSink
func (s *ClaimSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		// Encode snapshot as JSON
		if err := json.NewEncoder(sink).Encode(s.state); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *ClaimSnapshot) Release() {}
