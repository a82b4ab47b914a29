package storage

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketResources      = []byte("resources")
	bucketResourceGroups = []byte("resource_groups")
	bucketSpecifications = []byte("specifications")
	bucketTasks          = []byte("tasks")
	bucketClaims         = []byte("claims")

	// Index buckets
	bucketTasksByOTDB      = []byte("tasks_by_otdb")
	bucketTasksByMoM       = []byte("tasks_by_mom")
	bucketClaimsByResource = []byte("claims_by_resource")
	bucketClaimsByTask     = []byte("claims_by_task")

	allBuckets = [][]byte{
		bucketResources,
		bucketResourceGroups,
		bucketSpecifications,
		bucketTasks,
		bucketClaims,
		bucketTasksByOTDB,
		bucketTasksByMoM,
		bucketClaimsByResource,
		bucketClaimsByTask,
	}
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "claimd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Wrapf(err, "failed to create bucket %s", bucket)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// assignID gives obj a fresh sequence id when it has none, and keeps the
// bucket sequence ahead of explicitly chosen ids.
func assignID(b *bolt.Bucket, id int) (int, error) {
	if id == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return 0, err
		}
		return int(seq), nil
	}
	if uint64(id) > b.Sequence() {
		if err := b.SetSequence(uint64(id)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func put(b *bolt.Bucket, id int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(id), data)
}

func get(b *bolt.Bucket, id int, v interface{}) (bool, error) {
	data := b.Get(itob(id))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func addUnique(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsInt(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Resource operations

func (s *BoltStore) CreateResource(res *types.Resource) error {
	if res.Name == "" {
		return types.NewValidationError("resource name is required")
	}
	if res.TotalCapacity < 0 || res.AvailableCapacity < 0 {
		return types.NewValidationError("resource %s: capacities must be non-negative", res.Name)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		id, err := assignID(b, res.ID)
		if err != nil {
			return err
		}
		res.ID = id

		groups := tx.Bucket(bucketResourceGroups)
		for _, gid := range res.GroupIDs {
			var group types.ResourceGroup
			found, err := get(groups, gid, &group)
			if err != nil {
				return err
			}
			if !found {
				return types.NotFound("resource group", gid)
			}
			group.ResourceIDs = addUnique(group.ResourceIDs, res.ID)
			if err := put(groups, group.ID, &group); err != nil {
				return err
			}
		}
		return put(b, res.ID, res)
	})
}

func (s *BoltStore) GetResource(id int) (*types.Resource, error) {
	var res types.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketResources), id, &res)
		if err != nil {
			return err
		}
		if !found {
			return types.NotFound("resource", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *BoltStore) ListResources() ([]*types.Resource, error) {
	var resources []*types.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		return b.ForEach(func(k, v []byte) error {
			var res types.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			resources = append(resources, &res)
			return nil
		})
	})
	return resources, err
}

// UpdateResource applies an availability change. available <= total is not
// enforced here; that is the admin override path.
func (s *BoltStore) UpdateResource(id int, update types.ResourceUpdate) (*types.Resource, error) {
	var res types.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		found, err := get(b, id, &res)
		if err != nil {
			return err
		}
		if !found {
			return types.NotFound("resource", id)
		}
		if update.Active != nil {
			res.Active = *update.Active
		}
		if update.AvailableCapacity != nil {
			if *update.AvailableCapacity < 0 {
				return types.NewValidationError("available capacity must be non-negative")
			}
			res.AvailableCapacity = *update.AvailableCapacity
		}
		if update.TotalCapacity != nil {
			if *update.TotalCapacity < 0 {
				return types.NewValidationError("total capacity must be non-negative")
			}
			res.TotalCapacity = *update.TotalCapacity
		}
		return put(b, id, &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Resource group operations

func (s *BoltStore) CreateResourceGroup(group *types.ResourceGroup) error {
	if group.Name == "" {
		return types.NewValidationError("resource group name is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResourceGroups)
		id, err := assignID(b, group.ID)
		if err != nil {
			return err
		}
		group.ID = id

		for _, pid := range group.ParentIDs {
			var parent types.ResourceGroup
			found, err := get(b, pid, &parent)
			if err != nil {
				return err
			}
			if !found {
				return types.NotFound("resource group", pid)
			}
			parent.ChildIDs = addUnique(parent.ChildIDs, group.ID)
			if err := put(b, parent.ID, &parent); err != nil {
				return err
			}
		}
		return put(b, group.ID, group)
	})
}

func (s *BoltStore) GetResourceGroup(id int) (*types.ResourceGroup, error) {
	var group types.ResourceGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketResourceGroups), id, &group)
		if err != nil {
			return err
		}
		if !found {
			return types.NotFound("resource group", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListResourceGroups() ([]*types.ResourceGroup, error) {
	var groups []*types.ResourceGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResourceGroups).ForEach(func(k, v []byte) error {
			var group types.ResourceGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

func (s *BoltStore) AddChildGroup(parentID, childID int) error {
	if parentID == childID {
		return types.NewValidationError("group %d cannot be its own child", parentID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResourceGroups)
		var parent, child types.ResourceGroup
		if found, err := get(b, parentID, &parent); err != nil || !found {
			if err != nil {
				return err
			}
			return types.NotFound("resource group", parentID)
		}
		if found, err := get(b, childID, &child); err != nil || !found {
			if err != nil {
				return err
			}
			return types.NotFound("resource group", childID)
		}
		parent.ChildIDs = addUnique(parent.ChildIDs, childID)
		child.ParentIDs = addUnique(child.ParentIDs, parentID)
		if err := put(b, parentID, &parent); err != nil {
			return err
		}
		return put(b, childID, &child)
	})
}

func (s *BoltStore) AddResourceToGroup(groupID, resourceID int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		groups := tx.Bucket(bucketResourceGroups)
		resources := tx.Bucket(bucketResources)
		var group types.ResourceGroup
		var res types.Resource
		if found, err := get(groups, groupID, &group); err != nil || !found {
			if err != nil {
				return err
			}
			return types.NotFound("resource group", groupID)
		}
		if found, err := get(resources, resourceID, &res); err != nil || !found {
			if err != nil {
				return err
			}
			return types.NotFound("resource", resourceID)
		}
		group.ResourceIDs = addUnique(group.ResourceIDs, resourceID)
		res.GroupIDs = addUnique(res.GroupIDs, groupID)
		if err := put(groups, groupID, &group); err != nil {
			return err
		}
		return put(resources, resourceID, &res)
	})
}

// Snapshot operations

// Dump copies the full state in one read transaction
func (s *BoltStore) Dump() (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			var res types.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			snap.Resources = append(snap.Resources, &res)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketResourceGroups).ForEach(func(k, v []byte) error {
			var group types.ResourceGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			snap.ResourceGroups = append(snap.ResourceGroups, &group)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSpecifications).ForEach(func(k, v []byte) error {
			var spec types.Specification
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			snap.Specifications = append(snap.Specifications, &spec)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			snap.Tasks = append(snap.Tasks, &task)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketClaims).ForEach(func(k, v []byte) error {
			var c types.ResourceClaim
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			snap.Claims = append(snap.Claims, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore replaces the full state with the snapshot's content
func (s *BoltStore) Restore(snap *Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return errors.Wrapf(err, "failed to drop bucket %s", name)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return errors.Wrapf(err, "failed to create bucket %s", name)
			}
		}

		resources := tx.Bucket(bucketResources)
		for _, res := range snap.Resources {
			if _, err := assignID(resources, res.ID); err != nil {
				return err
			}
			if err := put(resources, res.ID, res); err != nil {
				return err
			}
		}
		groups := tx.Bucket(bucketResourceGroups)
		for _, group := range snap.ResourceGroups {
			if _, err := assignID(groups, group.ID); err != nil {
				return err
			}
			if err := put(groups, group.ID, group); err != nil {
				return err
			}
		}
		specs := tx.Bucket(bucketSpecifications)
		for _, spec := range snap.Specifications {
			if _, err := assignID(specs, spec.ID); err != nil {
				return err
			}
			if err := put(specs, spec.ID, spec); err != nil {
				return err
			}
		}
		tasks := tx.Bucket(bucketTasks)
		for _, task := range snap.Tasks {
			if _, err := assignID(tasks, task.ID); err != nil {
				return err
			}
			if err := putTask(tx, task); err != nil {
				return err
			}
		}
		claims := tx.Bucket(bucketClaims)
		sort.Slice(snap.Claims, func(i, j int) bool { return snap.Claims[i].ID < snap.Claims[j].ID })
		for _, c := range snap.Claims {
			if _, err := assignID(claims, c.ID); err != nil {
				return err
			}
			if err := putClaim(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}
