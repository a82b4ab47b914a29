package storage

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/cuemby/claimd/pkg/conflict"
	"github.com/cuemby/claimd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Index keys are <owner id><claim id>, so a cursor seek on the owner id
// yields every claim of one resource or task.
func indexKey(owner, id int) []byte {
	return append(itob(owner), itob(id)...)
}

func indexScan(b *bolt.Bucket, owner int) []int {
	var ids []int
	prefix := itob(owner)
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, btoi(k[8:]))
	}
	return ids
}

func putClaim(tx *bolt.Tx, c *types.ResourceClaim) error {
	if err := tx.Bucket(bucketClaimsByResource).Put(indexKey(c.ResourceID, c.ID), []byte{}); err != nil {
		return err
	}
	if err := tx.Bucket(bucketClaimsByTask).Put(indexKey(c.TaskID, c.ID), []byte{}); err != nil {
		return err
	}
	return put(tx.Bucket(bucketClaims), c.ID, c)
}

func loadClaim(tx *bolt.Tx, id int) (*types.ResourceClaim, error) {
	var c types.ResourceClaim
	found, err := get(tx.Bucket(bucketClaims), id, &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFound("claim", id)
	}
	return &c, nil
}

func deleteClaim(tx *bolt.Tx, id int) error {
	c, err := loadClaim(tx, id)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketClaimsByResource).Delete(indexKey(c.ResourceID, c.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketClaimsByTask).Delete(indexKey(c.TaskID, c.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketClaims).Delete(itob(id))
}

func loadClaims(tx *bolt.Tx, ids []int) ([]*types.ResourceClaim, error) {
	claims := make([]*types.ResourceClaim, 0, len(ids))
	for _, id := range ids {
		c, err := loadClaim(tx, id)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func claimsOnResource(tx *bolt.Tx, resourceID int) ([]*types.ResourceClaim, error) {
	return loadClaims(tx, indexScan(tx.Bucket(bucketClaimsByResource), resourceID))
}

func loadResource(tx *bolt.Tx, id int) (*types.Resource, error) {
	var res types.Resource
	found, err := get(tx.Bucket(bucketResources), id, &res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFound("resource", id)
	}
	return &res, nil
}

// resourceTypes memoizes resource type lookups for the span of one transaction
type resourceTypes struct {
	tx    *bolt.Tx
	types map[int]types.ResourceType
}

func (r *resourceTypes) get(id int) (types.ResourceType, error) {
	if t, ok := r.types[id]; ok {
		return t, nil
	}
	res, err := loadResource(r.tx, id)
	if err != nil {
		return "", err
	}
	r.types[id] = res.Type
	return res.Type, nil
}

func containsType(list []types.ResourceType, t types.ResourceType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(list []types.ClaimStatus, s types.ClaimStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func selectClaims(tx *bolt.Tx, f types.ClaimFilter) ([]*types.ResourceClaim, error) {
	var candidates []*types.ResourceClaim

	switch {
	case len(f.TaskIDs) > 0:
		for _, tid := range f.TaskIDs {
			cs, err := loadClaims(tx, indexScan(tx.Bucket(bucketClaimsByTask), tid))
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, cs...)
		}
	case len(f.ResourceIDs) > 0:
		for _, rid := range f.ResourceIDs {
			cs, err := claimsOnResource(tx, rid)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, cs...)
		}
	default:
		if err := tx.Bucket(bucketClaims).ForEach(func(k, v []byte) error {
			var c types.ResourceClaim
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			candidates = append(candidates, &c)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	rt := &resourceTypes{tx: tx, types: make(map[int]types.ResourceType)}
	seen := make(map[int]bool)
	var result []*types.ResourceClaim
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		if len(f.IDs) > 0 && !containsInt(f.IDs, c.ID) {
			continue
		}
		if len(f.ResourceIDs) > 0 && !containsInt(f.ResourceIDs, c.ResourceID) {
			continue
		}
		if len(f.TaskIDs) > 0 && !containsInt(f.TaskIDs, c.TaskID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
			continue
		}
		if !conflict.InWindow(c.StartTime, c.EndTime, f.Lower, f.Upper) {
			continue
		}
		if len(f.ResourceTypes) > 0 || len(f.ExcludeTypes) > 0 {
			t, err := rt.get(c.ResourceID)
			if err != nil {
				return nil, err
			}
			if len(f.ResourceTypes) > 0 && !containsType(f.ResourceTypes, t) {
				continue
			}
			if containsType(f.ExcludeTypes, t) {
				continue
			}
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *BoltStore) GetClaim(id int) (*types.ResourceClaim, error) {
	var c *types.ResourceClaim
	err := s.db.View(func(tx *bolt.Tx) error {
		claim, err := loadClaim(tx, id)
		c = claim
		return err
	})
	return c, err
}

func (s *BoltStore) ListClaims(filter types.ClaimFilter) ([]*types.ResourceClaim, error) {
	var claims []*types.ResourceClaim
	err := s.db.View(func(tx *bolt.Tx) error {
		cs, err := selectClaims(tx, filter)
		claims = cs
		return err
	})
	return claims, err
}

func validateRequest(r *types.ClaimRequest) error {
	if r.ClaimSize <= 0 {
		return types.NewValidationError("claim on resource %d: size %d must be positive", r.ResourceID, r.ClaimSize)
	}
	if err := types.ValidateInterval(r.StartTime, r.EndTime); err != nil {
		return err
	}
	return nil
}

// InsertClaims checks and inserts a task's claims in a single write
// transaction. Requests are checked in order, each one seeing the claimed
// requests before it. A request that does not fit is stored with status
// conflict and the task is put in conflict.
func (s *BoltStore) InsertClaims(taskID int, requests []*types.ClaimRequest, owner types.Owner) ([]*types.ResourceClaim, error) {
	for _, r := range requests {
		if err := validateRequest(r); err != nil {
			return nil, err
		}
	}

	var inserted []*types.ResourceClaim
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := loadTask(tx, taskID)
		if err != nil {
			return err
		}

		resources := make(map[int]*types.Resource)
		onResource := make(map[int][]*types.ResourceClaim)
		for _, r := range requests {
			if _, ok := resources[r.ResourceID]; ok {
				continue
			}
			res, err := loadResource(tx, r.ResourceID)
			if err != nil {
				return err
			}
			existing, err := claimsOnResource(tx, r.ResourceID)
			if err != nil {
				return err
			}
			resources[r.ResourceID] = res
			onResource[r.ResourceID] = existing
		}

		claims := tx.Bucket(bucketClaims)
		inConflict := false
		for _, r := range requests {
			res := resources[r.ResourceID]
			status := types.ClaimStatusClaimed
			if !conflict.Fits(res, onResource[r.ResourceID], r.StartTime, r.EndTime, r.ClaimSize) {
				status = types.ClaimStatusConflict
				inConflict = true
			}

			id, err := assignID(claims, 0)
			if err != nil {
				return err
			}
			c := &types.ResourceClaim{
				ID:         id,
				ResourceID: r.ResourceID,
				TaskID:     taskID,
				StartTime:  r.StartTime,
				EndTime:    r.EndTime,
				ClaimSize:  r.ClaimSize,
				Status:     status,
				Username:   owner.Username,
				UserID:     owner.UserID,
				Properties: r.Properties,
			}
			if err := putClaim(tx, c); err != nil {
				return err
			}
			onResource[r.ResourceID] = append(onResource[r.ResourceID], c)
			inserted = append(inserted, c)
		}

		if inConflict && task.Status != types.TaskStatusConflict {
			task.Status = types.TaskStatusConflict
			return putTask(tx, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// conflictsTask lists the statuses in which a task follows its claims into
// conflict. Running and final tasks keep their status.
func conflictsTask(status types.TaskStatus) bool {
	switch status {
	case types.TaskStatusApproved, types.TaskStatusPrescheduled, types.TaskStatusScheduled:
		return true
	}
	return false
}

// UpdateClaims applies update to every claim matching filter. Capacity is
// only re-checked when update.Validate is set: each updated claim that is
// not tentative is checked in id order against the untouched claims and the
// updated claims already accepted, and becomes claimed or conflict.
func (s *BoltStore) UpdateClaims(filter types.ClaimFilter, update types.ClaimUpdate) ([]*types.ResourceClaim, error) {
	if update.Status != nil && !update.Status.IsValid() {
		return nil, types.NewValidationError("unknown claim status %q", *update.Status)
	}
	if update.ClaimSize != nil && *update.ClaimSize <= 0 {
		return nil, types.NewValidationError("claim size %d must be positive", *update.ClaimSize)
	}

	var updated []*types.ResourceClaim
	err := s.db.Update(func(tx *bolt.Tx) error {
		selected, err := selectClaims(tx, filter)
		if err != nil {
			return err
		}

		touched := make(map[int]bool, len(selected))
		for _, c := range selected {
			if update.StartTime != nil {
				c.StartTime = *update.StartTime
			}
			if update.EndTime != nil {
				c.EndTime = *update.EndTime
			}
			if update.ClaimSize != nil {
				c.ClaimSize = *update.ClaimSize
			}
			if update.Status != nil {
				c.Status = *update.Status
			}
			if err := types.ValidateInterval(c.StartTime, c.EndTime); err != nil {
				return err
			}
			touched[c.ID] = true
		}

		conflictTasks := make(map[int]bool)
		if update.Validate {
			if err := revalidate(tx, selected, touched, conflictTasks); err != nil {
				return err
			}
		}

		for _, c := range selected {
			if err := putClaim(tx, c); err != nil {
				return err
			}
		}

		for tid := range conflictTasks {
			task, err := loadTask(tx, tid)
			if err != nil {
				return err
			}
			if !conflictsTask(task.Status) {
				continue
			}
			task.Status = types.TaskStatusConflict
			if err := putTask(tx, task); err != nil {
				return err
			}
		}
		updated = selected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func revalidate(tx *bolt.Tx, selected []*types.ResourceClaim, touched map[int]bool, conflictTasks map[int]bool) error {
	byResource := make(map[int][]*types.ResourceClaim)
	for _, c := range selected {
		byResource[c.ResourceID] = append(byResource[c.ResourceID], c)
	}

	for rid, pending := range byResource {
		res, err := loadResource(tx, rid)
		if err != nil {
			return err
		}
		all, err := claimsOnResource(tx, rid)
		if err != nil {
			return err
		}
		var accepted []*types.ResourceClaim
		for _, c := range all {
			if !touched[c.ID] {
				accepted = append(accepted, c)
			}
		}

		sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
		for _, c := range pending {
			if c.Status == types.ClaimStatusTentative {
				continue
			}
			if conflict.Fits(res, accepted, c.StartTime, c.EndTime, c.ClaimSize) {
				c.Status = types.ClaimStatusClaimed
				accepted = append(accepted, c)
			} else {
				c.Status = types.ClaimStatusConflict
				conflictTasks[c.TaskID] = true
			}
		}
	}
	return nil
}

func (s *BoltStore) DeleteClaims(filter types.ClaimFilter) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		selected, err := selectClaims(tx, filter)
		if err != nil {
			return err
		}
		for _, c := range selected {
			if err := deleteClaim(tx, c.ID); err != nil {
				return err
			}
		}
		n = len(selected)
		return nil
	})
	return n, err
}

// ClaimableCapacity returns available capacity minus the peak claimed usage
// of the resource over [lower, upper)
func (s *BoltStore) ClaimableCapacity(resourceID int, lower, upper time.Time) (int64, error) {
	if err := types.ValidateInterval(lower, upper); err != nil {
		return 0, err
	}
	var claimable int64
	err := s.db.View(func(tx *bolt.Tx) error {
		res, err := loadResource(tx, resourceID)
		if err != nil {
			return err
		}
		claims, err := claimsOnResource(tx, resourceID)
		if err != nil {
			return err
		}
		claimable = conflict.Claimable(res, claims, lower, upper)
		return nil
	})
	return claimable, err
}

func (s *BoltStore) OverlappingClaims(claimID int) ([]*types.ResourceClaim, error) {
	var overlapping []*types.ResourceClaim
	err := s.db.View(func(tx *bolt.Tx) error {
		target, err := loadClaim(tx, claimID)
		if err != nil {
			return err
		}
		claims, err := claimsOnResource(tx, target.ResourceID)
		if err != nil {
			return err
		}
		overlapping = conflict.Overlapping(target, claims)
		return nil
	})
	return overlapping, err
}
