package storage

import (
	"encoding/json"

	"github.com/cuemby/claimd/pkg/conflict"
	"github.com/cuemby/claimd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func validateTask(task *types.Task) error {
	if !task.Type.IsValid() {
		return types.NewValidationError("unknown task type %q", task.Type)
	}
	if !task.Status.IsValid() {
		return types.NewValidationError("unknown task status %q", task.Status)
	}
	return types.ValidateInterval(task.StartTime, task.EndTime)
}

func loadTask(tx *bolt.Tx, id int) (*types.Task, error) {
	var task types.Task
	found, err := get(tx.Bucket(bucketTasks), id, &task)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFound("task", id)
	}
	return &task, nil
}

func putTask(tx *bolt.Tx, task *types.Task) error {
	if task.OTDBID != 0 {
		if err := tx.Bucket(bucketTasksByOTDB).Put(itob(task.OTDBID), itob(task.ID)); err != nil {
			return err
		}
	}
	if task.MomID != 0 {
		if err := tx.Bucket(bucketTasksByMoM).Put(itob(task.MomID), itob(task.ID)); err != nil {
			return err
		}
	}
	return put(tx.Bucket(bucketTasks), task.ID, task)
}

func lookupIndex(tx *bolt.Tx, bucket []byte, key int) (int, bool) {
	v := tx.Bucket(bucket).Get(itob(key))
	if v == nil {
		return 0, false
	}
	return btoi(v), true
}

// UpsertTask inserts a task and its specification, or updates both when a
// task with the same OTDB id already exists. Links and ids are preserved on
// update.
func (s *BoltStore) UpsertTask(spec *types.Specification, task *types.Task) (*types.Task, error) {
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if err := types.ValidateInterval(spec.StartTime, spec.EndTime); err != nil {
		return nil, err
	}

	var stored *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		specs := tx.Bucket(bucketSpecifications)
		tasks := tx.Bucket(bucketTasks)

		existing := (*types.Task)(nil)
		if task.OTDBID != 0 {
			if id, ok := lookupIndex(tx, bucketTasksByOTDB, task.OTDBID); ok {
				t, err := loadTask(tx, id)
				if err != nil {
					return err
				}
				existing = t
			}
		}

		if existing != nil {
			spec.ID = existing.SpecificationID
			if existing.MomID != 0 && existing.MomID != task.MomID {
				if err := tx.Bucket(bucketTasksByMoM).Delete(itob(existing.MomID)); err != nil {
					return err
				}
			}
			task.ID = existing.ID
			task.PredecessorIDs = existing.PredecessorIDs
			task.SuccessorIDs = existing.SuccessorIDs
		} else {
			specID, err := assignID(specs, 0)
			if err != nil {
				return err
			}
			spec.ID = specID
			taskID, err := assignID(tasks, 0)
			if err != nil {
				return err
			}
			task.ID = taskID
		}
		task.SpecificationID = spec.ID

		if err := put(specs, spec.ID, spec); err != nil {
			return err
		}
		if err := putTask(tx, task); err != nil {
			return err
		}
		copied := *task
		stored = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BoltStore) GetTask(id int) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := loadTask(tx, id)
		task = t
		return err
	})
	return task, err
}

func (s *BoltStore) GetTaskByOTDBID(otdbID int) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		id, ok := lookupIndex(tx, bucketTasksByOTDB, otdbID)
		if !ok {
			return types.NotFound("task with otdb id", otdbID)
		}
		t, err := loadTask(tx, id)
		task = t
		return err
	})
	return task, err
}

func (s *BoltStore) GetTaskByMoMID(momID int) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		id, ok := lookupIndex(tx, bucketTasksByMoM, momID)
		if !ok {
			return types.NotFound("task with mom id", momID)
		}
		t, err := loadTask(tx, id)
		task = t
		return err
	})
	return task, err
}

func matchTask(t *types.Task, f types.TaskFilter) bool {
	if len(f.IDs) > 0 && !containsInt(f.IDs, t.ID) {
		return false
	}
	if len(f.OTDBIDs) > 0 && !containsInt(f.OTDBIDs, t.OTDBID) {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, typ := range f.Types {
			if t.Type == typ {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if t.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Cluster != "" && t.Cluster != f.Cluster {
		return false
	}
	return conflict.InWindow(t.StartTime, t.EndTime, f.Lower, f.Upper)
}

func (s *BoltStore) ListTasks(filter types.TaskFilter) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if matchTask(&task, filter) {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

// UpdateTask changes status and/or window. Status transitions are not
// checked here: the external task-control system is authoritative.
func (s *BoltStore) UpdateTask(update types.TaskUpdate) (*types.Task, error) {
	var task *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := loadTask(tx, update.TaskID)
		if err != nil {
			return err
		}
		if update.Status != nil {
			if !update.Status.IsValid() {
				return types.NewValidationError("unknown task status %q", *update.Status)
			}
			t.Status = *update.Status
		}
		if update.StartTime != nil {
			t.StartTime = *update.StartTime
		}
		if update.EndTime != nil {
			t.EndTime = *update.EndTime
		}
		if err := types.ValidateInterval(t.StartTime, t.EndTime); err != nil {
			return err
		}
		task = t
		return putTask(tx, t)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SetPredecessors replaces a task's predecessor set and keeps the
// predecessors' successor lists in sync.
func (s *BoltStore) SetPredecessors(taskID int, predecessorIDs []int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := loadTask(tx, taskID)
		if err != nil {
			return err
		}

		var wanted []int
		for _, pid := range predecessorIDs {
			if pid == taskID {
				return types.NewValidationError("task %d cannot be its own predecessor", taskID)
			}
			wanted = addUnique(wanted, pid)
		}

		for _, old := range task.PredecessorIDs {
			if containsInt(wanted, old) {
				continue
			}
			pred, err := loadTask(tx, old)
			if err != nil {
				continue
			}
			pred.SuccessorIDs = removeID(pred.SuccessorIDs, taskID)
			if err := putTask(tx, pred); err != nil {
				return err
			}
		}

		for _, pid := range wanted {
			pred, err := loadTask(tx, pid)
			if err != nil {
				return err
			}
			pred.SuccessorIDs = addUnique(pred.SuccessorIDs, taskID)
			if err := putTask(tx, pred); err != nil {
				return err
			}
		}

		task.PredecessorIDs = wanted
		return putTask(tx, task)
	})
}

func (s *BoltStore) GetSpecification(id int) (*types.Specification, error) {
	var spec types.Specification
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketSpecifications), id, &spec)
		if err != nil {
			return err
		}
		if !found {
			return types.NotFound("specification", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// DeleteSpecification deletes a specification, the tasks built from it and
// all of their claims.
func (s *BoltStore) DeleteSpecification(id int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		specs := tx.Bucket(bucketSpecifications)
		if specs.Get(itob(id)) == nil {
			return types.NotFound("specification", id)
		}

		var owned []*types.Task
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.SpecificationID == id {
				owned = append(owned, &task)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, task := range owned {
			if err := deleteTask(tx, task); err != nil {
				return err
			}
		}
		return specs.Delete(itob(id))
	})
}

func deleteTask(tx *bolt.Tx, task *types.Task) error {
	claimIDs := indexScan(tx.Bucket(bucketClaimsByTask), task.ID)
	for _, cid := range claimIDs {
		if err := deleteClaim(tx, cid); err != nil {
			return err
		}
	}

	for _, pid := range task.PredecessorIDs {
		pred, err := loadTask(tx, pid)
		if err != nil {
			continue
		}
		pred.SuccessorIDs = removeID(pred.SuccessorIDs, task.ID)
		if err := putTask(tx, pred); err != nil {
			return err
		}
	}
	for _, sid := range task.SuccessorIDs {
		succ, err := loadTask(tx, sid)
		if err != nil {
			continue
		}
		succ.PredecessorIDs = removeID(succ.PredecessorIDs, task.ID)
		if err := putTask(tx, succ); err != nil {
			return err
		}
	}

	if task.OTDBID != 0 {
		if err := tx.Bucket(bucketTasksByOTDB).Delete(itob(task.OTDBID)); err != nil {
			return err
		}
	}
	if task.MomID != 0 {
		if err := tx.Bucket(bucketTasksByMoM).Delete(itob(task.MomID)); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketTasks).Delete(itob(task.ID))
}
