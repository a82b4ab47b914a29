package types

// TaskStatus is a step of the task lifecycle. The literals are shared with
// external systems and must not change.
type TaskStatus string

const (
	TaskStatusPrepared     TaskStatus = "prepared"
	TaskStatusApproved     TaskStatus = "approved"
	TaskStatusOnHold       TaskStatus = "on_hold"
	TaskStatusPrescheduled TaskStatus = "prescheduled"
	TaskStatusScheduled    TaskStatus = "scheduled"
	TaskStatusConflict     TaskStatus = "conflict"
	TaskStatusError        TaskStatus = "error"
	TaskStatusQueued       TaskStatus = "queued"
	TaskStatusActive       TaskStatus = "active"
	TaskStatusCompleting   TaskStatus = "completing"
	TaskStatusFinished     TaskStatus = "finished"
	TaskStatusAborted      TaskStatus = "aborted"
	TaskStatusObsolete     TaskStatus = "obsolete"
)

// AllTaskStatuses lists every known status
var AllTaskStatuses = []TaskStatus{
	TaskStatusPrepared, TaskStatusApproved, TaskStatusOnHold, TaskStatusPrescheduled,
	TaskStatusScheduled, TaskStatusConflict, TaskStatusError, TaskStatusQueued,
	TaskStatusActive, TaskStatusCompleting, TaskStatusFinished, TaskStatusAborted,
	TaskStatusObsolete,
}

var taskStatusTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPrepared:     {TaskStatusApproved, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusApproved:     {TaskStatusPrescheduled, TaskStatusScheduled, TaskStatusConflict, TaskStatusError, TaskStatusOnHold, TaskStatusPrepared, TaskStatusApproved, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusOnHold:       {TaskStatusApproved, TaskStatusPrepared, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusPrescheduled: {TaskStatusScheduled, TaskStatusConflict, TaskStatusError, TaskStatusApproved, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusScheduled:    {TaskStatusQueued, TaskStatusApproved, TaskStatusPrescheduled, TaskStatusConflict, TaskStatusError, TaskStatusScheduled, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusConflict:     {TaskStatusApproved, TaskStatusPrescheduled, TaskStatusScheduled, TaskStatusConflict, TaskStatusError, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusError:        {TaskStatusApproved, TaskStatusPrescheduled, TaskStatusPrepared, TaskStatusError, TaskStatusAborted, TaskStatusObsolete},
	TaskStatusQueued:       {TaskStatusActive, TaskStatusScheduled, TaskStatusAborted, TaskStatusError, TaskStatusObsolete},
	TaskStatusActive:       {TaskStatusCompleting, TaskStatusFinished, TaskStatusAborted, TaskStatusError},
	TaskStatusCompleting:   {TaskStatusFinished, TaskStatusAborted, TaskStatusError},
	TaskStatusFinished:     {TaskStatusObsolete},
	TaskStatusAborted:      {TaskStatusObsolete, TaskStatusApproved},
	TaskStatusObsolete:     {},
}

// CanTransition reports whether a task may move from one status to another
func CanTransition(from, to TaskStatus) bool {
	for _, s := range taskStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known status literal
func (s TaskStatus) IsValid() bool {
	_, ok := taskStatusTransitions[s]
	return ok
}

// IsRunning is true for tasks that are queued for or in execution
func (s TaskStatus) IsRunning() bool {
	return s == TaskStatusQueued || s == TaskStatusActive || s == TaskStatusCompleting
}

// IsFinal is true for statuses that end the lifecycle
func (s TaskStatus) IsFinal() bool {
	return s == TaskStatusFinished || s == TaskStatusAborted || s == TaskStatusObsolete
}

// IsUnscheduled is true for statuses that hold no resources
func (s TaskStatus) IsUnscheduled() bool {
	switch s {
	case TaskStatusPrepared, TaskStatusApproved, TaskStatusOnHold, TaskStatusObsolete, TaskStatusError:
		return true
	}
	return false
}

// IsValid reports whether t is a known task type literal
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeObservation, TaskTypePipeline, TaskTypeReservation, TaskTypeMaintenance:
		return true
	}
	return false
}

// IsValid reports whether s is a known claim status literal
func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimStatusTentative, ClaimStatusClaimed, ClaimStatusConflict:
		return true
	}
	return false
}

// IsValid reports whether t is a known resource type literal
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTypeStorage, ResourceTypeBandwidth, ResourceTypeCompute, ResourceTypeRCU:
		return true
	}
	return false
}
