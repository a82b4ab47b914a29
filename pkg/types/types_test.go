package types

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateInterval(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		wantErr bool
	}{
		{name: "end after start", start: t0, end: t0.Add(time.Hour), wantErr: false},
		{name: "end equals start", start: t0, end: t0, wantErr: true},
		{name: "end before start", start: t0, end: t0.Add(-time.Second), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInterval(tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{TaskStatusPrepared, TaskStatusApproved, true},
		{TaskStatusApproved, TaskStatusOnHold, true},
		{TaskStatusPrescheduled, TaskStatusScheduled, true},
		{TaskStatusPrescheduled, TaskStatusConflict, true},
		{TaskStatusScheduled, TaskStatusQueued, true},
		{TaskStatusQueued, TaskStatusActive, true},
		{TaskStatusActive, TaskStatusCompleting, true},
		{TaskStatusCompleting, TaskStatusFinished, true},
		{TaskStatusActive, TaskStatusAborted, true},
		{TaskStatusFinished, TaskStatusActive, false},
		{TaskStatusObsolete, TaskStatusApproved, false},
		{TaskStatusPrepared, TaskStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusLiterals(t *testing.T) {
	// External systems key off these exact strings.
	assert.Equal(t, "on_hold", string(TaskStatusOnHold))
	assert.Equal(t, "completing", string(TaskStatusCompleting))
	assert.Equal(t, "conflict", string(ClaimStatusConflict))
	assert.Equal(t, "tentative", string(ClaimStatusTentative))
	assert.Equal(t, "maintenance", string(TaskTypeMaintenance))

	for _, s := range AllTaskStatuses {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, TaskStatus("running").IsValid())
}

func TestErrorTaxonomy(t *testing.T) {
	err := NotFound("task", 42)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "task 42")

	tErr := errors.Wrap(&TransientRPCError{Method: "GetTreeInfo", Err: errors.New("deadline exceeded")}, "propagate")
	assert.True(t, IsTransient(tErr))
	assert.False(t, IsTransient(NewValidationError("bad")))

	pErr := &PropagationError{Target: "otdb", Err: ErrNotFound}
	assert.True(t, errors.Is(pErr, ErrNotFound))
}

func TestTaskDuration(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := &Task{StartTime: t0, EndTime: t0.Add(90 * time.Minute), Type: TaskTypePipeline}
	assert.Equal(t, 90*time.Minute, task.Duration())
	assert.True(t, task.IsPipeline())
}
