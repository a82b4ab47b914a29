package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(5, 10*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, p.CalculateNextDelay(1))
	assert.Equal(t, 20*time.Millisecond, p.CalculateNextDelay(2))
	assert.Equal(t, 40*time.Millisecond, p.CalculateNextDelay(3))
	assert.Equal(t, 50*time.Millisecond, p.CalculateNextDelay(4))
	assert.Equal(t, done, p.CalculateNextDelay(5))
}

func TestRetry(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, time.Millisecond)
	transient := &types.TransientRPCError{Method: "SetStatus", Err: errors.New("unavailable")}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			return transient
		})
		assert.True(t, types.IsTransient(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			return types.NewValidationError("bad id")
		})
		assert.True(t, errors.Is(err, types.ErrValidation))
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Retry(ctx, NewRetryPolicy(10, time.Hour, time.Hour), func(ctx context.Context) error {
			calls++
			return transient
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  codes.Code
		check func(error) bool
	}{
		{"not found", types.NotFound("task", 3), codes.NotFound, func(err error) bool { return errors.Is(err, types.ErrNotFound) }},
		{"validation", types.NewValidationError("endtime before starttime"), codes.InvalidArgument, func(err error) bool { return errors.Is(err, types.ErrValidation) }},
		{"not leader", errors.Wrap(types.ErrNotLeader, "current leader: 10.0.0.1:7946"), codes.FailedPrecondition, func(err error) bool { return errors.Is(err, types.ErrNotLeader) }},
		{"transient", &types.TransientRPCError{Method: "m", Err: errors.New("x")}, codes.Unavailable, types.IsTransient},
		{"internal", errors.New("boom"), codes.Internal, func(err error) bool { return err != nil && !types.IsTransient(err) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ToStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))
			assert.True(t, tt.check(FromStatus("/claimd.RADB/Test", st)))
		})
	}

	assert.NoError(t, ToStatus(nil))
	assert.NoError(t, FromStatus("m", nil))
	assert.True(t, types.IsTransient(FromStatus("m", status.Error(codes.DeadlineExceeded, "slow"))))
}

func TestJSONCodec(t *testing.T) {
	var c JSONCodec
	data, err := c.Marshal(map[string]int{"otdb_id": 7})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, 7, out["otdb_id"])
	assert.Equal(t, "json", c.Name())
}
