package conflict

import (
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func claim(id int, start, end int, size int64, status types.ClaimStatus) *types.ResourceClaim {
	return &types.ResourceClaim{
		ID:         id,
		ResourceID: 1,
		StartTime:  at(start),
		EndTime:    at(end),
		ClaimSize:  size,
		Status:     status,
	}
}

func TestMaxUsage(t *testing.T) {
	tests := []struct {
		name   string
		claims []*types.ResourceClaim
		lower  int
		upper  int
		want   int64
	}{
		{
			name:   "no claims",
			claims: nil,
			lower:  0, upper: 60,
			want: 0,
		},
		{
			name: "single claim",
			claims: []*types.ResourceClaim{
				claim(1, 0, 60, 120, types.ClaimStatusClaimed),
			},
			lower: 0, upper: 60,
			want: 120,
		},
		{
			name: "disjoint claims inside window count once each",
			claims: []*types.ResourceClaim{
				claim(1, 0, 10, 100, types.ClaimStatusClaimed),
				claim(2, 20, 30, 80, types.ClaimStatusClaimed),
			},
			lower: 0, upper: 60,
			want: 100,
		},
		{
			name: "stacked claims",
			claims: []*types.ResourceClaim{
				claim(1, 0, 30, 100, types.ClaimStatusClaimed),
				claim(2, 20, 40, 80, types.ClaimStatusClaimed),
				claim(3, 35, 50, 10, types.ClaimStatusClaimed),
			},
			lower: 0, upper: 60,
			want: 180,
		},
		{
			name: "back to back claims do not stack",
			claims: []*types.ResourceClaim{
				claim(1, 0, 30, 100, types.ClaimStatusClaimed),
				claim(2, 30, 60, 100, types.ClaimStatusClaimed),
			},
			lower: 0, upper: 60,
			want: 100,
		},
		{
			name: "only claimed status consumes",
			claims: []*types.ResourceClaim{
				claim(1, 0, 60, 100, types.ClaimStatusConflict),
				claim(2, 0, 60, 50, types.ClaimStatusTentative),
				claim(3, 0, 60, 10, types.ClaimStatusClaimed),
			},
			lower: 0, upper: 60,
			want: 10,
		},
		{
			name: "claims outside the window are ignored",
			claims: []*types.ResourceClaim{
				claim(1, 0, 30, 100, types.ClaimStatusClaimed),
				claim(2, 40, 60, 70, types.ClaimStatusClaimed),
			},
			lower: 30, upper: 40,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxUsage(tt.claims, at(tt.lower), at(tt.upper)))
		})
	}
}

func TestClaimable(t *testing.T) {
	res := &types.Resource{ID: 1, TotalCapacity: 200, AvailableCapacity: 200, Active: true}
	claims := []*types.ResourceClaim{claim(1, 0, 60, 120, types.ClaimStatusClaimed)}

	// Same window as the existing claim: 200 - 120.
	assert.Equal(t, int64(80), Claimable(res, claims, at(0), at(60)))
	assert.False(t, Fits(res, claims, at(0), at(60), 90))

	// Disjoint window starting where the claim ends.
	assert.Equal(t, int64(200), Claimable(res, claims, at(60), at(120)))
	assert.True(t, Fits(res, claims, at(60), at(120), 90))

	res.Active = false
	assert.Equal(t, int64(0), Claimable(res, claims, at(60), at(120)))
	assert.Equal(t, int64(0), Claimable(nil, claims, at(60), at(120)))
}

func TestOverlappingIsSymmetric(t *testing.T) {
	claims := []*types.ResourceClaim{
		claim(1, 0, 30, 10, types.ClaimStatusClaimed),
		claim(2, 20, 40, 10, types.ClaimStatusConflict),
		claim(3, 40, 50, 10, types.ClaimStatusClaimed),
		claim(4, 25, 45, 10, types.ClaimStatusClaimed),
	}
	other := claim(5, 0, 60, 10, types.ClaimStatusClaimed)
	other.ResourceID = 2
	claims = append(claims, other)

	index := func(cs []*types.ResourceClaim) map[int]bool {
		m := make(map[int]bool)
		for _, c := range cs {
			m[c.ID] = true
		}
		return m
	}

	for _, a := range claims {
		for b := range index(Overlapping(a, claims)) {
			var cb *types.ResourceClaim
			for _, c := range claims {
				if c.ID == b {
					cb = c
				}
			}
			assert.True(t, index(Overlapping(cb, claims))[a.ID], "claim %d overlaps %d but not vice versa", a.ID, b)
		}
	}

	assert.Equal(t, map[int]bool{2: true, 4: true}, index(Overlapping(claims[0], claims)))
	assert.Empty(t, Overlapping(other, claims))
}

func TestInWindow(t *testing.T) {
	lower, upper := at(10), at(20)

	assert.True(t, InWindow(at(0), at(10), &lower, &upper), "touching lower bound is inclusive")
	assert.True(t, InWindow(at(20), at(30), &lower, &upper), "touching upper bound is inclusive")
	assert.False(t, InWindow(at(0), at(9), &lower, &upper))
	assert.False(t, InWindow(at(21), at(30), &lower, &upper))
	assert.True(t, InWindow(at(0), at(1), nil, nil))
	assert.True(t, InWindow(at(100), at(101), &lower, nil))
}

func TestNextStart(t *testing.T) {
	blocking := []*types.ResourceClaim{
		claim(1, 0, 5, 10, types.ClaimStatusClaimed),
		claim(2, 0, 15, 10, types.ClaimStatusClaimed),
		claim(3, 0, 10, 10, types.ClaimStatusClaimed),
	}

	next, ok := NextStart(at(0), blocking)
	assert.True(t, ok)
	assert.Equal(t, at(5), next)

	next, ok = NextStart(at(5), blocking)
	assert.True(t, ok)
	assert.Equal(t, at(10), next)

	_, ok = NextStart(at(15), blocking)
	assert.False(t, ok)
}
