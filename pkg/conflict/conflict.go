package conflict

import (
	"sort"
	"time"

	"github.com/cuemby/claimd/pkg/types"
)

// Overlaps is the half-open intersection test used for capacity:
// [aStart, aEnd) and [bStart, bEnd) share at least one instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// InWindow is the inclusive window test used by claim and task queries.
// A nil bound is unbounded.
func InWindow(start, end time.Time, lower, upper *time.Time) bool {
	if lower != nil && end.Before(*lower) {
		return false
	}
	if upper != nil && start.After(*upper) {
		return false
	}
	return true
}

type edge struct {
	at    time.Time
	delta int64
}

// MaxUsage returns the largest total size of claimed claims that are active at
// the same instant within [lower, upper). Claims with another status do not
// consume capacity.
func MaxUsage(claims []*types.ResourceClaim, lower, upper time.Time) int64 {
	edges := make([]edge, 0, 2*len(claims))
	for _, c := range claims {
		if c.Status != types.ClaimStatusClaimed {
			continue
		}
		if !Overlaps(c.StartTime, c.EndTime, lower, upper) {
			continue
		}
		start := c.StartTime
		if start.Before(lower) {
			start = lower
		}
		end := c.EndTime
		if end.After(upper) {
			end = upper
		}
		edges = append(edges, edge{at: start, delta: c.ClaimSize}, edge{at: end, delta: -c.ClaimSize})
	}

	// Ends sort before starts at the same instant: back-to-back claims never stack.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	var current, peak int64
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

// Claimable is the capacity of res still free over [lower, upper) given the
// claims on it. Inactive resources have nothing to offer.
func Claimable(res *types.Resource, claims []*types.ResourceClaim, lower, upper time.Time) int64 {
	if res == nil || !res.Active {
		return 0
	}
	return res.AvailableCapacity - MaxUsage(claims, lower, upper)
}

// Fits reports whether a request of size fits on res next to claims
func Fits(res *types.Resource, claims []*types.ResourceClaim, start, end time.Time, size int64) bool {
	return size <= Claimable(res, claims, start, end)
}

// Overlapping returns every claim other than target on target's resource whose
// interval intersects target's. The relation is symmetric.
func Overlapping(target *types.ResourceClaim, claims []*types.ResourceClaim) []*types.ResourceClaim {
	var result []*types.ResourceClaim
	for _, c := range claims {
		if c.ID == target.ID || c.ResourceID != target.ResourceID {
			continue
		}
		if Overlaps(target.StartTime, target.EndTime, c.StartTime, c.EndTime) {
			result = append(result, c)
		}
	}
	return result
}

// NextStart returns the earliest end time among blocking claims that is
// strictly after probe. ok is false when no blocking claim ends later.
func NextStart(probe time.Time, blocking []*types.ResourceClaim) (next time.Time, ok bool) {
	for _, c := range blocking {
		if !c.EndTime.After(probe) {
			continue
		}
		if !ok || c.EndTime.Before(next) {
			next = c.EndTime
			ok = true
		}
	}
	return next, ok
}
