/*
Package conflict implements the capacity arithmetic behind claim insertion.

It has no state and no I/O: callers (the bolt store inside its write
transaction, the schedulers when probing) hand it a resource and the claims on
that resource, and it answers whether a new claim fits.

# Claimable capacity

	claimable(R, lower, upper) = R.AvailableCapacity − maxUsage(R, lower, upper)

maxUsage is computed with an exact sweep: every claimed claim intersecting the
window contributes a +size edge at its (clipped) start and a −size edge at its
(clipped) end; the peak of the running sum is the answer. Ends are processed
before starts at equal timestamps so that back-to-back claims do not stack.
This is deliberately not the conservative "sum of all overlapping claims"
approximation: two claims that overlap the window but not each other only
count once each.

Only claims with status claimed consume capacity. tentative and conflict
claims are recorded for inspection but never block another claim.

# Overlap

Capacity uses half-open intervals [start, end) via Overlaps. Queries use the
inclusive InWindow test. Overlapping reports every other claim on the same
resource that intersects the target, regardless of status, so that
"A overlaps B" implies "B overlaps A".
*/
package conflict
