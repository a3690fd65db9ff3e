package metrics

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Reservoir maintains a fixed-capacity sample of observed durations used to
// approximate high percentiles without retaining the full history.
//
// Replacement rule: once the reservoir is full, each new value replaces a
// uniformly chosen slot with probability capacity/totalObservedSoFar. This is
// a deliberate simplification of textbook reservoir sampling (Algorithm R)
// and is kept bit-for-bit compatible with the original estimator; the two
// rules are not numerically equivalent.
type Reservoir struct {
	capacity int
	values   []time.Duration
	rng      *rand.Rand
}

// NewReservoir creates a reservoir with the given capacity. The random source
// is injectable so percentile behavior is reproducible under test.
func NewReservoir(capacity int, rng *rand.Rand) *Reservoir {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Reservoir{
		capacity: capacity,
		values:   make([]time.Duration, 0, capacity),
		rng:      rng,
	}
}

// Observe offers a new duration to the sample. totalSoFar is the total number
// of observations recorded for the subject, including this one.
//
// Not safe for concurrent use; callers serialize per subject.
func (r *Reservoir) Observe(d time.Duration, totalSoFar int64) {
	if len(r.values) < r.capacity {
		r.values = append(r.values, d)
		return
	}
	if totalSoFar <= 0 {
		return
	}
	if r.rng.Float64() < float64(r.capacity)/float64(totalSoFar) {
		r.values[r.rng.Intn(r.capacity)] = d
	}
}

// Full reports whether the reservoir has reached capacity.
func (r *Reservoir) Full() bool {
	return len(r.values) >= r.capacity
}

// Len returns the number of sampled values.
func (r *Reservoir) Len() int {
	return len(r.values)
}

// Percentile computes the q-th percentile (0 < q <= 1) of the current sample
// using nearest-rank on a sorted copy. Returns zero when the sample is empty.
func (r *Reservoir) Percentile(q float64) time.Duration {
	if len(r.values) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(r.values))
	copy(sorted, r.values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
