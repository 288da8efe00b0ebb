package centralfreelist

import (
	"math/bits"
	"time"
)

const (
	// NumLists is the number of prioritized lists spans with free objects are sorted into
	NumLists int = 8

	// MaxUtilBuckets is enough utilization buckets for a span holding sizeclass.MaxObjectsPerSpan
	// objects
	MaxUtilBuckets int = 17
)

// LifetimeBucketBounds are the upper bounds of the span lifetime histogram. Spans that lived
// longer than the last bound land in a final, unbounded bucket.
var LifetimeBucketBounds = [...]time.Duration{
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
	10 * time.Second,
	100 * time.Second,
	1000 * time.Second,
}

// NumLifetimeBuckets includes the unbounded bucket
const NumLifetimeBuckets = len(LifetimeBucketBounds) + 1

// utilBucket is the histogram bucket for a span with the given number of allocated objects.
// Bucket i counts spans with allocated objects < 1<<i and at least 1<<(i-1).
func utilBucket(allocated int) int {
	return bits.Len(uint(allocated))
}

// numUtilBuckets is the number of buckets needed to hold every fill level of a span
func numUtilBuckets(objectsPerSpan int) int {
	return bits.Len(uint(objectsPerSpan)) + 1
}

func lifetimeBucket(age time.Duration) int {
	for i, bound := range LifetimeBucketBounds {
		if age < bound {
			return i
		}
	}

	return len(LifetimeBucketBounds)
}

// SpanStats is a snapshot of a CentralFreeList's span accounting
type SpanStats struct {
	NumSpansRequested int
	NumSpansReturned  int
	NumRetained       int
	ObjCapacity       int

	// UtilBuckets holds the non-cumulative number of live spans with allocated objects
	// < 1<<i. Only the first NumUtilBuckets entries are meaningful.
	UtilBuckets    [MaxUtilBuckets]int
	NumUtilBuckets int
}

// NumLiveSpans is the number of spans holding capacity: requested, not returned, not parked
func (s SpanStats) NumLiveSpans() int {
	return s.NumSpansRequested - s.NumSpansReturned - s.NumRetained
}

// ProbReturned is the fraction of requested spans that have been returned to the page heap
func (s SpanStats) ProbReturned() float64 {
	if s.NumSpansRequested == 0 {
		return 0
	}

	return float64(s.NumSpansReturned) / float64(s.NumSpansRequested)
}

// LifetimeStats is a histogram of the ages of spans when they became fully free
type LifetimeStats struct {
	Buckets [NumLifetimeBuckets]int
}

func (s LifetimeStats) Total() int {
	total := 0
	for _, count := range s.Buckets {
		total += count
	}
	return total
}
