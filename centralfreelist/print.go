package centralfreelist

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

func (c *CentralFreeList) printClassHeader(w io.Writer) {
	fmt.Fprintf(w, "class %3d [ %8d bytes ] : ", c.sizeClass, c.objectSize)
}

// PrintStats writes a one-line summary of the free list's span accounting
func (c *CentralFreeList) PrintStats(w io.Writer) {
	stats := c.GetSpanStats()
	length := c.Length()

	c.printClassHeader(w)
	fmt.Fprintf(w, "%6d free objects, %6d live spans, %6d retained, %8d requested, %8d returned, obj_capacity %8d, prob_returned %.4f\n",
		length, stats.NumLiveSpans(), stats.NumRetained, stats.NumSpansRequested, stats.NumSpansReturned,
		stats.ObjCapacity, stats.ProbReturned())
}

// PrintSpanUtilStats writes the non-cumulative number of live spans with allocated objects < N
func (c *CentralFreeList) PrintSpanUtilStats(w io.Writer) {
	stats := c.GetSpanStats()

	c.printClassHeader(w)
	for i := 0; i < stats.NumUtilBuckets; i++ {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%6d < %d", stats.UtilBuckets[i], 1<<i)
	}
	fmt.Fprintln(w)
}

// PrintSpanLifetimeStats writes the number of spans that became fully free at an age < N
func (c *CentralFreeList) PrintSpanLifetimeStats(w io.Writer) {
	lifetimes := c.GetLifetimeStats()

	c.printClassHeader(w)
	for i, bound := range LifetimeBucketBounds {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%6d < %s", lifetimes.Buckets[i], bound.String())
	}
	fmt.Fprintf(w, ", %6d >= %s\n", lifetimes.Buckets[len(LifetimeBucketBounds)], LifetimeBucketBounds[len(LifetimeBucketBounds)-1].String())
}

// PrintStatsJSON writes the free list's span accounting as fields of obj
func (c *CentralFreeList) PrintStatsJSON(obj *jwriter.ObjectState) {
	stats := c.GetSpanStats()
	length := c.Length()
	overhead := c.OverheadBytes()

	obj.Name("SizeClass").Int(c.sizeClass)
	obj.Name("ObjectSize").Int(c.objectSize)
	obj.Name("ObjectsPerSpan").Int(c.objectsPerSpan)
	obj.Name("Length").Int(length)
	obj.Name("NumSpansRequested").Int(stats.NumSpansRequested)
	obj.Name("NumSpansReturned").Int(stats.NumSpansReturned)
	obj.Name("NumRetained").Int(stats.NumRetained)
	obj.Name("NumLiveSpans").Int(stats.NumLiveSpans())
	obj.Name("ObjCapacity").Int(stats.ObjCapacity)
	obj.Name("ProbReturned").Float64(stats.ProbReturned())
	obj.Name("OverheadBytes").Int(overhead)
}

// PrintSpanUtilStatsJSON writes the span utilization histogram as a SpanUtilization array
// field of obj
func (c *CentralFreeList) PrintSpanUtilStatsJSON(obj *jwriter.ObjectState) {
	stats := c.GetSpanStats()

	arr := obj.Name("SpanUtilization").Array()
	for i := 0; i < stats.NumUtilBuckets; i++ {
		bucket := arr.Object()
		bucket.Name("AllocatedLessThan").Int(1 << i)
		bucket.Name("Spans").Int(stats.UtilBuckets[i])
		bucket.End()
	}
	arr.End()
}

// PrintSpanLifetimeStatsJSON writes the span lifetime histogram as a SpanLifetime array
// field of obj. The final bucket has no upper bound and omits AgeLessThanMs.
func (c *CentralFreeList) PrintSpanLifetimeStatsJSON(obj *jwriter.ObjectState) {
	lifetimes := c.GetLifetimeStats()

	arr := obj.Name("SpanLifetime").Array()
	for i := 0; i < NumLifetimeBuckets; i++ {
		bucket := arr.Object()
		if i < len(LifetimeBucketBounds) {
			bucket.Name("AgeLessThanMs").Int(int(LifetimeBucketBounds[i].Milliseconds()))
		}
		bucket.Name("Spans").Int(lifetimes.Buckets[i])
		bucket.End()
	}
	arr.End()
}
