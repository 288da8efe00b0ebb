package transfercache

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Print writes a one-line summary of the cache's occupancy and counters
func (c *TransferCache) Print(w io.Writer) {
	stats := c.GetStats()

	fmt.Fprintf(w, "class %3d [ batch %3d ] : %6d used, %6d capacity, %6d max capacity, %8d insert hits, %8d insert misses (%8d partial), %8d remove hits, %8d remove misses (%8d partial)\n",
		c.sizeClass, c.batchSize, stats.Used, stats.Capacity, stats.MaxCapacity,
		stats.InsertHits, stats.InsertMisses, stats.InsertNonBatchMisses,
		stats.RemoveHits, stats.RemoveMisses, stats.RemoveNonBatchMisses)
}

// PrintJSON writes the cache's occupancy and counters as fields of obj
func (c *TransferCache) PrintJSON(obj *jwriter.ObjectState) {
	stats := c.GetStats()

	obj.Name("SizeClass").Int(c.sizeClass)
	obj.Name("BatchSize").Int(c.batchSize)
	obj.Name("Used").Int(stats.Used)
	obj.Name("Capacity").Int(stats.Capacity)
	obj.Name("MaxCapacity").Int(stats.MaxCapacity)
	obj.Name("InsertHits").Int(stats.InsertHits)
	obj.Name("InsertMisses").Int(stats.InsertMisses)
	obj.Name("InsertNonBatchMisses").Int(stats.InsertNonBatchMisses)
	obj.Name("RemoveHits").Int(stats.RemoveHits)
	obj.Name("RemoveMisses").Int(stats.RemoveMisses)
	obj.Name("RemoveNonBatchMisses").Int(stats.RemoveNonBatchMisses)
}
