package spancache

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/spancache/residency"
)

const mib = 1024 * 1024

func (c *Cache) residencyInfo() (residency.Info, bool) {
	if c.residency == nil {
		return residency.Info{}, false
	}

	var info residency.Info
	for _, freeList := range c.freeLists {
		if freeList != nil {
			info.Add(freeList.Residency(c.residency))
		}
	}
	return info, true
}

// DumpStats writes a human-readable report of every size class to w
func (c *Cache) DumpStats(w io.Writer) {
	stats := c.Statistics()

	fmt.Fprintln(w, "------------------------------------------------")
	fmt.Fprintf(w, "MALLOC: %12d (%7.1f MiB) Bytes in use by application\n", stats.InUseBytes(), float64(stats.InUseBytes())/mib)
	fmt.Fprintf(w, "MALLOC: %12d (%7.1f MiB) Bytes in central and transfer cache freelists\n", stats.CachedBytes, float64(stats.CachedBytes)/mib)
	fmt.Fprintf(w, "MALLOC: %12d (%7.1f MiB) Bytes in live spans\n", stats.SpanBytes, float64(stats.SpanBytes)/mib)
	fmt.Fprintf(w, "MALLOC: %12d (%7.1f MiB) Bytes in retained spans\n", stats.RetainedBytes, float64(stats.RetainedBytes)/mib)
	fmt.Fprintf(w, "MALLOC: %12d (%7.1f MiB) Bytes of span metadata\n", stats.OverheadBytes, float64(stats.OverheadBytes)/mib)
	fmt.Fprintf(w, "MALLOC: %12d               Live spans\n", stats.SpanCount)

	if c.arena != nil {
		arena := c.arena.Stats()
		fmt.Fprintf(w, "MALLOC: %12d               Arena pages in use (of %d, limit %d, %d limit hits)\n",
			arena.PagesInUse, arena.ReservedPages, arena.HardLimitPages, arena.LimitHits)
	}

	info, ok := c.residencyInfo()
	if ok {
		fmt.Fprintf(w, "MALLOC: %12d               Span bytes resident, %d swapped\n", info.BytesResident, info.BytesSwapped)
	}
	fmt.Fprintln(w, "------------------------------------------------")

	fmt.Fprintln(w, "Central free lists:")
	for _, freeList := range c.freeLists {
		if freeList != nil {
			freeList.PrintStats(w)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Non-cumulative number of spans with allocated objects < N:")
	for _, freeList := range c.freeLists {
		if freeList != nil {
			freeList.PrintSpanUtilStats(w)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Number of spans that became fully free at an age < N:")
	for _, freeList := range c.freeLists {
		if freeList != nil {
			freeList.PrintSpanLifetimeStats(w)
		}
	}

	fmt.Fprintln(w)
	c.manager.Print(w)
}

// DumpStatsJSON writes the same report as DumpStats to w as a single JSON object
func (c *Cache) DumpStatsJSON(w io.Writer) error {
	writer := jwriter.NewWriter()
	root := writer.Object()

	stats := c.Statistics()
	totals := root.Name("Totals").Object()
	totals.Name("InUseBytes").Int(stats.InUseBytes())
	totals.Name("CachedObjects").Int(stats.CachedObjects)
	totals.Name("CachedBytes").Int(stats.CachedBytes)
	totals.Name("SpanCount").Int(stats.SpanCount)
	totals.Name("SpanBytes").Int(stats.SpanBytes)
	totals.Name("RetainedSpans").Int(stats.RetainedSpans)
	totals.Name("RetainedBytes").Int(stats.RetainedBytes)
	totals.Name("OverheadBytes").Int(stats.OverheadBytes)
	totals.End()

	if c.arena != nil {
		arena := c.arena.Stats()
		arenaObj := root.Name("Arena").Object()
		arenaObj.Name("ReservedPages").Int(arena.ReservedPages)
		arenaObj.Name("HardLimitPages").Int(arena.HardLimitPages)
		arenaObj.Name("PagesInUse").Int(arena.PagesInUse)
		arenaObj.Name("SpansAllocated").Int(arena.SpansAllocated)
		arenaObj.Name("SpansReleased").Int(arena.SpansReleased)
		arenaObj.Name("LimitHits").Int(arena.LimitHits)
		arenaObj.End()
	}

	info, ok := c.residencyInfo()
	if ok {
		residencyObj := root.Name("Residency").Object()
		residencyObj.Name("BytesResident").Int(info.BytesResident)
		residencyObj.Name("BytesSwapped").Int(info.BytesSwapped)
		residencyObj.End()
	}

	freeLists := root.Name("CentralFreeLists").Array()
	for _, freeList := range c.freeLists {
		if freeList == nil {
			continue
		}

		obj := freeLists.Object()
		freeList.PrintStatsJSON(&obj)
		freeList.PrintSpanUtilStatsJSON(&obj)
		freeList.PrintSpanLifetimeStatsJSON(&obj)
		obj.End()
	}
	freeLists.End()

	c.manager.PrintJSON(&root)
	root.End()

	err := writer.Error()
	if err != nil {
		return errors.Wrap(err, "could not build the stats report")
	}

	_, err = w.Write(writer.Bytes())
	return err
}
