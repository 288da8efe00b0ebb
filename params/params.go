// Package params holds the tunables shared by the central free lists and transfer caches.
// A Parameters value is built once at startup and handed to every component by pointer;
// components treat it as read-only.
package params

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
)

const (
	defaultBackgroundProcessSleepInterval = time.Second
	defaultTransferCacheBudget            = 1 << 20
	defaultPerClassMaxCapacityBatches     = 64
	defaultInitialCapacityBatches         = 2
	defaultSpanReleaseInterval            = 10 * time.Second
)

// Parameters are the runtime tunables of the cache hierarchy
type Parameters struct {
	// BackgroundProcessSleepInterval is how long the background driver sleeps between
	// maintenance passes
	BackgroundProcessSleepInterval time.Duration
	// BackgroundProcessActionsEnabled turns the background driver's maintenance passes on
	// or off
	BackgroundProcessActionsEnabled bool

	// TransferCacheBudget is the total number of object slots the elastic capacity pool
	// may grant across every size class's transfer cache
	TransferCacheBudget int
	// PerClassMaxCapacityBatches is the largest capacity, in batches, that a single transfer
	// cache may grow to
	PerClassMaxCapacityBatches int
	// InitialCapacityBatches is the capacity, in batches, each transfer cache starts with
	InitialCapacityBatches int
	// ResizeSizeClassMaxCapacity scales each class's max capacity so that small objects get
	// more batches than large ones
	ResizeSizeClassMaxCapacity bool
	// PlunderEnabled controls whether maintenance passes evict idle transfer cache objects
	PlunderEnabled bool

	// RetainedEmptySpans is the number of fully-free spans each central free list may park
	// instead of returning them to the page allocator. 0 releases spans immediately.
	RetainedEmptySpans int
	// SpanReleaseInterval is how long a parked span may stay parked before a maintenance
	// pass returns it to the page allocator
	SpanReleaseInterval time.Duration

	// HeapSizeHardLimitPages caps the number of pages the default page arena will hand out.
	// 0 means no limit beyond the arena's reservation.
	HeapSizeHardLimitPages int
	// ArenaReservedPages is the number of pages the default page arena maps up front. 0
	// uses the arena's default.
	ArenaReservedPages int
}

// Defaults returns the parameters used when the consumer provides none
func Defaults() Parameters {
	return Parameters{
		BackgroundProcessSleepInterval:  defaultBackgroundProcessSleepInterval,
		BackgroundProcessActionsEnabled: true,
		TransferCacheBudget:             defaultTransferCacheBudget,
		PerClassMaxCapacityBatches:      defaultPerClassMaxCapacityBatches,
		InitialCapacityBatches:          defaultInitialCapacityBatches,
		ResizeSizeClassMaxCapacity:      true,
		PlunderEnabled:                  true,
		RetainedEmptySpans:              0,
		SpanReleaseInterval:             defaultSpanReleaseInterval,
	}
}

// FillDefaults replaces zero-valued durations and sizes with their defaults. Boolean
// switches are left untouched.
func (p *Parameters) FillDefaults() {
	defaults := Defaults()

	if p.BackgroundProcessSleepInterval == 0 {
		p.BackgroundProcessSleepInterval = defaults.BackgroundProcessSleepInterval
	}
	if p.TransferCacheBudget == 0 {
		p.TransferCacheBudget = defaults.TransferCacheBudget
	}
	if p.PerClassMaxCapacityBatches == 0 {
		p.PerClassMaxCapacityBatches = defaults.PerClassMaxCapacityBatches
	}
	if p.InitialCapacityBatches == 0 {
		p.InitialCapacityBatches = defaults.InitialCapacityBatches
	}
	if p.SpanReleaseInterval == 0 {
		p.SpanReleaseInterval = defaults.SpanReleaseInterval
	}
}

func (p *Parameters) Validate() error {
	if p.BackgroundProcessSleepInterval < 0 {
		return errors.Newf("BackgroundProcessSleepInterval must not be negative, but was %s", p.BackgroundProcessSleepInterval)
	}
	if p.TransferCacheBudget < 0 {
		return errors.Newf("TransferCacheBudget must not be negative, but was %d", p.TransferCacheBudget)
	}
	err := memutils.CheckRange(p.InitialCapacityBatches, 1, p.PerClassMaxCapacityBatches, "InitialCapacityBatches")
	if err != nil {
		return errors.Wrap(err, "InitialCapacityBatches must be at least 1 and no more than PerClassMaxCapacityBatches")
	}
	if p.RetainedEmptySpans < 0 {
		return errors.Newf("RetainedEmptySpans must not be negative, but was %d", p.RetainedEmptySpans)
	}
	if p.SpanReleaseInterval < 0 {
		return errors.Newf("SpanReleaseInterval must not be negative, but was %s", p.SpanReleaseInterval)
	}
	if p.HeapSizeHardLimitPages < 0 {
		return errors.Newf("HeapSizeHardLimitPages must not be negative, but was %d", p.HeapSizeHardLimitPages)
	}
	if p.ArenaReservedPages < 0 {
		return errors.Newf("ArenaReservedPages must not be negative, but was %d", p.ArenaReservedPages)
	}

	return nil
}

// MaxCapacityBatches returns the max transfer cache capacity, in batches, for a class whose
// objects are objectSize bytes
func (p *Parameters) MaxCapacityBatches(objectSize int) int {
	batches := p.PerClassMaxCapacityBatches
	if !p.ResizeSizeClassMaxCapacity {
		return batches
	}

	// Large objects get a quarter of the batches, mid-sized objects half
	switch {
	case objectSize > 16*1024:
		batches /= 4
	case objectSize > 1024:
		batches /= 2
	}

	if batches < p.InitialCapacityBatches {
		batches = p.InitialCapacityBatches
	}
	return batches
}
