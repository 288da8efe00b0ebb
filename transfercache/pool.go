package transfercache

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// CapacityPool is the global budget of transfer cache slots shared by every size class. A
// grant is a single compare-and-swap over the outstanding total, so concurrent Grow and
// Shrink calls from different classes can never double-grant or double-release a slot.
type CapacityPool struct {
	budget  int64
	granted int64
}

// NewCapacityPool creates a pool that will never have more than budget slots granted at once
func NewCapacityPool(budget int) (*CapacityPool, error) {
	if budget < 0 {
		return nil, errors.Newf("the capacity pool budget must not be negative, but was %d", budget)
	}

	return &CapacityPool{budget: int64(budget)}, nil
}

// TryGrant reserves count slots if the budget allows it
func (p *CapacityPool) TryGrant(count int) bool {
	if count < 0 {
		return false
	}

	for {
		currentVal := atomic.LoadInt64(&p.granted)
		targetVal := currentVal + int64(count)

		if targetVal > p.budget {
			return false
		}

		if atomic.CompareAndSwapInt64(&p.granted, currentVal, targetVal) {
			return true
		}
	}
}

// Release returns count previously granted slots to the pool
func (p *CapacityPool) Release(count int) {
	newVal := atomic.AddInt64(&p.granted, int64(-count))

	if newVal < 0 {
		panic(errors.AssertionFailedf("capacity pool grants went negative after releasing %d slots", count))
	}
}

func (p *CapacityPool) Budget() int {
	return int(p.budget)
}

// Granted is the number of slots currently granted
func (p *CapacityPool) Granted() int {
	return int(atomic.LoadInt64(&p.granted))
}

// Available is the number of slots that could still be granted
func (p *CapacityPool) Available() int {
	return int(p.budget - atomic.LoadInt64(&p.granted))
}

func (p *CapacityPool) Validate() error {
	granted := atomic.LoadInt64(&p.granted)
	if granted < 0 || granted > p.budget {
		return errors.Newf("the capacity pool has %d slots granted, outside of its budget of %d", granted, p.budget)
	}

	return nil
}
