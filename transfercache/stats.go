package transfercache

// Stats is a snapshot of a TransferCache's occupancy and hit counters
type Stats struct {
	InsertHits           int
	InsertMisses         int
	InsertNonBatchMisses int
	RemoveHits           int
	RemoveMisses         int
	RemoveNonBatchMisses int

	Used        int
	Capacity    int
	MaxCapacity int
}

func (s *Stats) Add(other *Stats) {
	s.InsertHits += other.InsertHits
	s.InsertMisses += other.InsertMisses
	s.InsertNonBatchMisses += other.InsertNonBatchMisses
	s.RemoveHits += other.RemoveHits
	s.RemoveMisses += other.RemoveMisses
	s.RemoveNonBatchMisses += other.RemoveNonBatchMisses
	s.Used += other.Used
	s.Capacity += other.Capacity
	s.MaxCapacity += other.MaxCapacity
}

// Misses is the total number of inserts and removes the cache could not serve
func (s Stats) Misses() int {
	return s.InsertMisses + s.RemoveMisses
}

// GetStats returns a snapshot of the cache's counters
func (c *TransferCache) GetStats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Stats{
		InsertHits:           c.insertHits,
		InsertMisses:         c.insertMisses,
		InsertNonBatchMisses: c.insertNonBatchMisses,
		RemoveHits:           c.removeHits,
		RemoveMisses:         c.removeMisses,
		RemoveNonBatchMisses: c.removeNonBatchMisses,
		Used:                 c.used,
		Capacity:             c.capacity,
		MaxCapacity:          c.maxCapacity,
	}
}
