package memutils

// Statistics sums the page and object footprint of one or more size classes
type Statistics struct {
	SpanCount     int
	SpanBytes     int
	ObjectCount   int
	ObjectBytes   int
	CachedObjects int
	CachedBytes   int
	RetainedSpans int
	RetainedBytes int
	OverheadBytes int
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.SpanCount += other.SpanCount
	s.SpanBytes += other.SpanBytes
	s.ObjectCount += other.ObjectCount
	s.ObjectBytes += other.ObjectBytes
	s.CachedObjects += other.CachedObjects
	s.CachedBytes += other.CachedBytes
	s.RetainedSpans += other.RetainedSpans
	s.RetainedBytes += other.RetainedBytes
	s.OverheadBytes += other.OverheadBytes
}

// InUseBytes is the number of bytes handed out to consumers: span bytes that are neither
// cached free objects nor tail waste
func (s Statistics) InUseBytes() int {
	return s.ObjectBytes - s.CachedBytes
}
