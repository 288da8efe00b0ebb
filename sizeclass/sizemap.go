package sizeclass

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
)

const (
	// batchTargetBytes is the number of bytes a batch of small objects should roughly cover
	batchTargetBytes = 64 * 1024
	// maxDefaultBatchSize caps the batch size chosen by BatchSizeFor
	maxDefaultBatchSize = 32
)

var defaultSizes = []int{
	8, 16, 32, 48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224, 240, 256,
	288, 320, 352, 384, 416, 448, 480, 512, 576, 640, 704, 768, 896, 1024,
	1152, 1280, 1408, 1536, 1792, 2048, 2304, 2688, 2816, 3200, 3456, 3584, 4096,
	4736, 5376, 6144, 6528, 7168, 8192, 9472, 10240, 12288, 13568, 14336, 16384,
	20480, 24576, 28672, 32768, 40960, 49152, 57344, 65536, 73728, 81920, 98304,
	114688, 131072, 147456, 163840, 196608, 229376, 262144,
}

// Map is an ordered table of size classes. Class 0 is reserved and never describes objects.
type Map struct {
	classes []Params
}

// NewMap builds a Map from a list of size classes, which must be sorted by strictly increasing
// object size and must each pass Validate
func NewMap(classes []Params) (*Map, error) {
	m := &Map{
		classes: make([]Params, 0, len(classes)+1),
	}
	m.classes = append(m.classes, Params{})
	m.classes = append(m.classes, classes...)

	err := m.Validate()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// DefaultMap returns the built-in size class table
func DefaultMap() *Map {
	classes := make([]Params, 0, len(defaultSizes))
	for _, size := range defaultSizes {
		classes = append(classes, Params{
			ObjectSize: size,
			Pages:      PagesFor(size),
			BatchSize:  BatchSizeFor(size),
		})
	}

	m, err := NewMap(classes)
	if err != nil {
		panic(errors.Wrap(err, "the default size class table is invalid"))
	}
	return m
}

// BatchSizeFor chooses a batch size that moves roughly batchTargetBytes of objects at once
func BatchSizeFor(size int) int {
	num := batchTargetBytes / size
	return memutils.Max(MinObjectsToMove, memutils.Min(num, maxDefaultBatchSize))
}

// PagesFor chooses the smallest span that wastes no more than an eighth of itself
// on the tail fragment left over after carving objects of the provided size
func PagesFor(size int) int {
	minPages := memutils.DivCeil(size, PageSize)
	for pages := minPages; pages <= MaxPagesPerSpan; pages++ {
		spanBytes := pages * PageSize
		if spanBytes/size > MaxObjectsPerSpan {
			break
		}
		if spanBytes%size <= spanBytes/8 {
			return pages
		}
	}

	return minPages
}

// NumClasses returns the number of entries in the map including the reserved class 0
func (m *Map) NumClasses() int {
	return len(m.classes)
}

// Class returns the parameters for the requested size class
func (m *Map) Class(sizeClass int) Params {
	return m.classes[sizeClass]
}

// ClassFor returns the smallest size class able to hold an object of the requested size. It
// returns false if the size is larger than the largest size class.
func (m *Map) ClassFor(size int) (int, bool) {
	if size <= 0 {
		size = 1
	}

	index := sort.Search(len(m.classes)-1, func(i int) bool {
		return m.classes[i+1].ObjectSize >= size
	})
	if index >= len(m.classes)-1 {
		return 0, false
	}

	return index + 1, true
}

func (m *Map) Validate() error {
	if len(m.classes) < 2 {
		return errors.New("a size map must contain at least one size class")
	}

	for sizeClass := 1; sizeClass < len(m.classes); sizeClass++ {
		err := m.classes[sizeClass].Validate()
		if err != nil {
			return errors.Wrapf(err, "size class %d", sizeClass)
		}

		if sizeClass > 1 && m.classes[sizeClass].ObjectSize <= m.classes[sizeClass-1].ObjectSize {
			return errors.Newf("size class %d has object size %d, which is not larger than the previous class's %d",
				sizeClass, m.classes[sizeClass].ObjectSize, m.classes[sizeClass-1].ObjectSize)
		}
	}

	return nil
}
