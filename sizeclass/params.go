package sizeclass

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
)

const (
	// PageShift is log2 of PageSize
	PageShift = 13
	// PageSize is the size in bytes of the pages handed out by the page heap
	PageSize = 1 << PageShift

	// Alignment is the minimum alignment of every object size
	Alignment = 8
	// MultiPageSize is the object size above which objects need MultiPageAlignment
	MultiPageSize = PageSize
	// MultiPageAlignment is the alignment required of object sizes larger than MultiPageSize
	MultiPageAlignment = 64

	// MaxSize is the largest object size served from size classes
	MaxSize = 256 * 1024
	// MaxPagesPerSpan is the largest span a size class may request
	MaxPagesPerSpan = 255
	// MaxObjectsPerSpan bounds the number of objects carved from a single span
	MaxObjectsPerSpan = 65535
	// MaxObjectsToMove is the largest batch size allowed for any size class
	MaxObjectsToMove = 128
	// MinObjectsToMove is the smallest batch size allowed for any size class
	MinObjectsToMove = 2
)

// ErrInvalidSizeClass is returned when a size class triple fails IsValid
var ErrInvalidSizeClass = errors.New("invalid size class")

// Params are the constants that describe a single size class
type Params struct {
	// ObjectSize is the size in bytes of every object in the class
	ObjectSize int
	// Pages is the number of pages in each span of the class
	Pages int
	// BatchSize is the number of objects moved between caches at once
	BatchSize int
}

// SpanBytes is the number of bytes in each span of this class
func (p Params) SpanBytes() int {
	return p.Pages * PageSize
}

// ObjectsPerSpan is the number of objects a span of this class is carved into
func (p Params) ObjectsPerSpan() int {
	if p.ObjectSize <= 0 {
		return 0
	}
	return p.SpanBytes() / p.ObjectSize
}

// Validate returns an error wrapping ErrInvalidSizeClass describing the first problem with
// the parameters, or nil if they describe a usable size class
func (p Params) Validate() error {
	err := checkRange(p.ObjectSize, 1, MaxSize, "object size")
	if err != nil {
		return err
	}
	if p.ObjectSize%Alignment != 0 {
		return errors.Wrapf(ErrInvalidSizeClass, "object size %d is not aligned to %d", p.ObjectSize, Alignment)
	}
	if p.ObjectSize > MultiPageSize && p.ObjectSize%MultiPageAlignment != 0 {
		return errors.Wrapf(ErrInvalidSizeClass, "object size %d is not aligned to the multi-page alignment %d", p.ObjectSize, MultiPageAlignment)
	}
	err = checkRange(p.Pages, 1, MaxPagesPerSpan, "span page count")
	if err != nil {
		return err
	}

	objects := p.ObjectsPerSpan()
	if objects < 1 {
		return errors.Wrapf(ErrInvalidSizeClass, "a span of %d pages cannot hold an object of size %d", p.Pages, p.ObjectSize)
	}
	if objects > MaxObjectsPerSpan {
		return errors.Wrapf(ErrInvalidSizeClass, "a span of %d pages holds %d objects of size %d, more than the max of %d", p.Pages, objects, p.ObjectSize, MaxObjectsPerSpan)
	}

	return checkRange(p.BatchSize, MinObjectsToMove, MaxObjectsToMove, "batch size")
}

// checkRange marks range failures as ErrInvalidSizeClass so callers can match either error
func checkRange(value, low, high int, name string) error {
	err := memutils.CheckRange(value, low, high, name)
	if err != nil {
		return errors.Mark(err, ErrInvalidSizeClass)
	}
	return nil
}

// IsValid reports whether the provided triple describes a usable size class
func IsValid(objectSize, pages, batchSize int) bool {
	return Params{ObjectSize: objectSize, Pages: pages, BatchSize: batchSize}.Validate() == nil
}
