package spancache

import (
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/residency"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
)

// CreateFlags indicate specific cache behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = memutils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this cache and all objects created from it will
	// not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism, but performance may improve
	// because internal mutexes are not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateDisableResidency skips residency queries when dumping stats
	CreateDisableResidency
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateDisableResidency.Register("CreateDisableResidency")
}

// CreateOptions contains optional settings when creating a Cache
type CreateOptions struct {
	// Flags indicates specific cache behaviors to activate or deactivate
	Flags CreateFlags

	// Parameters are the runtime tunables shared by every component. If nil, params.Defaults
	// is used. Zero-valued sizes and durations are replaced with their defaults.
	Parameters *params.Parameters

	// SizeMap is the table of size classes. If nil, sizeclass.DefaultMap is used.
	SizeMap *sizeclass.Map

	// PageAllocator supplies spans. If nil, the Cache maps its own pageheap.Arena, sized by
	// Parameters.ArenaReservedPages and limited by Parameters.HeapSizeHardLimitPages.
	PageAllocator pageheap.PageAllocator

	// MemoryCallbacks is an optional set of callbacks that will be executed when the Cache's own
	// arena hands out or takes back pages. It is ignored when PageAllocator is provided.
	MemoryCallbacks pageheap.MemoryCallbacks

	// Residency answers residency queries for DumpStats. If nil, residency.New is used and the
	// Cache closes it on Destroy.
	Residency residency.Residency

	// Clock is used to age spans. If nil, the wall clock is used.
	Clock memutils.Clock
}
