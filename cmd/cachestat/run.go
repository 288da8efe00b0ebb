package main

import (
	"io"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/arsenal/spancache"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"golang.org/x/exp/slog"
)

type runOptions struct {
	ops              int
	seed             int64
	maxSize          int
	budget           int
	retainedSpans    int
	hardLimitPages   int
	reservedPages    int
	externallySynced bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	options := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a random allocate/free/plunder workload",
		Long: `The run command creates a span cache, performs a random sequence of
allocations, frees, plunders and cache resizes against it, and prints the
statistics of every size class before tearing the cache down.

Example:
  cachestat run --ops 100000 --seed 7
  cachestat run --max-size 4096 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(cmd.OutOrStdout(), global.logger(), global.jsonOut, options)
		},
	}

	cmd.Flags().IntVar(&options.ops, "ops", 10000, "Number of workload operations to perform")
	cmd.Flags().Int64Var(&options.seed, "seed", 1, "Seed for the workload's random number generator")
	cmd.Flags().IntVar(&options.maxSize, "max-size", 32*1024, "Largest object size, in bytes, the workload requests")
	cmd.Flags().IntVar(&options.budget, "budget", 0, "Transfer cache capacity budget in objects (0 for the default)")
	cmd.Flags().IntVar(&options.retainedSpans, "retained-spans", 0, "Empty spans each central free list may park")
	cmd.Flags().IntVar(&options.hardLimitPages, "hard-limit-pages", 0, "Cap on pages in use (0 for no limit)")
	cmd.Flags().IntVar(&options.reservedPages, "reserved-pages", 16*1024, "Pages of address space to reserve for the arena")
	cmd.Flags().BoolVar(&options.externallySynced, "externally-synchronized", false, "Disable the cache's internal locking")

	return cmd
}

// workload holds the objects the workload currently has allocated, by size class
type workload struct {
	cache       *spancache.Cache
	rng         *rand.Rand
	maxSize     int
	outstanding [][]spancache.Object
	exhausted   int
}

func (w *workload) allocate() {
	size := 1 + w.rng.Intn(w.maxSize)
	sizeClass, ok := w.cache.SizeClassFor(size)
	if !ok {
		return
	}

	batchSize := w.cache.TransferCache(sizeClass).BatchSize()
	out := make([]spancache.Object, 1+w.rng.Intn(2*batchSize))
	provided := w.cache.Allocate(sizeClass, out)
	if provided < len(out) {
		w.exhausted++
	}

	w.outstanding[sizeClass] = append(w.outstanding[sizeClass], out[:provided]...)
}

func (w *workload) free() {
	sizeClass := 1 + w.rng.Intn(len(w.outstanding)-1)
	objs := w.outstanding[sizeClass]
	if len(objs) == 0 {
		return
	}

	w.rng.Shuffle(len(objs), func(i, j int) {
		objs[i], objs[j] = objs[j], objs[i]
	})

	count := 1 + w.rng.Intn(len(objs))
	w.cache.Free(sizeClass, objs[len(objs)-count:])
	w.outstanding[sizeClass] = objs[:len(objs)-count]
}

func (w *workload) freeAll() {
	for sizeClass, objs := range w.outstanding {
		if len(objs) > 0 {
			w.cache.Free(sizeClass, objs)
			w.outstanding[sizeClass] = nil
		}
	}
}

func runWorkload(out io.Writer, logger *slog.Logger, jsonOut bool, options *runOptions) error {
	if options.ops < 0 {
		return errors.Newf("--ops must not be negative, but was %d", options.ops)
	}
	if options.maxSize < 1 {
		return errors.Newf("--max-size must be positive, but was %d", options.maxSize)
	}

	parameters := params.Defaults()
	parameters.TransferCacheBudget = options.budget
	parameters.RetainedEmptySpans = options.retainedSpans
	parameters.HeapSizeHardLimitPages = options.hardLimitPages
	parameters.ArenaReservedPages = options.reservedPages

	var flags spancache.CreateFlags
	if options.externallySynced {
		flags |= spancache.CreateExternallySynchronized
	}

	cache, err := spancache.New(logger, spancache.CreateOptions{
		Flags:      flags,
		Parameters: &parameters,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create the cache")
	}

	w := &workload{
		cache:       cache,
		rng:         rand.New(rand.NewSource(options.seed)),
		maxSize:     options.maxSize,
		outstanding: make([][]spancache.Object, cache.SizeMap().NumClasses()),
	}

	for op := 0; op < options.ops; op++ {
		switch w.rng.Intn(16) {
		case 0:
			cache.Plunder()
		case 1:
			cache.ResizeCaches()
		case 2, 3, 4, 5, 6, 7, 8:
			w.allocate()
		default:
			w.free()
		}
	}

	logger.Debug("workload complete",
		slog.Int("Ops", options.ops),
		slog.Int("Exhausted", w.exhausted))

	if jsonOut {
		err = cache.DumpStatsJSON(out)
	} else {
		cache.DumpStats(out)
	}

	w.freeAll()
	if err == nil {
		err = cache.Validate()
	}

	return errors.CombineErrors(err, cache.Destroy())
}
