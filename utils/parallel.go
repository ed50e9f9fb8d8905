package utils

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// RangeWorkFunc processes the half open range [from, to) of a larger piece of work.
type RangeWorkFunc func(groupNum, from, to int) error

// GroupWorkParallel splits totalSize items into at most ParallelFactor contiguous ranges and
// runs work on each range in its own goroutine. The last range takes the remainder.
// Panics inside work are reported as errors.
func GroupWorkParallel(ctx context.Context, totalSize int, work RangeWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups

	var (
		wait sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	storeError := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierr.Combine(errs, err)
	}

	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		from := groupSize * groupNum
		to := from + groupSize
		if groupNum == numGroups-1 {
			to = totalSize
		}
		// on panic the callback runs instead of the trailing Done
		utils.PanicCapturingGoWithCallback(func() {
			if err := ctx.Err(); err != nil {
				storeError(err)
			} else if err := work(groupNum, from, to); err != nil {
				storeError(err)
			}
			wait.Done()
		}, func(thePanic interface{}) {
			storeError(errors.Errorf("panic in group %d: %v", groupNum, thePanic))
			wait.Done()
		})
	}
	wait.Wait()
	return errs
}
