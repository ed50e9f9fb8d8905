package utils

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, size := range []int{0, 1, 7, ParallelFactor, ParallelFactor*3 + 1} {
		seen := make([]int, size)
		var mu sync.Mutex
		err := GroupWorkParallel(context.Background(), size, func(groupNum, from, to int) error {
			mu.Lock()
			defer mu.Unlock()
			for i := from; i < to; i++ {
				seen[i]++
			}
			return nil
		})
		test.That(t, err, test.ShouldBeNil)
		for _, n := range seen {
			test.That(t, n, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelErrors(t *testing.T) {
	err := GroupWorkParallel(context.Background(), 10, func(groupNum, from, to int) error {
		if from == 0 {
			return errors.New("bad")
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad")

	err = GroupWorkParallel(context.Background(), 10, func(groupNum, from, to int) error {
		if from == 0 {
			panic(1)
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "panic")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = GroupWorkParallel(ctx, 10, func(groupNum, from, to int) error { return nil })
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
