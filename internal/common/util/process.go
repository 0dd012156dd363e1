package util

import (
	"sync"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// ProcessItemsWithThreadPool calls processFunc on every item using at most maxThreadCount goroutines.
// Items still queued when ctx is cancelled are skipped.
func ProcessItemsWithThreadPool[K any](ctx *uqcontext.Context, maxThreadCount int, itemsToProcess []K, processFunc func(K)) {
	wg := &sync.WaitGroup{}
	processChannel := make(chan K)

	for i := 0; i < Min(len(itemsToProcess), maxThreadCount); i++ {
		wg.Add(1)
		go poolWorker(ctx, wg, processChannel, processFunc)
	}

	for _, item := range itemsToProcess {
		processChannel <- item
	}

	close(processChannel)
	wg.Wait()
}

func poolWorker[K any](ctx *uqcontext.Context, wg *sync.WaitGroup, itemsToProcess chan K, processFunc func(K)) {
	defer wg.Done()

	for item := range itemsToProcess {
		// Skip processing once context is finished
		if ctx.Err() != nil {
			continue
		}
		processFunc(item)
	}
}
