package pipeline

import (
	"context"
	"sync"
)

// ForEach runs fn for every item on at most workers goroutines fed from a
// shared jobs channel. Once ctx is cancelled no further items are started;
// those items are returned so the caller can account for them.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T)) []T {
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	jobs := make(chan T)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				fn(ctx, item)
			}
		}()
	}

	var unstarted []T
feed:
	for i, item := range items {
		if ctx.Err() != nil {
			unstarted = items[i:]
			break
		}
		select {
		case jobs <- item:
		case <-ctx.Done():
			unstarted = items[i:]
			break feed
		}
	}

	close(jobs)
	wg.Wait()
	return unstarted
}
