package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// ForEach runs fn for every index in [0, items) on at most workers
// goroutines. workers <= 0 means one per CPU core.
//
// Every item is attempted even when others fail; items not yet started
// when ctx is done record ctx.Err() instead. The returned error joins the
// per-item errors in index order. Panics in fn become errors.
func ForEach(ctx context.Context, items, workers int, fn func(ctx context.Context, i int) error) error {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items // No need for more workers than items
	}

	errs := make([]error, items)
	next := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = errors.SafeExecute(fmt.Sprintf("item %d", i), func() error {
					return fn(ctx, i)
				})
			}
		}()
	}

	for i := range items {
		next <- i
	}
	close(next)
	wg.Wait()

	return errors.Join(errs...)
}
