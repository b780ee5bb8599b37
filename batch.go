package squish

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// BatchItem is one file in a batch.
type BatchItem struct {
	// Src is the input path.
	Src string
	// Dst is the output path. Empty means the result is not written.
	Dst string
	// Opts overrides BatchOptions.DefaultOpts for this item.
	Opts *Options
}

// BatchResult is the outcome of one BatchItem.
type BatchResult struct {
	Item   BatchItem
	Result *Result // nil when Err is set
	Err    error
	Index  int // position in the input slice
}

// BatchOptions configures CompressBatch.
type BatchOptions struct {
	// Workers is the pool size. 0 means runtime.NumCPU().
	Workers int
	// DefaultOpts applies to items without their own Opts.
	DefaultOpts Options
	// OnItem is called after each item finishes.
	OnItem func(completed, total int)
}

// CompressBatch runs CompressPath over items on a worker pool. Results
// come back in input order. Once ctx is done, items not yet started fail
// with ctx.Err() while in-flight items run to completion.
func CompressBatch(ctx context.Context, items []BatchItem, bo BatchOptions) []BatchResult {
	if len(items) == 0 {
		return nil
	}
	workers := bo.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(items))

	results := make([]BatchResult, len(items))
	work := make(chan int, len(items))
	for i := range items {
		work <- i
	}
	close(work)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				item := items[idx]
				r := BatchResult{Item: item, Index: idx}
				if err := ctx.Err(); err != nil {
					r.Err = err
				} else {
					opts := bo.DefaultOpts
					if item.Opts != nil {
						opts = *item.Opts
					}
					r.Result, r.Err = CompressPath(ctx, item.Src, item.Dst, opts)
				}
				results[idx] = r

				if bo.OnItem != nil {
					mu.Lock()
					completed++
					bo.OnItem(completed, len(items))
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// BatchSummary aggregates a batch.
type BatchSummary struct {
	Total      int
	Succeeded  int
	Failed     int
	Kept       int // results that kept the original bytes
	TotalIn    int64
	TotalOut   int64
	TotalSaved int64
}

// Summarize computes aggregate statistics from batch results.
func Summarize(results []BatchResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Err != nil || r.Result == nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Result.KeptOriginal {
			s.Kept++
		}
		s.TotalIn += r.Result.OriginalSize
		s.TotalOut += r.Result.CompressedSize
	}
	s.TotalSaved = s.TotalIn - s.TotalOut
	return s
}

func (s BatchSummary) String() string {
	return fmt.Sprintf("Batch: %d/%d succeeded | %s → %s | %s saved",
		s.Succeeded, s.Total, humanBytes(s.TotalIn), humanBytes(s.TotalOut), humanBytes(s.TotalSaved))
}
