package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/logger"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// Options are the settings shared by every stage.
type Options struct {
	BlockSize int
	Workers   int
	Codec     raster.Codec
	Log       *logger.Logger
	Cache     *raster.BlockCache
	// Progress receives a progress bar per stage; nil disables it.
	Progress io.Writer
}

// DefaultOptions returns options for tests and library callers.
func DefaultOptions() Options {
	return Options{BlockSize: DefaultBlockSize, Codec: raster.CodecZstd}
}

func (o Options) log() *logger.Logger {
	if o.Log == nil {
		return logger.Nop()
	}
	return o.Log
}

func (o Options) blockSize() int {
	if o.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return o.BlockSize
}

func (o Options) workers(g grid.GridGeometry) int {
	return WorkerLimit(o.Workers, o.blockSize(), g.PixelBytes(), o.Log)
}

func (o Options) progress(label string, total int) *progressBar {
	if o.Progress == nil {
		return nil
	}
	return newProgressBar(o.Progress, label, int64(total))
}

// runBlocks calls work for every window of p on up to workers goroutines
// and passes each result to consume from a single goroutine, in completion
// order. The first error from either side cancels the rest and is
// returned. Results a worker could not hand over after cancellation are
// passed to discard.
func runBlocks[T any](ctx context.Context, p *grid.Planner, workers int, bar *progressBar,
	work func(grid.Window) (T, error), consume func(T) error, discard func(T)) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan grid.Window, workers*2)
	results := make(chan T, workers)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < p.Len(); i++ {
			select {
			case jobs <- p.At(i):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for w := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := work(w)
				if err != nil {
					return fmt.Errorf("block %v: %w", w, err)
				}
				select {
				case results <- v:
				case <-gctx.Done():
					if discard != nil {
						discard(v)
					}
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		for v := range results {
			if err := consume(v); err != nil {
				return err
			}
			bar.Increment()
		}
		return nil
	})

	return g.Wait()
}

// writeStore runs work over the full partition of out and commits it. On
// any failure the store is aborted and a *PartialWriteError returned.
func writeStore(ctx context.Context, stage string, out *raster.StoreWriter, opts Options,
	work func(grid.Window) (*raster.Block, error)) error {
	p := out.Planner()
	bar := opts.progress(stage, p.Len())
	err := runBlocks(ctx, p, opts.workers(out.Geometry()), bar, work,
		func(b *raster.Block) error {
			defer b.Release()
			return out.WriteBlock(b)
		},
		(*raster.Block).Release)
	bar.Finish()
	if err != nil {
		out.Abort()
		return &PartialWriteError{Stage: stage, Path: out.Path(), Err: err}
	}
	if err := out.Commit(); err != nil {
		return &PartialWriteError{Stage: stage, Path: out.Path(), Err: err}
	}
	opts.log().Debug("Stage written", "stage", stage, "path", out.Path(), "stats", out.Stats())
	return nil
}

// createStore makes sure the artifact's directory exists.
func createStore(path string, g grid.GridGeometry, opts Options) (*raster.StoreWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return raster.CreateStore(path, g, opts.blockSize(), opts.Codec)
}
