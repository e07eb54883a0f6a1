package risk

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool manages a pool of worker goroutines for parallel Monte Carlo
// partition runs.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// RunPartitions executes fn for each partition index in parallel and returns
// the per-partition outputs in partition order. Each partition derives its
// randomness from its own index, so the assembled output is identical no
// matter how many workers ran it.
//
// Cancellation is cooperative: workers stop picking up partitions once the
// context is done, and the first error wins.
func (wp *WorkerPool) RunPartitions(
	ctx context.Context,
	numPartitions int,
	fn func(partition int) ([]float64, error),
) ([][]float64, error) {
	if numPartitions == 0 {
		return [][]float64{}, nil
	}

	jobs := make(chan partitionJob, numPartitions)
	results := make(chan partitionResult, numPartitions)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numPartitions < numActualWorkers {
		numActualWorkers = numPartitions // Don't spawn more workers than partitions
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			partitionWorker(ctx, jobs, results, fn)
		}()
	}

	// Send jobs to workers
	for idx := 0; idx < numPartitions; idx++ {
		jobs <- partitionJob{index: idx}
	}
	close(jobs)

	// Wait for all workers to finish, then close results
	wg.Wait()
	close(results)

	// Collect results in partition order
	resultSlice := make([][]float64, numPartitions)
	for result := range results {
		if result.err != nil {
			return nil, result.err
		}
		resultSlice[result.index] = result.values
	}

	return resultSlice, nil
}

// RunVolatilityFits fits the volatility model for each product in parallel
// and returns the fits in input order. Fits are independent across products;
// the context is checked before each fit so cancellation aborts promptly.
func (wp *WorkerPool) RunVolatilityFits(
	ctx context.Context,
	products []string,
	fn func(product string) (*ProductVolatility, error),
) ([]*ProductVolatility, error) {
	numProducts := len(products)
	if numProducts == 0 {
		return []*ProductVolatility{}, nil
	}

	jobs := make(chan volJob, numProducts)
	results := make(chan volResult, numProducts)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numProducts < numActualWorkers {
		numActualWorkers = numProducts
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			volWorker(ctx, jobs, results, fn)
		}()
	}

	// Send jobs to workers
	for idx, product := range products {
		jobs <- volJob{index: idx, product: product}
	}
	close(jobs)

	// Wait for all workers to finish, then close results
	wg.Wait()
	close(results)

	// Collect results in input order
	resultSlice := make([]*ProductVolatility, numProducts)
	for result := range results {
		if result.err != nil {
			return nil, result.err
		}
		resultSlice[result.index] = result.fit
	}

	return resultSlice, nil
}

// partitionJob represents a single partition run
type partitionJob struct {
	index int
}

// partitionResult represents the output of a partition run
type partitionResult struct {
	values []float64
	err    error
	index  int
}

// partitionWorker is the worker goroutine that processes partition jobs
func partitionWorker(
	ctx context.Context,
	jobs <-chan partitionJob,
	results chan<- partitionResult,
	fn func(partition int) ([]float64, error),
) {
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- partitionResult{index: job.index, err: err}
			continue
		}

		values, err := fn(job.index)
		results <- partitionResult{
			index:  job.index,
			values: values,
			err:    err,
		}
	}
}

// volJob represents a single product fit
type volJob struct {
	product string
	index   int
}

// volResult represents the outcome of a product fit
type volResult struct {
	fit   *ProductVolatility
	err   error
	index int
}

// volWorker is the worker goroutine that processes volatility fit jobs
func volWorker(
	ctx context.Context,
	jobs <-chan volJob,
	results chan<- volResult,
	fn func(product string) (*ProductVolatility, error),
) {
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- volResult{index: job.index, err: err}
			continue
		}

		fit, err := fn(job.product)
		results <- volResult{
			index: job.index,
			fit:   fit,
			err:   err,
		}
	}
}
