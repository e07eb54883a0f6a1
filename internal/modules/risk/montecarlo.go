package risk

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/oiltrading/riskengine/internal/domain"
)

// MonteCarloConfig controls a simulation run. Zero values fall back to the
// engine defaults so callers only set what they care about.
type MonteCarloConfig struct {
	Simulations   int
	PartitionSize int
	Seed          uint64
	Workers       int
}

// DefaultPartitionSize is the number of simulations per partition. The
// partition layout is part of the reproducibility contract: results are
// keyed to (seed, partition index), never to worker count, so changing it
// changes the numbers.
const DefaultPartitionSize = 5_000

// MonteCarloResult holds the simulated P&L distribution and its tail
// measures.
type MonteCarloResult struct {
	TailRisk
	PnL            []float64
	Simulations    int
	Partitions     int
	RepairedMatrix bool
}

// MonteCarloVaR simulates one-day portfolio P&L by drawing correlated
// return shocks from the historical covariance structure.
//
// Each partition seeds its own PCG stream with its partition index, draws a
// vector of standard normals per simulation, colors them with the Cholesky
// (or eigenvalue, if the matrix needed repair) transform and values the
// portfolio at the shocked returns. Partitions are reassembled in index
// order, which makes the P&L vector bit-identical for a given seed no
// matter how many workers ran it.
func MonteCarloVaR(ctx context.Context, snap *PortfolioSnapshot, aligned *AlignedReturns, cov *mat.SymDense, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if cfg.Simulations <= 0 {
		return nil, &domain.ConfigurationError{Field: "simulations", Reason: "must be positive"}
	}
	partitionSize := cfg.PartitionSize
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}

	k := len(aligned.Products)
	if k == 0 {
		return nil, fmt.Errorf("no products in return panel")
	}

	transform, repaired, err := CorrelationTransform(cov)
	if err != nil {
		return nil, fmt.Errorf("building correlation transform: %w", err)
	}

	// Simulated returns keep the historical drift, same as replaying the
	// sample distribution rather than a zero-mean version of it.
	means := make([]float64, k)
	for i, product := range aligned.Products {
		means[i] = stat.Mean(aligned.Column(product), nil)
	}

	weights := snap.ExposureVector(aligned.Products)

	numPartitions := (cfg.Simulations + partitionSize - 1) / partitionSize
	runPartition := func(partition int) ([]float64, error) {
		count := partitionSize
		if start := partition * partitionSize; start+count > cfg.Simulations {
			count = cfg.Simulations - start
		}

		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(partition)))
		normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

		pnl := make([]float64, count)
		z := make([]float64, k)
		for s := 0; s < count; s++ {
			for j := 0; j < k; j++ {
				z[j] = normal.Rand()
			}
			total := 0.0
			for i := 0; i < k; i++ {
				shock := means[i]
				for j := 0; j < k; j++ {
					shock += transform.At(i, j) * z[j]
				}
				total += weights[i] * shock
			}
			pnl[s] = total
		}
		return pnl, nil
	}

	pool := NewWorkerPool(cfg.Workers)
	parts, err := pool.RunPartitions(ctx, numPartitions, runPartition)
	if err != nil {
		return nil, err
	}

	pnl := make([]float64, 0, cfg.Simulations)
	for _, part := range parts {
		pnl = append(pnl, part...)
	}

	return &MonteCarloResult{
		TailRisk:       ComputeTailRisk(pnl),
		PnL:            pnl,
		Simulations:    cfg.Simulations,
		Partitions:     numPartitions,
		RepairedMatrix: repaired,
	}, nil
}
