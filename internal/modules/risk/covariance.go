package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// psdEpsilon is the eigenvalue floor used in PSD repair. Eigenvalues below
// this are numerical noise and get clipped before the matrix is rebuilt.
// The value is part of the reproducibility contract: changing it changes
// Monte Carlo output for near-degenerate covariance inputs.
const psdEpsilon = 1e-10

// BuildCovariance computes the sample covariance matrix over the aligned
// return panel. Column order follows aligned.Products.
func BuildCovariance(aligned *AlignedReturns) (*mat.SymDense, error) {
	n := len(aligned.Products)
	if n == 0 {
		return nil, fmt.Errorf("no products in return panel")
	}
	obs := aligned.Observations()
	if obs < 2 {
		return nil, fmt.Errorf("need at least 2 aligned observations, got %d", obs)
	}

	data := mat.NewDense(obs, n, nil)
	for t, row := range aligned.Matrix {
		for i, v := range row {
			data.Set(t, i, v)
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	return &cov, nil
}

// RepairPSD clips negative eigenvalues to zero and reconstructs the matrix.
// Sample covariance matrices are PSD in exact arithmetic; tiny negative
// eigenvalues show up through floating-point noise and break Cholesky.
// Reports whether any eigenvalue actually needed clipping.
func RepairPSD(cov *mat.SymDense) (*mat.SymDense, bool, error) {
	n := cov.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, false, fmt.Errorf("eigendecomposition of covariance matrix failed")
	}

	values := eig.Values(nil)
	clipped := false
	for i, v := range values {
		if v < psdEpsilon {
			values[i] = 0
			clipped = true
		}
	}

	if !clipped {
		return cov, false, nil
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Rebuild S = V diag(λ⁺) Vᵀ entry by entry; the loop keeps the result
	// exactly symmetric instead of relying on matrix products to cancel.
	repaired := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += vectors.At(i, k) * values[k] * vectors.At(j, k)
			}
			repaired.SetSym(i, j, sum)
		}
	}

	return repaired, true, nil
}

// CorrelationTransform returns a matrix T with T·Tᵀ ≈ Σ, used to turn
// independent standard normal draws into correlated shocks. The Cholesky
// factor is used when Σ is positive definite; a semi-definite Σ (perfectly
// correlated or hedged products) falls back to the eigenvalue transform
// V·diag(√λ⁺). The repaired flag reports that the PSD repair or the eigen
// fallback had to step in.
func CorrelationTransform(cov *mat.SymDense) (*mat.Dense, bool, error) {
	repairedCov, repaired, err := RepairPSD(cov)
	if err != nil {
		return nil, false, err
	}

	n := repairedCov.SymmetricDim()

	var chol mat.Cholesky
	if ok := chol.Factorize(repairedCov); ok {
		var lower mat.TriDense
		chol.LTo(&lower)

		out := mat.NewDense(n, n, nil)
		out.Copy(&lower)
		return out, repaired, nil
	}

	// Semi-definite: Cholesky cannot factorize, eigenvalue transform can.
	var eig mat.EigenSym
	if ok := eig.Factorize(repairedCov, true); !ok {
		return nil, repaired, fmt.Errorf("eigendecomposition of repaired covariance matrix failed")
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			lambda := math.Max(values[k], 0)
			out.Set(i, k, vectors.At(i, k)*math.Sqrt(lambda))
		}
	}

	return out, true, nil
}

// PortfolioVariance computes wᵀΣw, the quadratic form behind every
// parametric portfolio volatility number in the engine.
func PortfolioVariance(cov *mat.SymDense, weights []float64) float64 {
	n := cov.SymmetricDim()
	if len(weights) != n {
		return 0
	}

	w := mat.NewVecDense(n, weights)
	var tmp mat.VecDense
	tmp.MulVec(cov, w)
	return mat.Dot(w, &tmp)
}
