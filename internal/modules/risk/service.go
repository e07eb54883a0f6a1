package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/pkg/formulas"
)

// Service orchestrates a full risk calculation: it validates the request,
// snapshots the book, runs the requested VaR methods in parallel and merges
// their outputs into one report. The service is stateless; every calculation
// works from the request contents alone.
type Service struct {
	cfg config.RiskConfig
	log zerolog.Logger
}

// NewService creates a risk calculation service.
func NewService(cfg config.RiskConfig, log zerolog.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log.With().Str("module", "risk").Logger(),
	}
}

// Calculate runs the requested risk calculation and returns the merged
// report.
//
// Method-level failures are not fatal: a method without enough history is
// skipped and flagged in MethodStatuses, and a GARCH fit that cannot
// converge degrades to EWMA. Invalid requests, unmarkable positions,
// cancellation and consistency violations abort the whole calculation.
func (s *Service) Calculate(ctx context.Context, req domain.CalculationRequest) (*domain.RiskResult, error) {
	start := time.Now()

	method := req.Method
	if method == "" {
		method = domain.MethodFull
	}
	if !method.Valid() {
		return nil, &domain.ConfigurationError{Field: "method", Reason: fmt.Sprintf("unknown method %q", string(req.Method))}
	}

	simulations := req.Simulations
	if simulations == 0 {
		simulations = s.cfg.Simulations
	}
	if simulations < 0 {
		return nil, &domain.ConfigurationError{Field: "simulations", Reason: "must be positive"}
	}
	if simulations > s.cfg.MaxSimulations {
		return nil, &domain.ConfigurationError{Field: "simulations", Reason: fmt.Sprintf("must not exceed %d", s.cfg.MaxSimulations)}
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Seed
	}

	days := req.HistoricalDays
	if days == 0 {
		days = s.cfg.DefaultHistoricalDays
	}
	if days < 0 {
		return nil, &domain.ConfigurationError{Field: "historicalDays", Reason: "must be positive"}
	}

	for i, pos := range req.Positions {
		if err := pos.Validate(); err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
	}

	result := &domain.RiskResult{
		CalculationID:    uuid.New().String(),
		CalculationDate:  time.Now().UTC(),
		Method:           method,
		Seed:             seed,
		MethodStatuses:   make(map[string]string),
		ProductExposures: []domain.ProductExposure{},
	}

	// An empty book is a valid book. Every risk number is zero and every
	// method is flagged skipped rather than silently absent.
	if len(req.Positions) == 0 {
		for _, name := range methodNames {
			result.MethodStatuses[name] = domain.StatusSkipped("no_positions")
		}
		s.log.Info().
			Str("calculation_id", result.CalculationID).
			Dur("duration", time.Since(start)).
			Msg("Risk calculation complete for empty book")
		return result, nil
	}

	// Snapshot the price history for the products actually in the book,
	// trimmed to the requested window. One extra point yields exactly
	// `days` daily returns.
	history := make(map[string]domain.PriceSeries)
	for _, pos := range req.Positions {
		product := pos.Product
		if _, seen := history[product]; seen {
			continue
		}
		series, ok := req.PriceHistory[product]
		if !ok {
			continue
		}
		if err := series.Validate(); err != nil {
			return nil, fmt.Errorf("price history for %s: %w", product, err)
		}
		history[product] = series.Tail(days + 1)
	}

	snap, err := BuildSnapshot(req.Positions, history)
	if err != nil {
		return nil, err
	}
	result.TotalPortfolioValue = snap.TotalValue
	result.PositionCount = len(snap.Positions)

	returnSeries, excluded := ComputeAllReturns(history, s.cfg.MinObservations)
	for product, exclErr := range excluded {
		s.log.Warn().Err(exclErr).Str("product", product).Msg("Product excluded from return panel")
	}
	aligned := AlignReturns(returnSeries)
	observations := aligned.Observations()

	wantHist := method == domain.MethodFull || method == domain.MethodHistorical
	wantGarch := method == domain.MethodFull || method == domain.MethodGarch
	wantMC := method == domain.MethodFull || method == domain.MethodMonteCarlo
	if !wantHist {
		result.MethodStatuses[string(domain.MethodHistorical)] = domain.StatusSkipped("not_requested")
	}
	if !wantGarch {
		result.MethodStatuses[string(domain.MethodGarch)] = domain.StatusSkipped("not_requested")
	}
	if !wantMC {
		result.MethodStatuses[string(domain.MethodMonteCarlo)] = domain.StatusSkipped("not_requested")
	}

	var (
		histRes  *HistoricalResult
		histErr  error
		fits     map[string]*ProductVolatility
		garchRes *GarchResult
		garchErr error
		mcRes    *MonteCarloResult
		mcErr    error
	)

	if observations < s.cfg.MinObservations {
		// No method can run on this panel. The report still carries the
		// book's exposures and, when asked for, the shock scenarios.
		insufficient := &domain.InsufficientDataError{Required: s.cfg.MinObservations, Actual: observations}
		if wantHist {
			histErr = insufficient
		}
		if wantGarch {
			garchErr = insufficient
		}
		if wantMC {
			mcErr = insufficient
		}
	} else {
		var cov *mat.SymDense
		if wantGarch || wantMC {
			var covErr error
			cov, covErr = BuildCovariance(aligned)
			if covErr != nil {
				return nil, fmt.Errorf("building covariance matrix: %w", covErr)
			}
		}

		// The three methods share only immutable inputs, so they run as
		// independent goroutines writing to distinct result slots.
		var wg sync.WaitGroup
		if wantHist {
			wg.Add(1)
			go func() {
				defer wg.Done()
				histRes, histErr = HistoricalVaR(snap, aligned, s.cfg.MinObservations)
			}()
		}
		if wantGarch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fits, garchErr = FitProductVolatility(ctx, aligned, s.cfg.GarchMinObservations, s.cfg.EWMALambda, s.cfg.Workers)
				if garchErr != nil {
					return
				}
				garchRes, garchErr = GarchPortfolioRisk(snap, aligned, cov, fits)
			}()
		}
		if wantMC {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mcRes, mcErr = MonteCarloVaR(ctx, snap, aligned, cov, MonteCarloConfig{
					Simulations:   simulations,
					PartitionSize: s.cfg.PartitionSize,
					Seed:          uint64(seed),
					Workers:       s.cfg.Workers,
				})
			}()
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if wantHist {
		if err := s.applyMethodStatus(result, domain.MethodHistorical, histErr); err != nil {
			return nil, err
		}
	}
	if wantGarch {
		if err := s.applyMethodStatus(result, domain.MethodGarch, garchErr); err != nil {
			return nil, err
		}
	}
	if wantMC {
		if err := s.applyMethodStatus(result, domain.MethodMonteCarlo, mcErr); err != nil {
			return nil, err
		}
	}

	if histRes != nil {
		if err := verifyTail(string(domain.MethodHistorical), histRes.TailRisk); err != nil {
			return nil, err
		}
		result.HistoricalVaR95 = histRes.VaR95
		result.HistoricalVaR99 = histRes.VaR99
		result.PortfolioVolatility = formulas.AnnualizedVolatility(histRes.PortfolioReturns)
		result.MaxDrawdown = MaxDrawdownFromPnL(histRes.PnL)
	}
	if garchRes != nil {
		if err := verifyTail(string(domain.MethodGarch), garchRes.TailRisk); err != nil {
			return nil, err
		}
		result.GarchVaR95 = garchRes.VaR95
		result.GarchVaR99 = garchRes.VaR99
		if garchRes.Degraded() {
			result.Degraded = true
			result.MethodStatuses[string(domain.MethodGarch)] = domain.StatusDegraded(degradedReason(garchRes, fits))
			for _, product := range garchRes.DegradedProducts {
				s.log.Warn().
					Str("product", product).
					Str("status", fits[product].Status).
					Msg("Volatility model degraded to EWMA")
			}
		}
	}
	if mcRes != nil {
		if err := verifyTail(string(domain.MethodMonteCarlo), mcRes.TailRisk); err != nil {
			return nil, err
		}
		result.MonteCarloVaR95 = mcRes.VaR95
		result.MonteCarloVaR99 = mcRes.VaR99
		result.SimulationCount = mcRes.Simulations
	}

	// ES comes from the richest sample available: the synthetic Monte Carlo
	// distribution, else realized history, else the GARCH closed form.
	switch {
	case mcRes != nil:
		result.ExpectedShortfall95 = mcRes.ES95
		result.ExpectedShortfall99 = mcRes.ES99
		result.MethodStatuses["es_source"] = string(domain.MethodMonteCarlo)
	case histRes != nil:
		result.ExpectedShortfall95 = histRes.ES95
		result.ExpectedShortfall99 = histRes.ES99
		result.MethodStatuses["es_source"] = string(domain.MethodHistorical)
	case garchRes != nil:
		result.ExpectedShortfall95 = garchRes.ES95
		result.ExpectedShortfall99 = garchRes.ES99
		result.MethodStatuses["es_source"] = string(domain.MethodGarch)
	}

	result.ProductExposures = s.buildProductExposures(snap, aligned, fits)

	if req.IncludeStressTests {
		portfolioReturns := snap.PortfolioReturns(aligned)
		if histRes != nil {
			portfolioReturns = histRes.PortfolioReturns
		}
		result.StressTests = StressTests(snap, portfolioReturns)
	}

	s.log.Info().
		Str("calculation_id", result.CalculationID).
		Str("method", string(method)).
		Int("positions", result.PositionCount).
		Int("observations", observations).
		Bool("degraded", result.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Risk calculation complete")

	return result, nil
}

// RunBacktest validates the inputs and rolls the VaR backtest over the
// historical window.
func (s *Service) RunBacktest(ctx context.Context, positions []domain.Position, priceHistory map[string]domain.PriceSeries, cfg BacktestConfig) (*domain.BacktestResult, error) {
	for i, pos := range positions {
		if err := pos.Validate(); err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
	}
	if len(positions) == 0 {
		return nil, &domain.ConfigurationError{Field: "positions", Reason: "backtest needs at least one open position"}
	}

	history := make(map[string]domain.PriceSeries)
	for _, pos := range positions {
		if series, ok := priceHistory[pos.Product]; ok {
			history[pos.Product] = series
		}
	}

	snap, err := BuildSnapshot(positions, history)
	if err != nil {
		return nil, err
	}

	returnSeries, excluded := ComputeAllReturns(history, s.cfg.MinObservations)
	for product, exclErr := range excluded {
		s.log.Warn().Err(exclErr).Str("product", product).Msg("Product excluded from backtest panel")
	}

	backtest, err := Backtest(ctx, snap, AlignReturns(returnSeries), cfg)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int("observations", backtest.ObservationCount).
		Int("breaches", backtest.BreachCount).
		Float64("breach_rate", backtest.BreachRate).
		Bool("passed", backtest.Passed).
		Msg("Backtest complete")

	return backtest, nil
}

var methodNames = []string{
	string(domain.MethodHistorical),
	string(domain.MethodGarch),
	string(domain.MethodMonteCarlo),
}

// applyMethodStatus records the outcome of one method. Insufficient history
// skips the method; anything else is a defect or a cancellation and aborts
// the calculation.
func (s *Service) applyMethodStatus(result *domain.RiskResult, method domain.Method, err error) error {
	name := string(method)
	if err == nil {
		result.MethodStatuses[name] = domain.StatusOK
		return nil
	}

	var insufficient *domain.InsufficientDataError
	if errors.As(err, &insufficient) {
		result.MethodStatuses[name] = domain.StatusSkipped("insufficient_data")
		s.log.Warn().Err(err).Str("method", name).Msg("Method skipped")
		return nil
	}

	return fmt.Errorf("%s method: %w", name, err)
}

// verifyTail asserts the cross-confidence invariants of one method's tail
// measures before the report is assembled. A violation is a numerical bug
// upstream, so the whole calculation fails rather than emitting a report
// that cannot be trusted.
func verifyTail(method string, tail TailRisk) error {
	if tail.VaR95 < 0 || tail.VaR99 < tail.VaR95 {
		return &domain.ConsistencyError{
			Check:  "var99_ge_var95",
			Detail: fmt.Sprintf("%s: VaR99=%.6f VaR95=%.6f", method, tail.VaR99, tail.VaR95),
		}
	}
	if tail.ES95 < tail.VaR95 || tail.ES99 < tail.VaR99 {
		return &domain.ConsistencyError{
			Check:  "es_ge_var",
			Detail: fmt.Sprintf("%s: ES95=%.6f VaR95=%.6f ES99=%.6f VaR99=%.6f", method, tail.ES95, tail.VaR95, tail.ES99, tail.VaR99),
		}
	}
	return nil
}

// degradedReason picks the status reason for a degraded GARCH result. A
// convergence failure outranks short history because it says something about
// the fit, not just the data.
func degradedReason(garchRes *GarchResult, fits map[string]*ProductVolatility) string {
	reason := VolStatusEWMAShortHistory
	for _, product := range garchRes.DegradedProducts {
		if fits[product].Status == VolStatusEWMAFallback {
			reason = VolStatusEWMAFallback
			break
		}
	}
	return reason
}

// buildProductExposures merges the per-product view: exposures from the
// snapshot, realized and conditional volatility, standalone historical VaR.
func (s *Service) buildProductExposures(snap *PortfolioSnapshot, aligned *AlignedReturns, fits map[string]*ProductVolatility) []domain.ProductExposure {
	exposures := snap.ProductBreakdown()
	histVaR := ProductHistoricalVaR95(snap, aligned)

	for i := range exposures {
		product := exposures[i].Product
		if column := aligned.Column(product); len(column) > 0 {
			exposures[i].Volatility = formulas.AnnualizedVolatility(column)
		}
		exposures[i].HistVaR95 = histVaR[product]
		if pv, ok := fits[product]; ok && pv.Forecast != nil {
			exposures[i].CondVolatility = pv.Forecast.Sigma * math.Sqrt(252)
			exposures[i].DegreesOfFreedom = pv.Forecast.Nu
		}
	}
	return exposures
}
