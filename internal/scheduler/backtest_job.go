package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// BacktestJob runs the nightly VaR backtest over the current book and
// persists the result.
type BacktestJob struct {
	service      *risk.Service
	positionRepo *positions.Repository
	historyDB    *marketdata.HistoryDB
	snapshotRepo *snapshots.Repository
	cfg          config.RiskConfig
	log          zerolog.Logger
}

// NewBacktestJob creates the nightly backtest job
func NewBacktestJob(
	service *risk.Service,
	positionRepo *positions.Repository,
	historyDB *marketdata.HistoryDB,
	snapshotRepo *snapshots.Repository,
	cfg config.RiskConfig,
	log zerolog.Logger,
) *BacktestJob {
	return &BacktestJob{
		service:      service,
		positionRepo: positionRepo,
		historyDB:    historyDB,
		snapshotRepo: snapshotRepo,
		cfg:          cfg,
		log:          log.With().Str("job", "nightly_backtest").Logger(),
	}
}

// Name returns the job name
func (j *BacktestJob) Name() string {
	return "nightly_backtest"
}

// Run backtests the default VaR model against realized history. An empty
// book or a history too short for the estimation window skips the run, it
// does not fail it.
func (j *BacktestJob) Run() error {
	allPositions, err := j.positionRepo.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load book: %w", err)
	}
	if len(allPositions) == 0 {
		j.log.Info().Msg("No open positions, skipping backtest")
		return nil
	}

	// Estimation window plus a year of evaluated days.
	days := risk.DefaultLookbackDays + j.cfg.DefaultHistoricalDays + 1
	history := make(map[string]domain.PriceSeries)
	for _, pos := range allPositions {
		if _, seen := history[pos.Product]; seen {
			continue
		}
		series, histErr := j.historyDB.GetPriceSeries(pos.Product, days)
		if histErr != nil {
			return fmt.Errorf("failed to load history for %s: %w", pos.Product, histErr)
		}
		history[pos.Product] = series
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(j.cfg.CalculationTimeoutSec)*time.Second)
	defer cancel()

	result, err := j.service.RunBacktest(ctx, allPositions, history, risk.BacktestConfig{})
	if err != nil {
		var insufficientErr *domain.InsufficientDataError
		if errors.As(err, &insufficientErr) {
			j.log.Warn().
				Int("required", insufficientErr.Required).
				Int("actual", insufficientErr.Actual).
				Msg("Not enough history for backtest, skipping")
			return nil
		}
		return fmt.Errorf("backtest failed: %w", err)
	}

	if err := j.snapshotRepo.SaveBacktest(result); err != nil {
		return fmt.Errorf("failed to store backtest: %w", err)
	}

	j.log.Info().
		Int("observations", result.ObservationCount).
		Int("breaches", result.BreachCount).
		Bool("passed", result.Passed).
		Float64("kupiec_lr", result.KupiecLR).
		Msg("Nightly backtest stored")

	return nil
}
