package scheduler

import (
	"context"
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

// SnapshotPublisher receives each freshly computed snapshot. The HTTP
// server's stream hub implements it; a nil publisher disables pushing.
type SnapshotPublisher interface {
	PublishSnapshot(result *domain.RiskResult)
}

// SnapshotJob computes a full risk report for the current book, stores it as
// the latest snapshot and pushes it to stream subscribers.
type SnapshotJob struct {
	service      *risk.Service
	positionRepo *positions.Repository
	historyDB    *marketdata.HistoryDB
	snapshotRepo *snapshots.Repository
	publisher    SnapshotPublisher
	cfg          config.RiskConfig
	log          zerolog.Logger
}

// NewSnapshotJob creates the periodic snapshot job
func NewSnapshotJob(
	service *risk.Service,
	positionRepo *positions.Repository,
	historyDB *marketdata.HistoryDB,
	snapshotRepo *snapshots.Repository,
	publisher SnapshotPublisher,
	cfg config.RiskConfig,
	log zerolog.Logger,
) *SnapshotJob {
	return &SnapshotJob{
		service:      service,
		positionRepo: positionRepo,
		historyDB:    historyDB,
		snapshotRepo: snapshotRepo,
		publisher:    publisher,
		cfg:          cfg,
		log:          log.With().Str("job", "risk_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "risk_snapshot"
}

// Run computes and stores one snapshot
func (j *SnapshotJob) Run() error {
	start := time.Now()

	req, err := j.buildRequest()
	if err != nil {
		return fmt.Errorf("failed to load book: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(j.cfg.CalculationTimeoutSec)*time.Second)
	defer cancel()

	result, err := j.service.Calculate(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to compute snapshot: %w", err)
	}

	ttl := time.Duration(j.cfg.SnapshotTTLMinutes) * time.Minute
	if err := j.snapshotRepo.Save(result, snapshots.CacheKey(req), ttl); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	if j.publisher != nil {
		j.publisher.PublishSnapshot(result)
	}

	j.log.Info().
		Str("calculation_id", result.CalculationID).
		Int("positions", result.PositionCount).
		Bool("degraded", result.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Risk snapshot refreshed")

	return nil
}

// buildRequest assembles a full-method request from the current book and its
// price history, the same shape the calculate endpoint uses by default.
func (j *SnapshotJob) buildRequest() (domain.CalculationRequest, error) {
	req := domain.CalculationRequest{
		Method:             domain.MethodFull,
		IncludeStressTests: true,
	}

	allPositions, err := j.positionRepo.GetAll()
	if err != nil {
		return req, err
	}
	req.Positions = allPositions

	req.PriceHistory = make(map[string]domain.PriceSeries)
	for _, pos := range allPositions {
		if _, seen := req.PriceHistory[pos.Product]; seen {
			continue
		}
		series, histErr := j.historyDB.GetPriceSeries(pos.Product, j.cfg.DefaultHistoricalDays+1)
		if histErr != nil {
			return req, histErr
		}
		req.PriceHistory[pos.Product] = series
	}

	return req, nil
}
