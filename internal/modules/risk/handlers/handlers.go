// Package handlers provides HTTP handlers for risk calculation operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
	"github.com/oiltrading/riskengine/pkg/formulas"
)

// Handler handles risk calculation HTTP requests
type Handler struct {
	service      *risk.Service
	positionRepo *positions.Repository
	historyDB    *marketdata.HistoryDB
	snapshotRepo *snapshots.Repository
	cfg          config.RiskConfig
	log          zerolog.Logger
}

// NewHandler creates a new risk calculation handler
func NewHandler(
	service *risk.Service,
	positionRepo *positions.Repository,
	historyDB *marketdata.HistoryDB,
	snapshotRepo *snapshots.Repository,
	cfg config.RiskConfig,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:      service,
		positionRepo: positionRepo,
		historyDB:    historyDB,
		snapshotRepo: snapshotRepo,
		cfg:          cfg,
		log:          log.With().Str("handler", "risk").Logger(),
	}
}

// HandleCalculate handles GET /risk/calculate.
// Query parameters: method, historicalDays, includeStressTests, seed,
// simulations. The latest unexpired snapshot for the same parameters is
// served instead of recomputing.
func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cacheKey := snapshots.CacheKey(req)
	if cached, found, cacheErr := h.snapshotRepo.Latest(cacheKey); cacheErr != nil {
		h.log.Warn().Err(cacheErr).Msg("Snapshot cache lookup failed")
	} else if found {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": cached,
			"metadata": map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
				"cached":    true,
			},
		})
		return
	}

	ctx, cancel := h.calculationContext(r)
	defer cancel()

	result, err := h.service.Calculate(ctx, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.snapshotRepo.Save(result, cacheKey, h.snapshotTTL()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to store snapshot")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"cached":    false,
		},
	})
}

// rollingVolWindow is the window of the volatility series on the portfolio
// summary, matching the monthly view of the trading desk.
const rollingVolWindow = 30

// HandlePortfolioSummary handles GET /risk/portfolio-summary. It serves the
// freshest snapshot when one exists, otherwise it computes a full report
// with default parameters. The rolling volatility series is recomputed on
// every call; it is not part of the cached report.
func (h *Handler) HandlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	result, found, err := h.snapshotRepo.LatestAny()
	if err != nil {
		h.log.Warn().Err(err).Msg("Snapshot cache lookup failed")
	}

	cached := found
	if !found {
		req, reqErr := h.defaultRequest()
		if reqErr != nil {
			h.writeError(w, reqErr)
			return
		}

		ctx, cancel := h.calculationContext(r)
		defer cancel()

		result, reqErr = h.service.Calculate(ctx, req)
		if reqErr != nil {
			h.writeError(w, reqErr)
			return
		}

		if saveErr := h.snapshotRepo.Save(result, snapshots.CacheKey(req), h.snapshotTTL()); saveErr != nil {
			h.log.Warn().Err(saveErr).Msg("Failed to store snapshot")
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"calculationId":        result.CalculationID,
			"calculationDate":      result.CalculationDate,
			"totalPortfolioValue":  result.TotalPortfolioValue,
			"positionCount":        result.PositionCount,
			"historicalVaR95":      result.HistoricalVaR95,
			"historicalVaR99":      result.HistoricalVaR99,
			"garchVaR95":           result.GarchVaR95,
			"garchVaR99":           result.GarchVaR99,
			"monteCarloVaR95":      result.MonteCarloVaR95,
			"monteCarloVaR99":      result.MonteCarloVaR99,
			"expectedShortfall95":  result.ExpectedShortfall95,
			"expectedShortfall99":  result.ExpectedShortfall99,
			"portfolioVolatility":  result.PortfolioVolatility,
			"maxDrawdown":          result.MaxDrawdown,
			"methodStatuses":       result.MethodStatuses,
			"degraded":             result.Degraded,
			"rollingVolatility30d": h.rollingVolatilitySeries(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"cached":    cached,
		},
	})
}

// rollingVolatilitySeries computes the 30-day rolling annualized volatility
// of the current book's daily portfolio returns. Empty when the book or the
// available history cannot fill a single window.
func (h *Handler) rollingVolatilitySeries() []float64 {
	allPositions, err := h.positionRepo.GetAll()
	if err != nil || len(allPositions) == 0 {
		return []float64{}
	}

	history := make(map[string]domain.PriceSeries)
	for _, pos := range allPositions {
		if _, seen := history[pos.Product]; seen {
			continue
		}
		series, histErr := h.historyDB.GetPriceSeries(pos.Product, h.cfg.DefaultHistoricalDays+1)
		if histErr != nil {
			h.log.Warn().Err(histErr).Str("product", pos.Product).Msg("Failed to get price history")
			return []float64{}
		}
		history[pos.Product] = series
	}

	snap, err := risk.BuildSnapshot(allPositions, history)
	if err != nil {
		return []float64{}
	}

	returns, _ := risk.ComputeAllReturns(history, h.cfg.MinObservations)
	aligned := risk.AlignReturns(returns)

	return formulas.RollingVolatility(snap.PortfolioReturns(aligned), rollingVolWindow)
}

// HandleProductRisk handles GET /risk/product/{productType}: the exposure
// and standalone historical VaR of one product's positions.
func (h *Handler) HandleProductRisk(w http.ResponseWriter, r *http.Request, productType string) {
	product := strings.ToUpper(strings.TrimSpace(productType))

	productPositions, err := h.positionRepo.GetByProduct(product)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get positions")
		http.Error(w, "Failed to get positions", http.StatusInternalServerError)
		return
	}
	if len(productPositions) == 0 {
		http.Error(w, "No open positions for product", http.StatusNotFound)
		return
	}

	series, err := h.historyDB.GetPriceSeries(product, h.cfg.DefaultHistoricalDays+1)
	if err != nil {
		h.log.Error().Err(err).Str("product", product).Msg("Failed to get price history")
		http.Error(w, "Failed to get price history", http.StatusInternalServerError)
		return
	}

	ctx, cancel := h.calculationContext(r)
	defer cancel()

	result, err := h.service.Calculate(ctx, domain.CalculationRequest{
		Method:       domain.MethodHistorical,
		Positions:    productPositions,
		PriceHistory: map[string]domain.PriceSeries{product: series},
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := map[string]interface{}{
		"product":             product,
		"positionCount":       result.PositionCount,
		"totalValue":          result.TotalPortfolioValue,
		"var95":               result.HistoricalVaR95,
		"var99":               result.HistoricalVaR99,
		"expectedShortfall95": result.ExpectedShortfall95,
		"expectedShortfall99": result.ExpectedShortfall99,
		"methodStatus":        result.MethodStatuses[string(domain.MethodHistorical)],
	}
	if len(result.ProductExposures) > 0 {
		exposure := result.ProductExposures[0]
		data["netExposure"] = exposure.NetExposure
		data["grossExposure"] = exposure.GrossExposure
		data["currentPrice"] = exposure.CurrentPrice
		data["volatility"] = exposure.Volatility
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleBacktest handles GET /risk/backtest.
// Query parameters: startDate, endDate (ISO dates bounding the price panel,
// estimation window included), lookbackDays, confidence.
func (h *Handler) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lookback := risk.DefaultLookbackDays
	if raw := q.Get("lookbackDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, &domain.ConfigurationError{Field: "lookbackDays", Reason: "must be a positive integer"})
			return
		}
		lookback = parsed
	}

	confidence := risk.DefaultConfidence
	if raw := q.Get("confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed >= 1 {
			h.writeError(w, &domain.ConfigurationError{Field: "confidence", Reason: "must be in (0, 1)"})
			return
		}
		confidence = parsed
	}

	var startDate, endDate time.Time
	if raw := q.Get("startDate"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, &domain.ConfigurationError{Field: "startDate", Reason: "must be an ISO date (YYYY-MM-DD)"})
			return
		}
		startDate = parsed
	}
	if raw := q.Get("endDate"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, &domain.ConfigurationError{Field: "endDate", Reason: "must be an ISO date (YYYY-MM-DD)"})
			return
		}
		endDate = parsed
	}

	allPositions, err := h.positionRepo.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get positions")
		http.Error(w, "Failed to get positions", http.StatusInternalServerError)
		return
	}

	history := make(map[string]domain.PriceSeries)
	for _, pos := range allPositions {
		if _, seen := history[pos.Product]; seen {
			continue
		}

		var series domain.PriceSeries
		var histErr error
		if startDate.IsZero() && endDate.IsZero() {
			// Enough points for the estimation window plus a year of
			// evaluated days.
			series, histErr = h.historyDB.GetPriceSeries(pos.Product, lookback+h.cfg.DefaultHistoricalDays+1)
		} else {
			series, histErr = h.historyDB.GetPriceSeriesRange(pos.Product, startDate, endDate)
		}
		if histErr != nil {
			h.log.Error().Err(histErr).Str("product", pos.Product).Msg("Failed to get price history")
			http.Error(w, "Failed to get price history", http.StatusInternalServerError)
			return
		}
		history[pos.Product] = series
	}

	ctx, cancel := h.calculationContext(r)
	defer cancel()

	result, err := h.service.RunBacktest(ctx, allPositions, history, risk.BacktestConfig{
		LookbackDays: lookback,
		Confidence:   confidence,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// buildRequest assembles a calculation request from the query string and
// the current book.
func (h *Handler) buildRequest(r *http.Request) (domain.CalculationRequest, error) {
	q := r.URL.Query()

	req := domain.CalculationRequest{
		Method:             domain.MethodFull,
		IncludeStressTests: true,
	}

	if raw := q.Get("method"); raw != "" {
		req.Method = domain.Method(raw)
	}
	if raw := q.Get("historicalDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return req, &domain.ConfigurationError{Field: "historicalDays", Reason: "must be an integer"}
		}
		req.HistoricalDays = parsed
	}
	if raw := q.Get("includeStressTests"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return req, &domain.ConfigurationError{Field: "includeStressTests", Reason: "must be true or false"}
		}
		req.IncludeStressTests = parsed
	}
	if raw := q.Get("seed"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, &domain.ConfigurationError{Field: "seed", Reason: "must be an integer"}
		}
		req.Seed = parsed
	}
	if raw := q.Get("simulations"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return req, &domain.ConfigurationError{Field: "simulations", Reason: "must be an integer"}
		}
		req.Simulations = parsed
	}

	return h.attachBook(req)
}

// defaultRequest is buildRequest without a query string: full method,
// default window, stress tests on.
func (h *Handler) defaultRequest() (domain.CalculationRequest, error) {
	return h.attachBook(domain.CalculationRequest{
		Method:             domain.MethodFull,
		IncludeStressTests: true,
	})
}

// attachBook loads the open positions and their price history into the
// request.
func (h *Handler) attachBook(req domain.CalculationRequest) (domain.CalculationRequest, error) {
	allPositions, err := h.positionRepo.GetAll()
	if err != nil {
		return req, err
	}
	req.Positions = allPositions

	days := req.HistoricalDays
	if days <= 0 {
		days = h.cfg.DefaultHistoricalDays
	}

	req.PriceHistory = make(map[string]domain.PriceSeries)
	for _, pos := range allPositions {
		if _, seen := req.PriceHistory[pos.Product]; seen {
			continue
		}
		series, histErr := h.historyDB.GetPriceSeries(pos.Product, days+1)
		if histErr != nil {
			return req, histErr
		}
		req.PriceHistory[pos.Product] = series
	}

	return req, nil
}

func (h *Handler) calculationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), time.Duration(h.cfg.CalculationTimeoutSec)*time.Second)
}

func (h *Handler) snapshotTTL() time.Duration {
	return time.Duration(h.cfg.SnapshotTTLMinutes) * time.Minute
}

// writeError maps engine failures onto HTTP statuses. Invalid parameters
// are the caller's fault, missing history means the book cannot be valued,
// a deadline means the calculation was cut off. Anything else is internal.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigurationError
	var insufficientErr *domain.InsufficientDataError

	switch {
	case errors.As(err, &cfgErr):
		http.Error(w, cfgErr.Error(), http.StatusBadRequest)
	case errors.As(err, &insufficientErr):
		http.Error(w, insufficientErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Error().Err(err).Msg("Risk calculation timed out")
		http.Error(w, "Risk calculation timed out", http.StatusGatewayTimeout)
	default:
		h.log.Error().Err(err).Msg("Risk calculation failed")
		http.Error(w, "Failed to calculate risk", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
