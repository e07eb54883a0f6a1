// Package main implements the stdio calculation worker: one JSON calculation
// request on stdin, one risk report on stdout. Logs go to stderr so stdout
// stays machine-parseable for the calling process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Output: os.Stderr})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Output: os.Stderr,
	})

	var req domain.CalculationRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		emitError(log, fmt.Errorf("failed to decode calculation request: %w", err))
	}

	service := risk.NewService(cfg.Risk, log)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Risk.CalculationTimeoutSec)*time.Second)
	defer cancel()

	result, err := service.Calculate(ctx, req)
	if err != nil {
		emitError(log, err)
	}

	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
}

// emitError writes an error document to stdout and exits nonzero, so the
// caller always gets parseable output on both paths.
func emitError(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("Calculation failed")

	_ = json.NewEncoder(os.Stdout).Encode(map[string]string{
		"error": err.Error(),
	})
	os.Exit(1)
}
