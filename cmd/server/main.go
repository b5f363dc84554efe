// Package main wires and runs the OptionPulse ingestion/analytics daemon:
// one StreamManager-driven IngestionEngine, one independent AnalyticsEngine,
// a retention-pruning maintenance task, and a thin operator-status HTTP
// surface, all sharing a single SQLite store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/optionpulse/internal/aggregator"
	"github.com/aristath/optionpulse/internal/analytics"
	"github.com/aristath/optionpulse/internal/backfill"
	"github.com/aristath/optionpulse/internal/broker"
	"github.com/aristath/optionpulse/internal/config"
	"github.com/aristath/optionpulse/internal/httpapi"
	"github.com/aristath/optionpulse/internal/ingestion"
	"github.com/aristath/optionpulse/internal/logging"
	"github.com/aristath/optionpulse/internal/maintenance"
	"github.com/aristath/optionpulse/internal/stats"
	"github.com/aristath/optionpulse/internal/store"
	"github.com/aristath/optionpulse/internal/stream"
	"github.com/aristath/optionpulse/internal/token"
	"github.com/aristath/optionpulse/internal/universe"
	"github.com/aristath/optionpulse/internal/validate"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		logging.New(logging.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("underlying", cfg.Underlying).Msg("starting optionpulse")

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load exchange timezone")
	}

	tokenSource := token.New(cfg.TradernetAPIKey, cfg.TradernetAPISecret, cfg.RefreshToken, cfg.BrokerTokenURL, log)
	brokerClient := broker.New(broker.Config{
		BaseURL:        cfg.BrokerBaseURL,
		RequestTimeout: cfg.APIRequestTimeout,
		RetryAttempts:  cfg.APIRetryAttempts,
		RetryDelay:     cfg.APIRetryDelay,
		RetryBackoff:   cfg.APIRetryBackoff,
	}, token.BrokerAdapter{Source: tokenSource}, log)

	uni := universe.New(universe.Config{
		Underlying:      cfg.Underlying,
		Expirations:     cfg.Expirations,
		StrikeDistance:  cfg.StrikeDistance,
		RecalcInterval:  cfg.RecalcInterval,
		PriceMoveThresh: cfg.PriceMoveThresh,
		Loc:             loc,
	})
	underlyingAgg := aggregator.NewUnderlyingAggregator(cfg.AggregationBucket, loc, cfg.MaxBufferSize)
	optionAgg := aggregator.NewOptionAggregator(cfg.AggregationBucket, loc, cfg.MaxBufferSize)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	db, err := store.Open(fmt.Sprintf("%s/optionpulse.db", cfg.DataDir))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	ingestionErrs := stats.NewErrorCounters()
	analyticsErrs := stats.NewErrorCounters()

	ivRange := validate.IVRange{Min: cfg.IVMin, Max: cfg.IVMax}

	streamMgr := stream.New(stream.Config{
		Underlying:      cfg.Underlying,
		OptionBatchSize: cfg.OptionBatchSize,
		MarketHoursPoll: cfg.MarketHoursPoll,
		ExtendedPoll:    cfg.ExtendedHoursPoll,
		ClosedPoll:      cfg.ClosedHoursPoll,
		Loc:             loc,
		IVRange:         ivRange,
	}, brokerClient, uni, underlyingAgg, optionAgg, log)

	ingestionEngine := ingestion.New(ingestion.Config{
		SweepInterval:         cfg.AggregationBucket,
		StrikeCleanupInterval: cfg.StrikeCleanupInterval,
		Enrich: ingestion.EnrichConfig{
			GreeksEnabled:   cfg.GreeksEnabled,
			IVCalcEnabled:   cfg.IVCalcEnabled,
			RiskFreeRate:    cfg.RiskFreeRate,
			DefaultIV:       cfg.DefaultIV,
			IVMaxIterations: cfg.IVMaxIterations,
			IVTolerance:     cfg.IVTolerance,
			IVMin:           cfg.IVMin,
			IVMax:           cfg.IVMax,
		},
	}, streamMgr, uni, underlyingAgg, optionAgg, db, ingestionErrs, log)

	if cfg.BackfillEnabled {
		backfillMgr := backfill.New(brokerClient, loc, underlyingAgg, optionAgg, ivRange, log)
		backfillStats, err := backfillMgr.Run(context.Background(), backfill.Request{
			Underlying:     cfg.Underlying,
			Lookback:       cfg.BackfillLookback,
			BarUnit:        broker.Minute,
			BarInterval:    1,
			OptionSampling: cfg.BackfillOptionEvery,
			Expirations:    cfg.Expirations,
			StrikeDistance: cfg.StrikeDistance,
		})
		if err != nil {
			log.Warn().Err(err).Msg("backfill failed, starting from a cold cache")
		} else {
			log.Info().Int("bars_fetched", backfillStats.BarsFetched).Int("option_ticks", backfillStats.OptionTicks).Msg("backfill complete")
			spot, ok, err := db.LatestUnderlyingClose(context.Background(), cfg.Underlying)
			if err != nil {
				log.Warn().Err(err).Msg("could not read backfilled spot for flush enrichment")
			}
			flushSpot := 0.0
			if ok {
				flushSpot, _ = spot.Float64()
			}
			if err := ingestionEngine.FlushBackfill(context.Background(), time.Now(), flushSpot); err != nil {
				log.Warn().Err(err).Msg("failed to flush backfilled buckets")
			}
		}
	}

	analyticsEngine := analytics.New(analytics.Config{
		Underlying: cfg.Underlying,
		Interval:   cfg.AnalyticsInterval,
		Staleness:  cfg.StalenessWindow,
	}, db, time.Now, analyticsErrs, log)

	var archiver maintenance.Archiver
	if cfg.S3ArchiveBucket != "" {
		s3arc, err := maintenance.NewS3Archiver(context.Background(), cfg.S3ArchiveBucket)
		if err != nil {
			log.Warn().Err(err).Msg("could not wire S3 archiver, retention prune will run without archival")
		} else {
			archiver = s3arc
		}
	}
	maintenanceTask := maintenance.New(maintenance.Config{
		Interval: cfg.MaintenanceInterval,
		Tables: []maintenance.TableRetention{
			{Table: store.TableUnderlyingBars, Retention: cfg.RetentionQuotes},
			{Table: store.TableOptionQuotes, Retention: cfg.RetentionQuotes},
			{Table: store.TableGEXSummary, Retention: cfg.RetentionMetrics},
			{Table: store.TableGEXByStrike, Retention: cfg.RetentionMetrics},
		},
		ArchivePrefix: cfg.S3ArchivePrefix,
	}, db, archiver, time.Now, log)

	httpServer := httpapi.New(httpapi.Config{
		Underlying:    cfg.Underlying,
		Ingestion:     ingestionEngine,
		Analytics:     analyticsEngine,
		IngestionErrs: ingestionErrs,
		AnalyticsErrs: analyticsErrs,
		Log:           log,
	}, fmt.Sprintf(":%d", cfg.HTTPPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("operator status endpoint stopped unexpectedly")
		}
	}()

	ingestionDone := make(chan struct{})
	go func() {
		defer close(ingestionDone)
		if err := ingestionEngine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ingestion engine halted")
			cancel()
		}
	}()

	go func() {
		if err := analyticsEngine.Start(ctx); err != nil {
			log.Error().Err(err).Msg("analytics engine halted")
		}
	}()

	go maintenanceTask.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received, draining")

	// A second signal means the operator wants out now: stop waiting on the
	// graceful path and exit immediately with a nonzero status.
	go func() {
		sig := <-quit
		log.Warn().Str("signal", sig.String()).Msg("second signal received, forcing immediate exit")
		os.Exit(1)
	}()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	select {
	case <-ingestionDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("ingestion engine did not finish flushing within the shutdown window")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("operator status endpoint forced to shutdown")
	}

	log.Info().Msg("optionpulse stopped")
}
