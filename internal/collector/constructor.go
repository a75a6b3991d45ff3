package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-derivs-collector/internal/coinglass"
	"github.com/johnayoung/go-derivs-collector/internal/config"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/exchange"
	"github.com/johnayoung/go-derivs-collector/internal/gaps"
	"github.com/johnayoung/go-derivs-collector/internal/metrics"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/storage"
	"github.com/johnayoung/go-derivs-collector/internal/validator"
)

// Options wires a Collector. Resolver, Levels and Index are required.
type Options struct {
	Resolver ConnectorResolver
	Levels   LevelSource
	Index    *validator.Index

	// Codec parses interval tokens. The zero value multiplies the numeric
	// prefix of every unit.
	Codec models.Codec

	// CandleRetry defaults to apperrors.DefaultRetryPolicy. LevelRetry
	// defaults to apperrors.NoRetryPolicy: a failed level page aborts the
	// fetch unless retries are configured.
	CandleRetry *apperrors.RetryPolicy
	LevelRetry  *apperrors.RetryPolicy
	// Sleep replaces the retry hold; tests use it to record delays.
	Sleep apperrors.SleepFunc

	// LevelStride is last_seen (default), window or count.
	LevelStride     string
	LevelPageLimit  int
	CandlePageLimit int

	// CheckCandles logs OHLC sanity issues of every candle fetch.
	CheckCandles bool

	Store   storage.SeriesStore
	Metrics *metrics.MetricsCollector
	Logger  *slog.Logger
}

// New creates a Collector from already built dependencies.
func New(opts Options) (*Collector, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("collector: exchange resolver is required")
	}
	if opts.Levels == nil {
		return nil, fmt.Errorf("collector: level source is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("collector: %w: no instrument index", apperrors.ErrValidationUnavailable)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetricsCollector()
	}

	switch opts.LevelStride {
	case "":
		opts.LevelStride = StrideLastSeen
	case StrideLastSeen, StrideWindow, StrideCount:
	default:
		return nil, fmt.Errorf("collector: unknown level stride %q", opts.LevelStride)
	}

	candleRetry := apperrors.DefaultRetryPolicy()
	if opts.CandleRetry != nil {
		candleRetry = *opts.CandleRetry
	}
	levelRetry := apperrors.NoRetryPolicy()
	if opts.LevelRetry != nil {
		levelRetry = *opts.LevelRetry
	}

	logger := opts.Logger.With("component", "collector")
	classifier := apperrors.NewErrorClassifier(logger)

	var checker *validator.CandleChecker
	if opts.CheckCandles {
		checker = validator.NewCandleChecker(opts.Logger)
	}

	return &Collector{
		resolver: opts.Resolver,
		index:    opts.Index,
		codec:    opts.Codec,
		candles: &CandleFetcher{
			policy:    candleRetry,
			sleep:     opts.Sleep,
			pageLimit: opts.CandlePageLimit,
			checker:   checker,
			metrics:   opts.Metrics,
			errs:      classifier,
			logger:    logger,
		},
		levels: &LevelFetcher{
			source:    opts.Levels,
			index:     opts.Index,
			policy:    levelRetry,
			sleep:     opts.Sleep,
			stride:    opts.LevelStride,
			pageLimit: opts.LevelPageLimit,
			metrics:   opts.Metrics,
			errs:      classifier,
			logger:    logger,
		},
		gaps:    gaps.NewDetector(opts.Logger),
		store:   opts.Store,
		metrics: opts.Metrics,
		errs:    classifier,
		logger:  logger,
	}, nil
}

// Build creates a Collector from configuration: the CoinGlass client, the
// instrument snapshot, the exchange registry and the configured store. A
// snapshot that cannot be loaded fails construction.
func Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Collector, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	candleRetry, err := apperrors.PolicyFromConfig(cfg.Fetch.CandleRetry)
	if err != nil {
		return nil, fmt.Errorf("fetch.candle_retry: %w", err)
	}
	levelRetry, err := apperrors.PolicyFromConfig(cfg.Fetch.LevelRetry)
	if err != nil {
		return nil, fmt.Errorf("fetch.level_retry: %w", err)
	}

	var timeout time.Duration
	if cfg.CoinGlass.Timeout != "" {
		if timeout, err = time.ParseDuration(cfg.CoinGlass.Timeout); err != nil {
			return nil, fmt.Errorf("coinglass.timeout: %w", err)
		}
	}

	cg := coinglass.New(coinglass.Options{
		BaseURL:   cfg.CoinGlass.BaseURL,
		APIKey:    cfg.CoinGlass.APIKey,
		Timeout:   timeout,
		RateLimit: cfg.CoinGlass.RateLimit,
		Burst:     cfg.CoinGlass.Burst,
		Logger:    logger,
	})

	index, err := validator.LoadIndex(ctx, cg)
	if err != nil {
		return nil, err
	}
	logger.Info("instrument snapshot loaded", "exchanges", len(index.Exchanges()))

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	c, err := New(Options{
		Resolver:       exchange.DefaultRegistry(cfg, logger),
		Levels:         cg,
		Index:          index,
		Codec:          models.Codec{CollapseCalendarUnits: cfg.Fetch.LegacyIntervalCodec},
		CandleRetry:    &candleRetry,
		LevelRetry:     &levelRetry,
		LevelStride:    cfg.Fetch.LevelStride,
		LevelPageLimit: cfg.Fetch.LevelPageLimit,
		CheckCandles:   cfg.Validator.Enabled,
		Store:          store,
		Logger:         logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return c, nil
}
