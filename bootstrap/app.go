// Package bootstrap wires configuration, the analysis client, the stage
// runners, the pipeline, the alert sink and the HTTP API into a runnable
// application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siemfusion/api"
	"siemfusion/config"
	"siemfusion/core"
	"siemfusion/pipeline"
	"siemfusion/sink"
	"siemfusion/stage"

	"go.uber.org/zap"
)

// heuristicWindow is the rolling correlation window of the built-in
// provider, matching the 24h horizon the analysis service uses.
const heuristicWindow = 24 * time.Hour

// App represents the fusion pipeline application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Pipeline  *pipeline.Pipeline
	AlertSink sink.Sink
	APIServer *api.API
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, level, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Fusion pipeline starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	ApplyLogLevel(level, cfg, sugar)

	client, err := BuildClient(cfg, sugar)
	if err != nil {
		return nil, err
	}

	alertSink, lister, err := buildSink(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.AlertSink = alertSink

	app.Pipeline = BuildPipeline(ctx, cfg, client, alertSink, sugar)
	app.APIServer = api.NewAPI(app.Pipeline, app.Pipeline, lister, sugar)

	return app, nil
}

// BuildPipeline assembles the full pipeline from configuration: the stage
// runners with their worker pools, the shared rate budget, the dedup
// index, the scheduler and the orchestrator.
func BuildPipeline(ctx context.Context, cfg *config.Config, client stage.Client,
	alertSink sink.Sink, sugar *zap.SugaredLogger) *pipeline.Pipeline {

	budget := core.NewServiceBudget(cfg.Analysis.RateLimit.PerSecond, cfg.Analysis.RateLimit.Burst)
	stats := pipeline.NewStats()

	runners, pools := buildRunners(ctx, cfg, client, budget, sugar)

	dedup := pipeline.NewDeduper(cfg.Alerts.DedupSize, cfg.Alerts.MergeWindow, cfg.Alerts.MergeOverlap)
	orchestrator := pipeline.NewOrchestrator(runners, orchestratorOptions(cfg), dedup, alertSink, stats, sugar)

	scheduler := pipeline.NewBatchScheduler(
		cfg.Pipeline.BatchSize, cfg.Pipeline.MaxWait, cfg.Pipeline.QueueSize, sugar)

	return pipeline.NewPipeline(scheduler, orchestrator, runners, pools, budget, stats, sugar)
}

// Start launches the pipeline and the API server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", a.Config.API.Host, a.Config.API.Port)
	go func() {
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server exited", "error", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. Intake closes first so
// the pipeline can drain in-flight batches before the sink goes away.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Errorw("Failed to stop API server", "error", err)
	}

	a.Pipeline.Stop(30 * time.Second)

	if err := a.AlertSink.Close(); err != nil {
		a.Sugar.Errorw("Failed to close alert sink", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// BuildClient selects the stage client per the configured provider.
func BuildClient(cfg *config.Config, sugar *zap.SugaredLogger) (stage.Client, error) {
	switch cfg.Analysis.Provider {
	case "heuristic":
		indicators := stage.DefaultIndicators()
		if cfg.Analysis.IndicatorsFile != "" {
			loaded, err := stage.LoadIndicators(cfg.Analysis.IndicatorsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load indicators: %w", err)
			}
			indicators = loaded
			sugar.Infow("Loaded indicator tables", "path", cfg.Analysis.IndicatorsFile)
		}
		return stage.NewHeuristicClient(indicators, heuristicWindow), nil

	case "http":
		breaker, err := core.NewCircuitBreaker(breakerConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
		}
		urls := map[core.StageKind]string{
			core.StageAnomaly:     cfg.Analysis.HTTP.AnomalyURL,
			core.StageThreat:      cfg.Analysis.HTTP.ThreatURL,
			core.StageCorrelation: cfg.Analysis.HTTP.CorrelationURL,
			core.StageAlertGen:    cfg.Analysis.HTTP.AlertGenURL,
		}
		return stage.NewHTTPClient(urls, &http.Client{}, breaker, sugar), nil

	default:
		return nil, fmt.Errorf("unknown analysis provider: %s", cfg.Analysis.Provider)
	}
}

// buildSink selects the alert sink. The second return is the listing view
// for the API, nil when the sink cannot list.
func buildSink(cfg *config.Config, sugar *zap.SugaredLogger) (sink.Sink, api.AlertLister, error) {
	switch cfg.Sink.Type {
	case "memory":
		s := sink.NewMemorySink()
		return s, s, nil

	case "redis":
		r := cfg.Sink.Redis
		s := sink.NewRedisSink(r.Addr, r.Password, r.DB, r.TTL, sugar)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("redis sink unreachable at %s: %w", r.Addr, err)
		}
		return s, nil, nil

	case "webhook":
		breaker, err := core.NewCircuitBreaker(breakerConfig(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid circuit breaker config: %w", err)
		}
		wh := cfg.Sink.Webhook
		client := &http.Client{Timeout: wh.Timeout}
		s := sink.NewWebhookSink(wh.URL, nil, core.Severity(wh.MinSeverity), client, breaker, sugar)
		return s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}
}

// buildRunners creates a worker pool and runner per stage. Only the first
// and last stages carry fallback projections; verification and correlation
// failures surface as failed results.
func buildRunners(ctx context.Context, cfg *config.Config, client stage.Client,
	budget *core.ServiceBudget, sugar *zap.SugaredLogger) ([]*stage.Runner, []*core.WorkerPool) {

	stageCfg := map[core.StageKind]config.StageConfig{
		core.StageAnomaly:     cfg.Stages.Anomaly,
		core.StageThreat:      cfg.Stages.Threat,
		core.StageCorrelation: cfg.Stages.Correlation,
		core.StageAlertGen:    cfg.Stages.AlertGen,
	}
	fallbacks := map[core.StageKind]stage.Fallback{
		core.StageAnomaly:  stage.AnomalyFallback,
		core.StageAlertGen: stage.AlertGenFallback,
	}

	runners := make([]*stage.Runner, 0, len(core.Stages))
	pools := make([]*core.WorkerPool, 0, len(core.Stages))
	for _, kind := range core.Stages {
		sc := stageCfg[kind]
		pool := core.NewWorkerPool(ctx, sc.Concurrency, cfg.Pipeline.BatchSize, "stage-"+kind.String(), sugar)
		retry := &stage.RetryPolicy{
			MaxAttempts: sc.MaxAttempts,
			BaseDelay:   sc.BaseDelay,
			MaxDelay:    sc.MaxDelay,
			Multiplier:  2,
			Retryable:   stage.DefaultRetryPolicy().Retryable,
		}
		runners = append(runners, stage.NewRunner(
			kind, client, retry, pool, budget, sc.Timeout, fallbacks[kind], sugar))
		pools = append(pools, pool)
	}
	return runners, pools
}

func orchestratorOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		AnomalyThreshold:    cfg.Pipeline.AnomalyThreshold,
		MinCorrelationScore: cfg.Alerts.MinCorrelationScore,
		Weights: pipeline.ScoreWeights{
			Anomaly: cfg.Alerts.Weights.Anomaly,
			Threat:  cfg.Alerts.Weights.Threat,
			Context: cfg.Alerts.Weights.Context,
		},
		Cutoffs: pipeline.SeverityCutoffs{
			Critical: cfg.Alerts.Cutoffs.Critical,
			High:     cfg.Alerts.Cutoffs.High,
			Medium:   cfg.Alerts.Cutoffs.Medium,
		},
		BatchDeadline: cfg.Pipeline.BatchDeadline,
	}
}

func breakerConfig(cfg *config.Config) core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		MaxFailures: uint32(cfg.Analysis.CircuitBreaker.MaxFailures),
		Cooldown:    cfg.Analysis.CircuitBreaker.Cooldown,
		MaxProbes:   uint32(cfg.Analysis.CircuitBreaker.MaxProbes),
	}
}
