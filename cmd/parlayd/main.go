// parlayd is the parlay suggestion daemon.
// It serves parlay and pick generation over HTTP with live progress on /ws.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/phenomenon0/parlay-agents/pkg/acquisition"
	"github.com/phenomenon0/parlay-agents/pkg/api"
	"github.com/phenomenon0/parlay-agents/pkg/cache"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/config"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
	"github.com/phenomenon0/parlay-agents/pkg/metrics"
	"github.com/phenomenon0/parlay-agents/pkg/oddsapi"
	"github.com/phenomenon0/parlay-agents/pkg/picks"
	"github.com/phenomenon0/parlay-agents/pkg/pipeline"
	"github.com/phenomenon0/parlay-agents/pkg/research"
	"github.com/phenomenon0/parlay-agents/pkg/store"
	"github.com/phenomenon0/parlay-agents/pkg/streaming"
	"github.com/phenomenon0/parlay-agents/tools"
)

var (
	// Flags
	configPath = flag.String("config", "", "Path to config file (default ./config/config.yaml)")
	httpAddr   = flag.String("http", "", "HTTP server address (overrides server.addr)")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
	noLive     = flag.Bool("no-live", false, "Serve cached odds only; never call the odds provider")
)

const janitorInterval = time.Hour

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *noLive {
		cfg.Pipeline.AllowLive = false
	}

	log := cfg.Logger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	log.Info("Starting parlay daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d, err := newDaemon(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize daemon")
	}
	defer d.close()

	go d.hub.Run(ctx)
	go d.janitor(ctx)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      d.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
			sigCh <- syscall.SIGTERM
		}
	}()
	log.Infof("WebSocket streaming available at ws://%s/ws", cfg.Server.Addr)

	<-sigCh
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	cancel()

	log.Info("Goodbye!")
}

type daemon struct {
	cfg      *config.Config
	log      *logrus.Logger
	catalog  *catalog.Catalog
	metrics  *metrics.PipelineMetrics
	hub      *streaming.Hub
	acquirer *acquisition.Acquirer
	pipeline *pipeline.Pipeline

	redis *redis.Client
	db    *gorm.DB
	odds  store.OddsRepository
}

func newDaemon(cfg *config.Config, log *logrus.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		log:     log,
		catalog: catalog.Default(),
		metrics: metrics.Default(),
	}
	d.hub = streaming.NewHub(
		streaming.WithHeartbeat(cfg.Stream.Heartbeat),
		streaming.WithClientGauge(d.metrics),
		streaming.WithLogger(log),
	)

	acqOpts := []acquisition.Option{acquisition.WithMetrics(d.metrics), acquisition.WithLogger(log)}
	researchOpts := []research.Option{research.WithMetrics(d.metrics), research.WithLogger(log)}

	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shared := cache.NewRedis(d.redis, cfg.Redis.Prefix, cfg.Odds.Retention)
		acqOpts = append(acqOpts, acquisition.WithSharedCache(shared))
		log.WithField("addr", cfg.Redis.Addr).Info("Redis odds cache enabled")
	} else {
		log.Info("No redis.addr configured - shared odds cache disabled")
	}

	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
		d.db = db
		d.odds = store.NewOddsRepository(db)
		acqOpts = append(acqOpts,
			acquisition.WithSnapshotStore(d.odds),
			acquisition.WithRoster(store.NewPlayerRepository(db)),
		)
		researchOpts = append(researchOpts, research.WithNewsStore(store.NewNewsRepository(db)))
		log.Info("Postgres persistence enabled")
	} else {
		log.Info("No database.dsn configured - persistence disabled")
	}

	if cfg.Odds.APIKey == "" {
		log.Warn("No ODDS_API_KEY provided - live odds fetches will fail and only cached odds are served")
	}
	oddsClient := oddsapi.NewClient(
		oddsapi.WithBaseURL(cfg.Odds.BaseURL),
		oddsapi.WithAPIKey(cfg.Odds.APIKey),
		oddsapi.WithRegion(cfg.Odds.Region),
		oddsapi.WithTimeout(cfg.Odds.Timeout),
		oddsapi.WithRateLimit(cfg.Odds.RateLimit, cfg.Odds.Burst),
		oddsapi.WithRetry(cfg.Odds.MaxRetries, cfg.Odds.Backoff),
	)

	acqCfg := acquisition.DefaultConfig()
	acqCfg.FreshFor = cfg.Odds.FreshFor
	acqCfg.Retention = cfg.Odds.Retention
	acqCfg.SingleDayWindow = cfg.Odds.SingleDayWindow
	acqCfg.PropWorkers = cfg.Odds.PropWorkers
	acqCfg.DefaultBookmaker = cfg.Odds.DefaultBookmaker
	acqCfg.FallbackBookmakers = cfg.Odds.FallbackBookmakers
	d.acquirer = acquisition.New(acqCfg, d.catalog, oddsClient, acqOpts...)

	pipeOpts := []pipeline.Option{
		pipeline.WithNotifier(d.hub),
		pipeline.WithMetrics(d.metrics),
		pipeline.WithLogger(log),
	}

	if cfg.Search.APIKey != "" {
		searcher := research.NewSearchClient(
			research.WithSearchURL(cfg.Search.URL),
			research.WithSearchKey(cfg.Search.APIKey),
			research.WithSearchRateLimit(cfg.Search.RateLimit, cfg.Search.Burst),
			research.WithNumResults(cfg.Search.NumResults),
		)
		resCfg := research.DefaultConfig()
		resCfg.TopK = cfg.Search.TopK
		resCfg.CacheTTL = cfg.Search.CacheTTL
		resCfg.StoreTTL = cfg.Search.StoreTTL
		pipeOpts = append(pipeOpts, pipeline.WithEnricher(research.NewEnricher(resCfg, searcher, d.catalog, researchOpts...)))
	} else {
		log.Info("No SERPER_API_KEY provided - research enrichment disabled")
	}

	router := tools.NewModelRouter(tools.RouterOptions{
		Keys: tools.APIKeys{
			OpenAI:     cfg.LLM.OpenAIKey,
			Anthropic:  cfg.LLM.AnthropicKey,
			OpenRouter: cfg.LLM.OpenRouterKey,
		},
		OllamaURL: cfg.LLM.OllamaURL,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
		Retries:   cfg.LLM.Retries,
		Model:     cfg.LLM.Model,
		FastModel: cfg.LLM.FastModel,
	})
	for _, name := range []string{cfg.LLM.Model, cfg.LLM.FastModel} {
		if name == "" {
			continue
		}
		if _, err := router.GetConfigByName(name); err != nil {
			log.WithError(err).Warn("Pinned model unknown - falling back to tier selection")
		}
	}
	clients := generation.NewClientSet(router)
	log.WithFields(logrus.Fields{
		"thorough": clients.Thorough.Model(),
		"fast":     clients.Fast.Model(),
	}).Info("Model presets selected")

	generator := generation.NewGenerator(clients, d.catalog,
		generation.WithMetrics(d.metrics),
		generation.WithLogger(log),
	)
	pipeOpts = append(pipeOpts, pipeline.WithSuggester(picks.NewSuggester(clients, d.catalog, log)))

	d.pipeline = pipeline.New(pipeline.Config{
		DefaultLegs:  cfg.Pipeline.DefaultLegs,
		MaxLegs:      cfg.Pipeline.MaxLegs,
		DefaultDays:  cfg.Pipeline.DefaultDays,
		MaxDays:      cfg.Pipeline.MaxDays,
		DefaultPicks: cfg.Pipeline.DefaultPicks,
		AllowLive:    cfg.Pipeline.AllowLive,
	}, d.acquirer, generator, pipeOpts...)

	return d, nil
}

func (d *daemon) router() http.Handler {
	opts := []api.Option{
		api.WithMode(d.cfg.Server.Mode),
		api.WithLogger(d.log),
		api.WithMetricsHandler(promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{})),
		api.WithStream(d.hub.ServeWS),
		api.WithPprof(d.cfg.Server.Pprof),
	}
	if d.redis != nil {
		opts = append(opts, api.WithReadinessCheck("redis", func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}))
	}
	if d.db != nil {
		opts = append(opts, api.WithReadinessCheck("postgres", func(ctx context.Context) error {
			sqlDB, err := d.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	return api.NewServer(d.pipeline, d.catalog, opts...).Router()
}

// janitor drops expired snapshots and odds rows for games that have started.
func (d *daemon) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := d.acquirer.Prune()
			entry := d.log.WithField("snapshots", pruned)
			if d.odds != nil {
				rows, err := d.odds.DeleteBefore(ctx, time.Now())
				if err != nil {
					d.log.WithError(err).Warn("odds cleanup failed")
				}
				entry = entry.WithField("odds_rows", rows)
			}
			entry.Debug("janitor pass")
		}
	}
}

func (d *daemon) close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.WithError(err).Warn("redis close failed")
		}
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
