package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/core"
	"github.com/into-the-night/fin-breaker/internal/agent/telemetry"
	"github.com/into-the-night/fin-breaker/internal/conversation"
	"github.com/into-the-night/fin-breaker/internal/retrieval"
	"github.com/into-the-night/fin-breaker/internal/runtime"
	"github.com/into-the-night/fin-breaker/internal/scheduler"
	"github.com/into-the-night/fin-breaker/internal/tools"
	"github.com/into-the-night/fin-breaker/internal/tools/market"
	"github.com/into-the-night/fin-breaker/internal/tools/scraping"
	"github.com/into-the-night/fin-breaker/internal/voice"
)

// Version is reported in traces.
var Version = "dev"

// App holds the wired process dependencies shared by the API server and the
// command line.
type App struct {
	Config    *config.Config
	Orch      *core.Orchestrator
	Telemetry *telemetry.Telemetry
	Metrics   *prometheus.Registry
	Voice     *voice.Service
	Scheduler *scheduler.Scheduler

	store     conversation.Store
	retrieval *retrieval.Store
	redis     *redis.Client
	tracing   *runtime.Tracing
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}

// Build wires the orchestrator, its tools and the optional voice and
// scheduler collaborators from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close(context.Background())
		}
	}()

	tracing, err := runtime.SetupTracing(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, err
	}
	app.tracing = tracing

	app.Metrics = prometheus.NewRegistry()
	app.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Telemetry = telemetry.NewTelemetry(cfg.Telemetry, app.Metrics)

	var llm *core.OpenAIProvider
	if cfg.LLM.APIKey != "" {
		llm, err = core.NewLLMProvider(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: cfg.Tools.HTTPTimeout}
	deps := tools.Deps{
		Market:  market.NewClient(cfg.Tools, httpClient, newLogger("[MARKET] ")),
		Scraper: scraping.NewScraper(cfg.Tools, httpClient, newLogger("[SCRAPER] ")),
	}
	var embedder retrieval.Embedder
	if llm != nil && cfg.LLM.EmbeddingModel != "" {
		embedder = llm
	}
	app.retrieval, err = retrieval.NewStore(embedder, cfg.LLM.EmbeddingModel, newLogger("[RETRIEVAL] "))
	if err != nil {
		return nil, err
	}
	deps.Retrieval = app.retrieval

	registry, err := tools.NewRegistry(deps)
	if err != nil {
		return nil, err
	}

	app.store, err = conversation.Open(ctx, cfg.Storage, newLogger("[STORE] "))
	if err != nil {
		return nil, err
	}

	// a nil *OpenAIProvider must not reach the interface
	var provider core.LLMProvider
	if llm != nil {
		provider = llm
	}
	app.Orch, err = core.NewOrchestratorFromConfig(cfg, registry, app.store, provider, app.Telemetry, newLogger("[ORCH] "))
	if err != nil {
		return nil, err
	}

	if cfg.Voice.Enabled {
		if llm == nil {
			return nil, fmt.Errorf("voice requires llm.api_key")
		}
		app.Voice = voice.NewService(llm.Client(), cfg.Voice, newLogger("[VOICE] "))
	}

	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Briefs) > 0 {
		if addr := cfg.Storage.Redis.Addr(); addr != "" {
			app.redis = redis.NewClient(&redis.Options{
				Addr:        addr,
				Password:    cfg.Storage.Redis.Password,
				DB:          cfg.Storage.Redis.DB,
				DialTimeout: cfg.Storage.Redis.Timeout,
			})
			if err := app.redis.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
			}
		}
		app.Scheduler, err = scheduler.New(cfg.Scheduler, app.Orch, app.redis, newLogger("[SCHED] "))
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return app, nil
}

// Close releases every connection Build opened.
func (a *App) Close(ctx context.Context) {
	if a.Telemetry != nil {
		a.Telemetry.Shutdown()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.retrieval != nil {
		_ = a.retrieval.Close()
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
