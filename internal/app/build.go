package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/resonance/internal/brain"
	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/httpapi"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/memory"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/session"
	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
	"github.com/ent0n29/resonance/internal/strategy"
)

const sessionJanitorInterval = 5 * time.Second

// BrainInfo describes the generator Build selected.
type BrainInfo struct {
	Mode       string
	Configured bool
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Companion *companion.Orchestrator
	Lexicon   *lexicon.Lexicon
	Metrics   *observability.Metrics
	Brain     BrainInfo

	flusher *signal.Flusher
	reports *companion.ReportScheduler

	// Cleanup should be called on shutdown to release external resources (DB, redis).
	Cleanup func() error
}

// Build wires every component from cfg. Background loops are not started
// until Start is called.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	return BuildWith(ctx, cfg, observability.NewMetrics(cfg.MetricsNamespace))
}

// BuildWith is Build with a caller-owned metrics set.
func BuildWith(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	lx := lexicon.Default()
	if cfg.LexiconPath != "" {
		loaded, err := lexicon.Load(cfg.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("lexicon load failed: %w", err)
		}
		lx = loaded
	}

	st, err := store.NewStore(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	var (
		cache       strategy.Cache = strategy.NopCache{}
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = strategy.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("strategy cache init failed: %w", err)
		}
		cache = strategy.NewRedisCache(redisClient, cfg.StrategyCacheTTL)
	}

	gen, err := brain.NewGenerator(brain.Config{
		Mode:          cfg.BrainMode,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		HTTPURL:       cfg.BrainHTTPURL,
		Timeout:       cfg.BrainTimeout,
		MaxRetries:    cfg.BrainMaxRetries,
		Metrics:       metrics,
	})
	if err != nil {
		_ = st.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("brain init failed: %w", err)
	}

	recorder := signal.NewRecorder(st, lx, signal.Config{Metrics: metrics})
	flusher, err := signal.NewFlusher(recorder, cfg.PendingFlushSchedule)
	if err != nil {
		_ = st.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	orch := companion.New(companion.Deps{
		Lexicon:   lx,
		Store:     st,
		Retriever: memory.NewRetriever(st, lx, memory.Config{Candidates: cfg.MemoryCandidateLimit, Metrics: metrics}),
		Writer:    memory.NewWriter(st, lx, memory.Config{Metrics: metrics}),
		Recorder:  recorder,
		Selector:  strategy.NewSelector(st, lx, strategy.Config{History: cfg.SignalHistoryLimit, Cache: cache, Metrics: metrics}),
		Generator: gen,
	}, companion.Config{
		AIName:            cfg.AIName,
		Temperature:       cfg.BrainTemperature,
		MaxTokens:         cfg.BrainMaxTokens,
		FallbackMaxTokens: cfg.BrainFallbackMaxTokens,
		RecallLimit:       cfg.MemoryRecallLimit,
		MaxMessageRunes:   cfg.MaxMessageRunes,
		Metrics:           metrics,
	})
	reports, err := companion.NewReportScheduler(orch, cfg.ReportSchedule)
	if err != nil {
		_ = st.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSession("expired", sessions.ActiveCount())
	})

	api := httpapi.New(cfg, sessions, orch, metrics)

	cleanup := func() error {
		var errs []error
		if recorder.Pending() > 0 {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			recorder.Flush(flushCtx)
			cancel()
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Companion: orch,
		Lexicon:   lx,
		Metrics:   metrics,
		Brain: BrainInfo{
			Mode:       cfg.BrainMode,
			Configured: brain.Configured(gen),
		},
		flusher: flusher,
		reports: reports,
		Cleanup: cleanup,
	}, nil
}

// Start launches the background loops. They stop when ctx is done.
func (b *BuildResult) Start(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, sessionJanitorInterval)
	b.flusher.Start(ctx)
	b.reports.Start(ctx)
}
