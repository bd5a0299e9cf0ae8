package main

import (
	"context"
	"errors"
	"fmt"

	"deepresearch/internal/browser"
	"deepresearch/internal/config"
	"deepresearch/internal/discovery"
	"deepresearch/internal/dispatch"
	"deepresearch/internal/flow"
	"deepresearch/internal/llm"
	"deepresearch/internal/retrieval"
	"deepresearch/internal/specialist"
	"deepresearch/internal/store"
	"deepresearch/internal/synthesis"
	"deepresearch/internal/types"

	"go.uber.org/zap"
)

// researcher is the part of the pipeline the run command needs.
type researcher interface {
	Run(ctx context.Context, query string) (*types.FlowResult, error)
}

// pipeline owns every long-lived resource of one CLI invocation.
type pipeline struct {
	research researcher
	store    *store.Store
	renderer *browser.Renderer
}

// Close releases the browser and the cache database.
func (p *pipeline) Close() error {
	var errs []error
	if p.renderer != nil {
		errs = append(errs, p.renderer.Shutdown())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}

// newPipeline is swapped out by tests.
var newPipeline = buildPipeline

// buildPipeline wires the research graph from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &pipeline{}

	// 1. Retrieval cache, optionally persisted in SQLite
	var cache *retrieval.Cache
	if cfg.Cache.Enabled {
		var backing retrieval.Backing
		if cfg.Cache.IsPersistent() {
			st, err := store.Open(cfg.Cache.Driver, cfg.Cache.Path)
			if err != nil {
				return nil, err
			}
			p.store = st
			backing = st
			if n, err := st.Prune(ctx); err == nil && n > 0 {
				logger.Debug("Pruned cache", zap.Int64("entries", n))
			}
		}
		cache = retrieval.NewCache(cfg.Cache.MaxEntries, cfg.GetCacheTTL(), backing)
	}

	fetcher := retrieval.NewFetcher(retrieval.FetcherConfig{
		UserAgent:    cfg.Retrieval.UserAgent,
		Timeout:      cfg.GetRequestTimeout(),
		MaxBodyBytes: cfg.Retrieval.MaxBodyBytes,
		RatePerHost:  cfg.Retrieval.RatePerHost,
		Burst:        cfg.Retrieval.Burst,
	}, cache)

	// 2. Search backends
	var backends []retrieval.NamedSearcher
	for _, name := range cfg.Retrieval.Backends {
		var s retrieval.NamedSearcher
		switch name {
		case "duckduckgo":
			s = retrieval.NewDuckDuckGo(fetcher, "")
		case "googlenews":
			s = retrieval.NewGoogleNews(fetcher, "", cfg.Retrieval.NewsLanguage, cfg.Retrieval.NewsRegion)
		default:
			p.Close()
			return nil, fmt.Errorf("unknown search backend %q", name)
		}
		if cache != nil {
			s = retrieval.NewCached(s, cache)
		}
		backends = append(backends, s)
	}
	searcher := retrieval.NewMulti(backends...)

	// 3. Completion clients, one per stage, sharing a concurrency limit
	synthClient, err := llm.NewClient(ctx, cfg.ForStage(config.StageSynthesis))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("synthesis client: %w", err)
	}
	limiter := llm.NewLimited(synthClient, cfg.Limits.MaxConcurrentAPICalls)

	var discoveryLLM types.LLMClient
	if cfg.Discovery.Mode == config.DiscoveryModeLLM {
		c, err := llm.NewClient(ctx, cfg.ForStage(config.StageDiscovery))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("discovery client: %w", err)
		}
		discoveryLLM = limiter.Share(c)
	}

	// 4. Specialists
	var renderer retrieval.Renderer
	if cfg.IsBrowserEnabled() {
		bcfg := browser.DefaultConfig()
		bcfg.Headless = cfg.Browser.Headless
		bcfg.DebuggerURL = cfg.Browser.ControlURL
		bcfg.NavigationTimeout = cfg.GetNavigationTimeout()
		p.renderer = browser.NewRenderer(bcfg)
		renderer = p.renderer
	}

	registry := specialist.NewRegistry()
	for _, c := range types.AllCategories() {
		if c == types.CategoryWeb {
			registry.Register(c, specialist.NewWebExtractor(fetcher, cfg.Specialist.MaxContentChars))
			continue
		}
		var r retrieval.Renderer
		if renderer != nil && rendersCategory(cfg.Browser.Categories, c) {
			r = renderer
		}
		registry.Register(c, specialist.NewSocialExtractor(c, fetcher, r, cfg.Specialist.MaxContentChars))
	}

	opts := []specialist.Option{specialist.WithMaxContentChars(cfg.Specialist.MaxContentChars)}
	if cfg.Specialist.Summarize {
		c, err := llm.NewClient(ctx, cfg.ForStage(config.StageSpecialist))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("specialist client: %w", err)
		}
		opts = append(opts, specialist.WithSummarizer(limiter.Share(c)))
	}
	processor := specialist.NewProcessor(registry, opts...)

	// 5. Stages and graph
	runTimeout := cfg.GetRunTimeout()
	if timeout > 0 {
		runTimeout = timeout
	}
	research, err := flow.NewDeepResearch(
		discovery.New(searcher, discoveryLLM, discovery.ConfigFrom(cfg.Discovery)),
		dispatch.New(processor, cfg.GetSpecialistTimeout()),
		synthesis.New(limiter, synthesis.Config{
			MaxRecordChars:  cfg.Synthesis.MaxRecordChars,
			MaxContextChars: cfg.Synthesis.MaxContextChars,
		}),
		flow.WithRunTimeout(runTimeout),
		flow.WithObserver(func(ev flow.StageEvent) {
			if ev.State.Terminal() {
				logger.Debug("Stage finished",
					zap.String("stage", ev.Stage),
					zap.String("state", string(ev.State)),
					zap.Duration("elapsed", ev.Duration))
			}
		}),
	)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.research = research

	logger.Debug("Pipeline ready",
		zap.Strings("backends", cfg.Retrieval.Backends),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("discovery_mode", cfg.Discovery.Mode),
		zap.Bool("browser", cfg.IsBrowserEnabled()),
		zap.Bool("persistent_cache", p.store != nil))
	return p, nil
}

func rendersCategory(names []string, c types.Category) bool {
	for _, n := range names {
		if parsed, err := types.ParseCategory(n); err == nil && parsed == c {
			return true
		}
	}
	return false
}
