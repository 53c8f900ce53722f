// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the converse server: an
// orchestration core that routes conversational queries between a local
// model and cloud backends, validates answer quality, and escalates when
// needed.
package main

import (
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/api"
	"github.com/traylinx/converse/internal/audit"
	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/buildinfo"
	"github.com/traylinx/converse/internal/cache"
	"github.com/traylinx/converse/internal/complexity"
	"github.com/traylinx/converse/internal/config"
	"github.com/traylinx/converse/internal/decision"
	"github.com/traylinx/converse/internal/embedding"
	"github.com/traylinx/converse/internal/executor"
	"github.com/traylinx/converse/internal/logging"
	"github.com/traylinx/converse/internal/orchestrator"
	"github.com/traylinx/converse/internal/quality"
	"github.com/traylinx/converse/internal/steering"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("converse %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// .env is optional; environment variables hold backend API keys.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logging.SetDebug(cfg.Debug)
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	if err := run(cfg, *configPath); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	// Optional embedding collaborator. Failure degrades to lexical-only
	// complexity scoring rather than blocking startup.
	var matcher complexity.SemanticMatcher
	if cfg.Embedding.Enabled {
		engine, err := embedding.NewEngine(embedding.Config{
			ModelPath: cfg.Embedding.ModelPath,
			VocabPath: cfg.Embedding.VocabPath,
		})
		if err == nil {
			if err := engine.Initialize(cfg.Embedding.SharedLibraryPath); err != nil {
				log.Warnf("embedding engine unavailable: %v", err)
			} else {
				anchors := embedding.NewAnchorMatcher(engine)
				if err := anchors.Initialize(); err != nil {
					log.Warnf("anchor matcher unavailable: %v", err)
				} else {
					matcher = anchors
				}
				defer engine.Shutdown()
			}
		} else {
			log.Warnf("embedding engine not configured: %v", err)
		}
	}
	estimator := complexity.NewEstimator(matcher)

	sink, err := audit.NewSink(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		LogPath:    cfg.Audit.Path,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit sink: %w", err)
	}
	defer sink.Close()

	steeringEngine := steering.NewEngine(steeringRules(cfg.Steering))

	engine := decision.NewEngine(
		registry,
		decision.Thresholds{Local: cfg.Routing.LocalThreshold, Cloud: cfg.Routing.CloudThreshold},
		cfg.Routing.CategoryPriority,
		steeringEngine,
		sink,
	)

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		var store *cache.Store
		if cfg.Cache.PersistPath != "" {
			store, err = cache.OpenStore(cfg.Cache.PersistPath)
			if err != nil {
				log.Warnf("cache persistence unavailable: %v", err)
			} else {
				defer store.Close()
			}
		}
		responseCache = cache.New(cache.Config{
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			TTL:                 cfg.Cache.CacheTTL(),
			MaxEntries:          cfg.Cache.MaxEntries,
		}, store)
		responseCache.StartSweeper()
		defer responseCache.Stop()
	}

	validator := quality.NewValidator(quality.Thresholds{
		Overall:      cfg.Quality.Overall,
		Relevance:    cfg.Quality.Relevance,
		Completeness: cfg.Quality.Completeness,
		Accuracy:     cfg.Quality.Accuracy,
		Coherence:    cfg.Quality.Coherence,
		Safety:       cfg.Quality.Safety,
	})

	exec := executor.NewStreamingExecutor(registry, executor.MonitorConfig{
		MinChunks:             cfg.Streaming.MinChunks,
		CheckInterval:         cfg.Streaming.CheckInterval,
		RepetitionWindow:      cfg.Streaming.RepetitionWindow,
		RepetitionLimit:       cfg.Streaming.RepetitionLimit,
		MinCoherence:          cfg.Streaming.MinCoherence,
		MaxUncertaintyDensity: cfg.Streaming.MaxUncertaintyDensity,
	})

	// The advisor consults the local model for a complexity reading before
	// routing. It needs a registered local adapter to be useful.
	var advisor *decision.MetaPromptAdvisor
	if cfg.Routing.MetaPromptAdvisor {
		if local, ok := registry.Local(); ok {
			if adapter, err := registry.Adapter(local.ID); err == nil {
				advisor = decision.NewMetaPromptAdvisor(adapter, engine)
			}
		}
		if advisor == nil {
			log.Warn("meta-prompt advisor enabled but no local adapter is available")
		}
	}

	service := orchestrator.NewService(orchestrator.Options{
		Registry:  registry,
		Estimator: estimator,
		Engine:    engine,
		Advisor:   advisor,
		Executor:  exec,
		Validator: validator,
		Cache:     responseCache,
		Sink:      sink,
	})

	// Hot-reload steering rules on config changes; other sections require
	// a restart.
	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		steeringEngine.SetRules(steeringRules(next.Steering))
	})
	if err := watcher.Start(); err != nil {
		log.Warnf("configuration watcher unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	metrics := map[string]api.MetricsSource{
		"orchestrator": service,
		"decisions":    engine,
		"quality":      validator,
		"executor":     exec,
	}
	if responseCache != nil {
		metrics["cache"] = mapSource{responseCache.GetMetricsAsMap}
	}

	server := api.NewServer(service, metrics, cfg.Debug)
	return server.Run(cfg.Host, cfg.Port)
}

// buildRegistry constructs descriptors and adapters from configuration.
func buildRegistry(cfg *config.Config) (*backend.Registry, error) {
	descriptors := make([]backend.Descriptor, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		descriptors = append(descriptors, backend.Descriptor{
			ID:               b.ID,
			Provider:         b.Provider,
			Model:            b.Model,
			Local:            b.Local,
			BaseLatencyMs:    b.BaseLatencyMs,
			CostPer1KTokens:  b.CostPer1KTokens,
			MaxContextTokens: b.MaxContextTokens,
			NoStreaming:      b.NoStreaming,
		})
	}
	registry := backend.NewRegistry(descriptors)

	for _, b := range cfg.Backends {
		switch b.Provider {
		case "ollama":
			registry.RegisterAdapter(b.ID, backend.NewOllamaAdapter(b.BaseURL))
		case "openai-compat":
			key := b.APIKey()
			if key == "" && !b.Local {
				log.Warnf("backend %s has no API key configured", b.ID)
			}
			registry.RegisterAdapter(b.ID, backend.NewOpenAICompatAdapter(b.ID, b.BaseURL, key))
		default:
			return nil, fmt.Errorf("backend %s: unknown provider %q", b.ID, b.Provider)
		}
	}
	return registry, nil
}

func steeringRules(rules []config.SteeringRule) []steering.Rule {
	out := make([]steering.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, steering.Rule{
			Name:       r.Name,
			Condition:  r.Condition,
			Priority:   r.Priority,
			Backend:    r.Backend,
			ForceLocal: r.ForceLocal,
		})
	}
	return out
}

// mapSource adapts a plain map accessor to the MetricsSource interface.
type mapSource struct {
	fn func() map[string]interface{}
}

func (m mapSource) GetMetrics() map[string]interface{} { return m.fn() }
