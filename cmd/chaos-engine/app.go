package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-chaos/internal/breaker"
	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/incidents"
	"github.com/miradorstack/mirador-chaos/internal/policy"
	"github.com/miradorstack/mirador-chaos/internal/quality"
	"github.com/miradorstack/mirador-chaos/internal/replay"
	"github.com/miradorstack/mirador-chaos/internal/repo"
	"github.com/miradorstack/mirador-chaos/internal/router"
	"github.com/miradorstack/mirador-chaos/internal/services"
	"github.com/miradorstack/mirador-chaos/internal/slo"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

// backend is what both provider clients offer.
type backend interface {
	router.Generator
	repo.Embedder
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    *control.State
	injector *chaos.Injector
	router   *router.Router
	targets  slo.Targets
	policies []policy.Policy
	pipeline *engine.Pipeline
	runner   *replay.Runner
	service  *services.ChaosService
}

func newBackend(cfg config.ModelsConfig) backend {
	if strings.EqualFold(cfg.Provider, "openai") {
		return repo.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Embedding)
	}
	return repo.NewOllamaClient(cfg.BaseURL, cfg.Embedding, cfg.Timeout)
}

// buildApp wires every component from cfg. It does not open listeners or
// contact any backend. Only an unusable retrieval endpoint is fatal.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	state := control.NewState(cfg.Chaos.Enabled)

	// Broken governance files degrade to a disabled configuration; the
	// engine keeps serving.
	faults, err := chaos.LoadFaultTable(cfg.Chaos.FaultsPath)
	if err != nil {
		logger.Warn("fault table unreadable, all faults disabled", slog.String("path", cfg.Chaos.FaultsPath), slog.Any("error", err))
		faults = chaos.FaultTable{}
	}
	injector := chaos.NewInjector(state, faults, chaos.WithLogger(utils.Component(logger, "chaos")))

	targets, err := slo.LoadTargets(cfg.SLO.Path)
	if err != nil {
		logger.Warn("slo targets unreadable, using defaults", slog.String("path", cfg.SLO.Path), slog.Any("error", err))
		targets = slo.DefaultTargets()
	}
	policies, err := policy.LoadPolicies(cfg.Policies.Path)
	if err != nil {
		logger.Warn("policies unreadable, governance disabled", slog.String("path", cfg.Policies.Path), slog.Any("error", err))
		policies = nil
	}

	client := newBackend(cfg.Models)
	rt := router.New(router.Config{
		Primary:        cfg.Models.Primary,
		Secondary:      cfg.Models.Secondary,
		MaxRetries:     cfg.Router.MaxRetries,
		AttemptTimeout: cfg.Models.Timeout,
		CacheTTL:       cfg.Router.CacheTTL,
		CacheCapacity:  cfg.Router.CacheCapacity,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Router.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Router.Breaker.RecoveryTimeout,
			HalfOpenTrials:   cfg.Router.Breaker.HalfOpenTrials,
		},
	}, client, utils.Component(logger, "router"))

	retriever, err := repo.NewWeaviateRetriever(
		cfg.Weaviate.Endpoint,
		cfg.Weaviate.APIKey,
		cfg.Weaviate.ClassName,
		cfg.Weaviate.TopK,
		cfg.Weaviate.Timeout,
		client,
	)
	if err != nil {
		return nil, fmt.Errorf("weaviate retriever: %w", err)
	}

	evaluator := slo.NewEvaluator(targets, nil)
	actions := policy.NewActions(state, rt, utils.Component(logger, "policy"))
	policyEngine := policy.NewEngine(policies, actions, utils.Component(logger, "policy"))
	incidentManager := incidents.NewManager(client, cfg.Models.Judge, utils.Component(logger, "incidents"))
	scorer := quality.NewScorer(client, client, cfg.Models.Judge, utils.Component(logger, "quality"))

	var sampler engine.Sampler
	shadow, err := replay.NewShadowLogger(cfg.Shadow.Path, cfg.Shadow.SampleRate, utils.Component(logger, "shadow"))
	if err != nil {
		logger.Warn("shadow sampling disabled", slog.Any("error", err))
	} else {
		sampler = shadow
	}

	pipeline := engine.NewPipeline(
		utils.Component(logger, "pipeline"),
		state,
		injector,
		retriever,
		rt,
		scorer,
		evaluator,
		policyEngine,
		incidentManager,
		sampler,
		cfg.Incidents.MinInterval,
	)

	runner := replay.NewRunner(
		cfg.Shadow.Path,
		pipeline.Replay,
		state,
		rt,
		replay.NewComparator(client, cfg.Replay.SimilarityThreshold),
		utils.Component(logger, "replay"),
	)

	service := services.NewChaosService(
		utils.Component(logger, "service"),
		state,
		pipeline,
		rt,
		injector,
		evaluator,
		incidentManager,
		runner,
		cfg.Chaos.FaultsPath,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		state:    state,
		injector: injector,
		router:   rt,
		targets:  targets,
		policies: policies,
		pipeline: pipeline,
		runner:   runner,
		service:  service,
	}, nil
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	return buildApp(cfg, logger)
}
