package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/config"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/db"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/dispatch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/fetch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/memory"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/observability"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/projects"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/research"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/runs"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store/inmem"
)

// loadSettings reads the --config flag and layers the environment on top.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// app is the wired set of long-lived collaborators.
type app struct {
	settings    *config.Settings
	logger      *zap.Logger
	memory      *memory.SQLiteStore
	runRepo     store.RunRepository
	projectRepo store.ProjectRepository
	database    *db.DB
	llm         llm.Client
	engine      *pipeline.Engine
	pool        *dispatch.Pool
	broker      *runs.Broker
	coordinator *runs.Coordinator
	projects    *projects.Service
}

// appOptions carries the optional measurement hooks.
type appOptions struct {
	observer llm.CallObserver
	recorder runs.Recorder
}

func newApp(ctx context.Context, s *config.Settings, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{settings: s, logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts appOptions) (err error) {
	s, logger := a.settings, a.logger

	if a.memory, err = memory.NewSQLiteStore(memory.Config{DataDir: s.MemoryDir}); err != nil {
		return err
	}

	if s.DatabaseURL != "" {
		if a.database, err = db.Connect(ctx, s.DatabaseURL); err != nil {
			return err
		}
		if err = a.database.Migrate(ctx); err != nil {
			return err
		}
		a.runRepo, a.projectRepo = a.database, a.database
		logger.Info("using postgres repositories")
	} else {
		repo := inmem.New()
		a.runRepo, a.projectRepo = repo, repo
		logger.Info("using in-memory repositories; runs are lost on restart")
	}

	grounder, err := newGrounder(ctx, s, logger)
	if err != nil {
		return err
	}
	modelCfg := llm.DefaultGeminiConfig().
		WithModel(llm.TierStandard, s.GeminiModel).
		WithModel(llm.TierResearch, s.GeminiResearchModel)
	client, err := llm.NewClient(ctx, modelCfg, s.GeminiAPIKey, grounder)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = llm.NewRetryingClient(client, llm.RetryConfig{
		Attempts: s.RetryAttempts,
		Initial:  s.RetryInitial(),
		Max:      s.RetryMax(),
	}, logger, opts.observer)

	a.engine, err = pipeline.NewDefaultEngine(pipeline.Deps{
		LLM:    a.llm,
		Memory: a.memory,
		Assets: pipeline.NewFileAssetWriter(s.OutputDir, logger),
		Settings: pipeline.Settings{
			MinIdeas:  s.MinIdeas,
			TopPlays:  s.TopPlays,
			Grounding: grounder != nil,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	a.pool = dispatch.NewPool(s.Workers, logger)
	a.broker = runs.NewBroker(logger)
	a.coordinator, err = runs.NewCoordinator(runs.Config{
		Runs:       a.runRepo,
		Engine:     a.engine,
		Dispatcher: a.pool,
		Broker:     a.broker,
		Recorder:   opts.recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	a.projects, err = projects.NewService(projects.Config{
		Projects: a.projectRepo,
		Runs:     a.runRepo,
		Starter:  a.coordinator,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return nil
}

// newGrounder returns nil when grounding is off or not configured.
func newGrounder(ctx context.Context, s *config.Settings, logger *zap.Logger) (llm.Grounder, error) {
	if !s.Grounding {
		return nil, nil
	}
	if !s.GroundingConfigured() {
		logger.Warn("grounding requested but SEARCH_API_KEY or SEARCH_ENGINE_ID is missing; continuing without it")
		return nil, nil
	}
	searcher, err := research.NewResearcher(ctx, s.SearchAPIKey, s.SearchEngineID)
	if err != nil {
		return nil, err
	}
	pageCfg := fetch.DefaultPageFetcherConfig()
	pageCfg.UseBrowser = s.UseBrowser
	pages := fetch.NewPageFetcher(pageCfg, logger)
	return research.NewWebGrounder(searcher, pages, research.DefaultGrounderConfig(), logger), nil
}

// Close releases resources in reverse order of creation. The worker pool is
// drained separately by the caller.
func (a *app) Close() {
	var errs []error
	if a.llm != nil {
		errs = append(errs, a.llm.Close())
	}
	if a.database != nil {
		a.database.Close()
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("errors while closing", zap.Error(err))
	}
}

// newLogger builds the logger from settings. Development output is used for
// interactive commands.
func newLogger(s *config.Settings, development bool) (*zap.Logger, error) {
	return observability.NewLogger(s.LogLevel, development)
}
