package cmd

import (
	"fmt"
	"io"

	"samay/internal/activity"
	"samay/internal/analyzer"
	"samay/internal/auth"
	"samay/internal/config"
	"samay/internal/insight"
	"samay/internal/logger"
	"samay/internal/project"
	"samay/internal/server"
	"samay/internal/storage"
	"samay/internal/tagging"
	"samay/internal/task"
)

// app holds the long-lived components every command builds from config
type app struct {
	cfg      *config.Config
	storage  *storage.Storage
	cache    tagging.Cache
	resolver *tagging.Resolver
	executor *task.Executor
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Database.EnsureDBPath(); err != nil {
		return nil, fmt.Errorf("failed to create db path: %w", err)
	}

	st, err := storage.NewStorage(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cache, err := tagging.NewCache(cfg.Tags, cfg.Redis)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize tag cache: %w", err)
	}

	llm := analyzer.NewGenerator(cfg.OpenAI)
	if llm == nil {
		logger.GetLogger().Warn("OpenAI API key not set; tagging and insight jobs are disabled")
	}

	executor, err := task.NewExecutor(cfg, st, llm)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return &app{
		cfg:      cfg,
		storage:  st,
		cache:    cache,
		resolver: tagging.NewResolver(st.Tags, cache),
		executor: executor,
	}, nil
}

func (a *app) serverDeps() (server.Deps, error) {
	authSvc, err := auth.NewService(a.storage, a.cfg.Auth)
	if err != nil {
		return server.Deps{}, err
	}
	loc := a.executor.Location()
	return server.Deps{
		Auth:       authSvc,
		Activities: activity.NewService(a.storage, a.resolver, a.cfg.Activity.ExcludedApps, loc),
		Projects:   project.NewService(a.storage),
		Insights:   insight.NewService(a.storage, a.executor, loc),
		Tags:       tagging.NewService(a.storage),
		Jobs:       a.executor,
		DB:         a.storage,
	}, nil
}

func (a *app) Close() {
	if c, ok := a.cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.GetLogger().Warnf("Failed to close tag cache: %v", err)
		}
	}
	if err := a.storage.Close(); err != nil {
		logger.GetLogger().Warnf("Failed to close storage: %v", err)
	}
}
