package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"agent-platform/internal/agent"
	"agent-platform/internal/config"
	"agent-platform/internal/dispatch"
	"agent-platform/internal/llm"
	"agent-platform/internal/llm/anthropic"
	"agent-platform/internal/llm/openai"
	"agent-platform/internal/memory"
	"agent-platform/internal/storage/mysql"
	"agent-platform/internal/storage/redis"
	"agent-platform/internal/tool"
	"agent-platform/pkg/logger"
)

func createProvider(cfg *config.Config) (llm.Provider, error) {
	var (
		provider llm.Provider
		err      error
	)
	switch cfg.LLM.Provider {
	case "openai":
		c := cfg.LLM.OpenAI
		provider, err = openai.New(openai.Config{
			APIKey:         c.APIKey,
			BaseURL:        c.BaseURL,
			Model:          c.Model,
			EmbeddingModel: c.EmbeddingModel,
			Timeout:        time.Duration(c.TimeoutSeconds) * time.Second,
			MaxRetries:     c.MaxRetries,
			Temperature:    c.Temperature,
			MaxTokens:      c.MaxTokens,
		})
	case "anthropic":
		c := cfg.LLM.Anthropic
		provider, err = anthropic.New(anthropic.Config{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Timeout:     time.Duration(c.TimeoutSeconds) * time.Second,
			MaxRetries:  c.MaxRetries,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.RateLimited(provider, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst), nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	c := cfg.Storage.MySQL
	db, err := mysql.Open(ctx, mysql.Config{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if c.AutoMigrate {
		if err := mysql.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func createMemoryStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.Memory.Driver != "redis" {
		return memory.NewMemoryStore(), nil
	}
	r := cfg.Memory.Redis
	return redis.NewContextStore(ctx, redis.Config{
		Address:   r.Address,
		Password:  r.Password,
		DB:        r.DB,
		KeyPrefix: r.KeyPrefix,
	})
}

func createToolRegistry(ctx context.Context, cfg *config.Config, db *sql.DB) (*tool.Registry, error) {
	var catalog tool.Catalog = tool.NewMemoryCatalog()
	if cfg.Tools.Driver == "mysql" {
		catalog = mysql.NewToolCatalog(db)
	}
	registry := tool.NewRegistry(catalog, tool.WithLogger(logger.Named("tools")))
	if *cfg.Tools.SeedBuiltin {
		if _, err := registry.Seed(ctx, tool.Builtins()); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func createAgentRepository(ctx context.Context, cfg *config.Config, db *sql.DB) (agent.Repository, error) {
	var (
		repo agent.Repository
		put  func(*agent.Agent) error
	)
	if cfg.Agents.Driver == "mysql" {
		store := mysql.NewAgentRepository(db)
		repo = store
		put = func(ag *agent.Agent) error { return store.Upsert(ctx, ag) }
	} else {
		store := agent.NewMemoryRepository()
		repo = store
		put = store.Put
	}
	seeded, err := seedAgents(cfg, put)
	if err != nil {
		return nil, err
	}
	if seeded > 0 {
		logger.Named("agents").Info("智能体引导完成",
			slog.String("driver", cfg.Agents.Driver),
			slog.Int("count", seeded),
		)
	}
	return repo, nil
}

func createJobStore(cfg *config.Config, db *sql.DB) dispatch.Store {
	if cfg.Dispatch.Store == "mysql" {
		return mysql.NewJobStore(db)
	}
	return dispatch.NewMemoryStore()
}

func createQueue(ctx context.Context, cfg *config.Config) (dispatch.Queue, error) {
	d := cfg.Dispatch
	switch d.Queue {
	case "redis":
		return dispatch.NewRedisQueue(ctx, dispatch.RedisQueueConfig{
			Address:   d.Redis.Address,
			Password:  d.Redis.Password,
			DB:        d.Redis.DB,
			Queue:     d.Redis.Queue,
			BlockWait: time.Duration(d.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:        d.RabbitMQ.URL,
			Queue:      d.RabbitMQ.Queue,
			Prefetch:   d.RabbitMQ.Prefetch,
			Durable:    d.RabbitMQ.Durable,
			AutoDelete: d.RabbitMQ.AutoDelete,
		})
	default:
		return dispatch.NewMemoryQueue(d.BufferSize), nil
	}
}
