package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-platform/internal/agent"
	"agent-platform/internal/config"
	"agent-platform/internal/dispatch"
	"agent-platform/internal/engine"
	"agent-platform/internal/knowledge"
	"agent-platform/internal/memory"
	"agent-platform/internal/observability/alerting"
	"agent-platform/internal/observability/metrics"
	"agent-platform/internal/storage/mysql"
	"agent-platform/pkg/logger"
)

const (
	housekeepingInterval = time.Minute
	memoryIdleTimeout    = 30 * time.Minute
)

// main 是 agentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		AddSource:   cfg.Log.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
			Compress:   cfg.Log.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("agentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 初始化大模型客户端。
	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}
	health := provider.HealthCheck(ctx)
	lg.Info("模型服务健康检查",
		slog.String("provider", health.Provider),
		slog.String("status", health.Status),
		slog.String("model", health.Model),
		slog.String("detail", health.Detail),
	)

	var db *sql.DB
	if cfg.NeedsMySQL() {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	memoryStore, err := createMemoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer memoryStore.Close()

	strategy, _ := memory.ParseStrategy(cfg.Memory.Strategy)
	memories := memory.NewManager(memoryStore,
		memory.WithStrategy(strategy),
		memory.WithWindowSize(cfg.Memory.WindowSize),
		memory.WithSummarizer(provider),
		memory.WithSummaryTokenLimit(cfg.Memory.SummaryTokenLimit),
		memory.WithTTL(time.Duration(cfg.Memory.TTLSeconds)*time.Second),
		memory.WithHistoryLimit(cfg.Memory.HistoryLimit),
		memory.WithLogger(logger.Named("memory")),
	)

	tools, err := createToolRegistry(ctx, cfg, db)
	if err != nil {
		return err
	}

	agents, err := createAgentRepository(ctx, cfg, db)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithMaxConcurrentTasks(cfg.Platform.MaxConcurrentTasks),
		engine.WithRAGDepth(cfg.Platform.RAGK),
		engine.WithHistoryWindow(cfg.Platform.HistoryWindow),
	}
	if cfg.Knowledge.Source != "" {
		knowledgeOpts := []knowledge.Option{knowledge.WithMaxResults(cfg.Knowledge.MaxResults)}
		if cfg.Knowledge.Synthesize {
			knowledgeOpts = append(knowledgeOpts, knowledge.WithSynthesizer(provider))
		}
		retriever, err := knowledge.LoadStaticRetriever(cfg.Knowledge.Source, knowledgeOpts...)
		if err != nil {
			return err
		}
		lg.Info("知识库已加载", slog.Int("documents", retriever.Len()))
		engineOpts = append(engineOpts, engine.WithRetriever(retriever))
	}
	if cfg.Storage.MySQL.RecordResults {
		engineOpts = append(engineOpts, engine.WithRecorder(mysql.NewTaskRecordRepository(db)))
	}
	eng := engine.New(provider, memories, tools, engineOpts...)

	jobStore := createJobStore(cfg, db)
	queue, err := createQueue(ctx, cfg)
	if err != nil {
		_ = jobStore.Close()
		return err
	}
	service := dispatch.NewService(jobStore, queue, eng, cfg.Dispatch.MaxRetries)
	defer func() {
		if err := service.Close(); err != nil {
			lg.Warn("关闭作业服务失败", slog.Any("error", err))
		}
	}()

	alerts := alerting.NewFanout(alerting.NewLogNotifier(logger.Named("alerting")))
	processor := dispatch.NewProcessor(eng, agents, jobStore, queue, queue,
		dispatch.WithWorkerCount(cfg.Dispatch.Workers),
		dispatch.WithRetryDelay(time.Duration(cfg.Dispatch.RetryDelayMS)*time.Millisecond),
		dispatch.WithProcessorLogger(logger.Named("dispatch")),
		dispatch.WithAlertDispatcher(alerts),
	)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("metrics 服务异常退出", slog.Any("error", err))
			}
		}()
	}

	processorErr := make(chan error, 1)
	go func() {
		processorErr <- processor.Start(ctx)
	}()

	lg.Info("agentd 已启动",
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("memory_driver", cfg.Memory.Driver),
		slog.String("job_store", cfg.Dispatch.Store),
		slog.String("queue", cfg.Dispatch.Queue),
		slog.Int("workers", cfg.Dispatch.Workers),
		slog.Any("alert_channels", alerts.Channels()),
		slog.String("metrics_address", cfg.Metrics.Address),
	)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("收到退出信号，agentd 正在停止")
			return nil
		case err := <-processorErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("作业处理器异常退出: %w", err)
			}
			return nil
		case <-ticker.C:
			housekeeping(ctx, lg, memories, eng, service)
		}
	}
}

// housekeeping 回收空闲的记忆句柄并输出运行概况。
func housekeeping(ctx context.Context, lg *slog.Logger, memories *memory.Manager, eng *engine.Engine, service *dispatch.Service) {
	dropped := memories.CleanupIdle(memoryIdleTimeout)
	stats, err := service.Stats(ctx)
	if err != nil {
		lg.Warn("统计作业失败", slog.Any("error", err))
		return
	}
	lg.Info("运行概况",
		slog.Int("active_tasks", len(eng.ActiveTasks())),
		slog.Int("memory_handles", memories.Len()),
		slog.Int("memory_dropped", dropped),
		slog.Int("jobs_pending", stats.Pending),
		slog.Int("jobs_running", stats.Running),
		slog.Int("jobs_failed", stats.Failed),
	)
}

// seedAgents 把引导文件中的智能体写入仓库，未配置超时的使用平台默认值。
func seedAgents(cfg *config.Config, put func(*agent.Agent) error) (int, error) {
	if cfg.Agents.Bootstrap == "" {
		return 0, nil
	}
	agents, err := agent.LoadFile(cfg.Agents.Bootstrap)
	if err != nil {
		return 0, err
	}
	for _, ag := range agents {
		if ag.Limits.TimeoutSeconds == agent.DefaultTimeoutSeconds && cfg.Platform.AgentTimeoutSeconds > 0 {
			ag.Limits.TimeoutSeconds = cfg.Platform.AgentTimeoutSeconds
		}
		if err := put(ag); err != nil {
			return 0, err
		}
	}
	return len(agents), nil
}
