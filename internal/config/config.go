package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTD_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/agentd.yaml"

// Config 描述了 agentd 在启动阶段需要加载的核心配置。
type Config struct {
	Platform  PlatformConfig  `json:"platform" yaml:"platform"`
	Log       LogConfig       `json:"log" yaml:"log"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Tools     ToolsConfig     `json:"tools" yaml:"tools"`
	Agents    AgentsConfig    `json:"agents" yaml:"agents"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// PlatformConfig 控制执行引擎的全局参数。
type PlatformConfig struct {
	MaxConcurrentTasks  int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	AgentTimeoutSeconds int `json:"agent_timeout_seconds" yaml:"agent_timeout_seconds"`
	HistoryWindow       int `json:"history_window" yaml:"history_window"`
	RAGK                int `json:"rag_k" yaml:"rag_k"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string         `json:"level" yaml:"level"`
	Format      string         `json:"format" yaml:"format"`
	OutputPaths []string       `json:"output_paths" yaml:"output_paths"`
	AddSource   bool           `json:"add_source" yaml:"add_source"`
	Audit       AuditLogConfig `json:"audit" yaml:"audit"`
}

// AuditLogConfig 描述审计日志的落盘与轮转。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider          string         `json:"provider" yaml:"provider"`
	OpenAI            ProviderConfig `json:"openai" yaml:"openai"`
	Anthropic         ProviderConfig `json:"anthropic" yaml:"anthropic"`
	RequestsPerSecond float64        `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int            `json:"burst" yaml:"burst"`
}

// ProviderConfig 描述单个模型服务商的连接参数。
type ProviderConfig struct {
	APIKey         string  `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string  `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	Model          string  `json:"model" yaml:"model"`
	EmbeddingModel string  `json:"embedding_model" yaml:"embedding_model"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries" yaml:"max_retries"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	MaxTokens      int64   `json:"max_tokens" yaml:"max_tokens"`
}

// MemoryConfig 控制上下文存储与对话缓冲。
type MemoryConfig struct {
	Driver            string      `json:"driver" yaml:"driver"`
	Strategy          string      `json:"strategy" yaml:"strategy"`
	WindowSize        int         `json:"window_size" yaml:"window_size"`
	SummaryTokenLimit int         `json:"summary_token_limit" yaml:"summary_token_limit"`
	TTLSeconds        int         `json:"ttl_seconds" yaml:"ttl_seconds"`
	HistoryLimit      int         `json:"history_limit" yaml:"history_limit"`
	Redis             RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address     string `json:"address" yaml:"address"`
	Password    string `json:"password" yaml:"password"`
	PasswordEnv string `json:"password_env" yaml:"password_env"`
	DB          int    `json:"db" yaml:"db"`
	KeyPrefix   string `json:"key_prefix" yaml:"key_prefix"`
}

// ToolsConfig 控制工具目录的来源。
type ToolsConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	SeedBuiltin *bool  `json:"seed_builtin" yaml:"seed_builtin"`
}

// AgentsConfig 控制智能体快照的来源。
type AgentsConfig struct {
	Driver    string `json:"driver" yaml:"driver"`
	Bootstrap string `json:"bootstrap" yaml:"bootstrap"`
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	MySQL MySQLConfig `json:"mysql" yaml:"mysql"`
}

// MySQLConfig 描述连接池与持久化开关。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	DSNEnv                 string `json:"dsn_env" yaml:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
	AutoMigrate            bool   `json:"auto_migrate" yaml:"auto_migrate"`
	RecordResults          bool   `json:"record_results" yaml:"record_results"`
}

// KnowledgeConfig 描述本地知识库。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
	Synthesize bool   `json:"synthesize" yaml:"synthesize"`
}

// DispatchConfig 描述异步作业的队列与重试参数。
type DispatchConfig struct {
	Store        string         `json:"store" yaml:"store"`
	Queue        string         `json:"queue" yaml:"queue"`
	Workers      int            `json:"workers" yaml:"workers"`
	MaxRetries   int            `json:"max_retries" yaml:"max_retries"`
	RetryDelayMS int            `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	BufferSize   int            `json:"buffer_size" yaml:"buffer_size"`
	Redis        QueueRedis     `json:"redis" yaml:"redis"`
	RabbitMQ     RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// QueueRedis 描述 Redis 作业队列。
type QueueRedis struct {
	RedisConfig      `json:",inline" yaml:",inline"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 作业队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	URLEnv     string `json:"url_env" yaml:"url_env"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// MetricsConfig 控制 /metrics 端点，Address 为空时不启动。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// ResolvePath 返回环境变量指定的配置路径，未设置时返回默认值。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 或 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Platform.MaxConcurrentTasks == 0 {
		c.Platform.MaxConcurrentTasks = 10
	}
	if c.Platform.AgentTimeoutSeconds <= 0 {
		c.Platform.AgentTimeoutSeconds = 300
	}
	if c.Platform.HistoryWindow <= 0 {
		c.Platform.HistoryWindow = 10
	}
	if c.Platform.RAGK <= 0 {
		c.Platform.RAGK = 4
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stdout"}
	}
	for i, p := range c.Log.OutputPaths {
		if p != "stdout" && p != "stderr" {
			c.Log.OutputPaths[i] = resolvePath(baseDir, p)
		}
	}
	if c.Log.Audit.Path == "" {
		c.Log.Audit.Path = "logs/audit.log"
	}
	c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)
	if c.Log.Audit.MaxSizeMB <= 0 {
		c.Log.Audit.MaxSizeMB = 100
	}
	if c.Log.Audit.MaxBackups <= 0 {
		c.Log.Audit.MaxBackups = 7
	}
	if c.Log.Audit.MaxAgeDays <= 0 {
		c.Log.Audit.MaxAgeDays = 30
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.EmbeddingModel == "" {
		c.LLM.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	for _, p := range []*ProviderConfig{&c.LLM.OpenAI, &c.LLM.Anthropic} {
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 60
		}
		if p.MaxRetries < 0 {
			p.MaxRetries = 0
		}
	}
	if c.LLM.RequestsPerSecond > 0 && c.LLM.Burst <= 0 {
		c.LLM.Burst = 1
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}
	if c.Memory.Strategy == "" {
		c.Memory.Strategy = "window"
	}
	if c.Memory.WindowSize <= 0 {
		c.Memory.WindowSize = 10
	}
	if c.Memory.SummaryTokenLimit <= 0 {
		c.Memory.SummaryTokenLimit = 2000
	}
	if c.Memory.TTLSeconds <= 0 {
		c.Memory.TTLSeconds = 86400
	}
	if c.Memory.HistoryLimit <= 0 {
		c.Memory.HistoryLimit = 20
	}

	if c.Tools.Driver == "" {
		c.Tools.Driver = "memory"
	}
	if c.Tools.SeedBuiltin == nil {
		seed := true
		c.Tools.SeedBuiltin = &seed
	}

	if c.Agents.Driver == "" {
		c.Agents.Driver = "memory"
	}
	if c.Agents.Bootstrap != "" {
		c.Agents.Bootstrap = resolvePath(baseDir, c.Agents.Bootstrap)
	}

	if c.Storage.MySQL.MaxOpenConns <= 0 {
		c.Storage.MySQL.MaxOpenConns = 10
	}
	if c.Storage.MySQL.MaxIdleConns <= 0 {
		c.Storage.MySQL.MaxIdleConns = 5
	}
	if c.Storage.MySQL.ConnMaxLifetimeSeconds <= 0 {
		c.Storage.MySQL.ConnMaxLifetimeSeconds = 1800
	}

	if c.Knowledge.Source != "" {
		c.Knowledge.Source = resolvePath(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Dispatch.Store == "" {
		c.Dispatch.Store = "memory"
	}
	if c.Dispatch.Queue == "" {
		c.Dispatch.Queue = "memory"
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.MaxRetries <= 0 {
		c.Dispatch.MaxRetries = 3
	}
	if c.Dispatch.RetryDelayMS < 0 {
		c.Dispatch.RetryDelayMS = 0
	}
	if c.Dispatch.BufferSize <= 0 {
		c.Dispatch.BufferSize = 128
	}
	if c.Dispatch.Redis.BlockWaitSeconds <= 0 {
		c.Dispatch.Redis.BlockWaitSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
}

// resolveSecrets 用 *_env 指定的环境变量补齐未直接填写的密钥。
func (c *Config) resolveSecrets() {
	fromEnv(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	fromEnv(&c.LLM.Anthropic.APIKey, c.LLM.Anthropic.APIKeyEnv)
	fromEnv(&c.Memory.Redis.Password, c.Memory.Redis.PasswordEnv)
	fromEnv(&c.Dispatch.Redis.Password, c.Dispatch.Redis.PasswordEnv)
	fromEnv(&c.Storage.MySQL.DSN, c.Storage.MySQL.DSNEnv)
	fromEnv(&c.Dispatch.RabbitMQ.URL, c.Dispatch.RabbitMQ.URLEnv)
}

func fromEnv(target *string, key string) {
	if strings.TrimSpace(*target) != "" || key == "" {
		return
	}
	*target = strings.TrimSpace(os.Getenv(key))
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查枚举字段与驱动之间的依赖关系。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, v := range allowed {
			if value == v {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unsupported value %q (allowed: %s)", field, value, strings.Join(allowed, ", ")))
	}

	check("llm.provider", c.LLM.Provider, "openai", "anthropic")
	check("memory.driver", c.Memory.Driver, "memory", "redis")
	check("memory.strategy", c.Memory.Strategy, "window", "summary")
	check("tools.driver", c.Tools.Driver, "memory", "mysql")
	check("agents.driver", c.Agents.Driver, "memory", "mysql")
	check("dispatch.store", c.Dispatch.Store, "memory", "mysql")
	check("dispatch.queue", c.Dispatch.Queue, "memory", "redis", "rabbitmq")

	if c.Memory.Driver == "redis" && c.Memory.Redis.Address == "" {
		errs = append(errs, errors.New("memory.redis.address is required when memory.driver is redis"))
	}
	if c.Dispatch.Queue == "redis" && c.Dispatch.Redis.Address == "" {
		errs = append(errs, errors.New("dispatch.redis.address is required when dispatch.queue is redis"))
	}
	if c.Dispatch.Queue == "rabbitmq" && c.Dispatch.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("dispatch.rabbitmq.url is required when dispatch.queue is rabbitmq"))
	}
	if c.NeedsMySQL() && c.Storage.MySQL.DSN == "" {
		errs = append(errs, errors.New("storage.mysql.dsn is required by the configured drivers"))
	}
	if c.Platform.MaxConcurrentTasks < 0 {
		errs = append(errs, errors.New("platform.max_concurrent_tasks must not be negative"))
	}
	return errors.Join(errs...)
}

// NeedsMySQL 判断是否有组件依赖 MySQL。
func (c *Config) NeedsMySQL() bool {
	return c.Tools.Driver == "mysql" ||
		c.Agents.Driver == "mysql" ||
		c.Dispatch.Store == "mysql" ||
		c.Storage.MySQL.RecordResults
}
