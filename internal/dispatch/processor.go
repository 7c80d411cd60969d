package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"agent-platform/internal/agent"
	"agent-platform/internal/engine"
	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/observability/alerting"
	"agent-platform/internal/observability/metrics"
	"agent-platform/pkg/logger"
)

// Executor 定义了处理器所需的引擎能力，*engine.Engine 满足该接口。
type Executor interface {
	ExecuteChatTask(ctx context.Context, ag *agent.Agent, message string, ec *engine.ExecutionContext, opts engine.ChatOptions) engine.TaskResult
	ExecuteToolTask(ctx context.Context, ag *agent.Agent, taskType string, input map[string]any, ec *engine.ExecutionContext) engine.TaskResult
}

// Processor 负责从队列消费作业并交给引擎执行。
type Processor struct {
	executor    Executor
	agents      agent.Repository
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	retryDelay  time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定诊断日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetryDelay 设置可重试失败后重新入队前的等待时间。
func WithRetryDelay(delay time.Duration) ProcessorOption {
	return func(p *Processor) {
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, agents agent.Repository, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		agents:      agents,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.logger == nil {
		p.logger = logger.Discard()
	}
	return p
}

// Start 启动作业处理循环，阻塞直到 ctx 结束或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 只在作业需要由队列重新投递时返回错误。
func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil || p.agents == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if IsSkippable(err) {
			p.logger.Debug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	ag, err := p.agents.Get(ctx, job.AgentID)
	if err != nil {
		code := CodeJobAgentUnavailable
		if !stdErrors.Is(err, agent.ErrAgentNotFound) {
			code = xerrors.CodeOf(err)
		}
		return p.handleFailure(ctx, job, code, xerrors.MessageOf(err), xerrors.RetryableError(err), nil)
	}
	if !ag.CanExecute() {
		message := fmt.Sprintf("agent %s cannot execute tasks in status %s", ag.ID, ag.Status)
		return p.handleFailure(ctx, job, CodeJobAgentUnavailable, message, false, nil)
	}

	result := p.execute(ctx, ag.Snapshot(), job)
	switch result.Status {
	case engine.StatusCompleted:
		return p.handleSuccess(ctx, job, result)
	case engine.StatusCancelled:
		if _, err := p.store.MarkCancelled(ctx, job.ID); err != nil && !stdErrors.Is(err, ErrJobCompleted) {
			p.logger.Error("标记作业取消状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		}
		logger.Audit().Info("作业执行被取消", slog.String("job_id", job.ID), slog.String("agent_id", job.AgentID))
		metrics.ObserveJob(string(job.Kind), string(StatusCancelled))
		return nil
	default:
		code := result.ErrorCode
		if code == "" || code == xerrors.CodeUnknown {
			code = CodeJobProcessing
		}
		retryable := result.ErrorCode != "" && xerrors.AttributesOf(result.ErrorCode).Retryable
		return p.handleFailure(ctx, job, code, result.ErrorMessage, retryable, &result)
	}
}

func (p *Processor) execute(ctx context.Context, ag *agent.Agent, job *Job) engine.TaskResult {
	ec := &engine.ExecutionContext{
		TaskID:    job.ID,
		AgentID:   job.AgentID,
		SessionID: job.SessionID,
		UserID:    job.UserID,
		Metadata:  cloneMetadata(job.Metadata),
	}
	if job.Kind == KindChat {
		return p.executor.ExecuteChatTask(ctx, ag, job.Message, ec, engine.ChatOptions{
			UseRAG:     job.UseRAG,
			Collection: job.Collection,
		})
	}
	return p.executor.ExecuteToolTask(ctx, ag, job.TaskType, cloneMetadata(job.Input), ec)
}

func (p *Processor) handleSuccess(ctx context.Context, job *Job, result engine.TaskResult) error {
	if err := p.store.MarkCompleted(ctx, job.ID, result); err != nil {
		if stdErrors.Is(err, ErrJobCancelled) {
			p.logger.Info("作业在完成前已被取消", slog.String("job_id", job.ID))
			return nil
		}
		p.logger.Error("标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return p.handleFailure(ctx, job, xerrors.CodeOf(err), err.Error(), true, &result)
	}
	metrics.ObserveJob(string(job.Kind), string(StatusCompleted))
	logger.Audit().Info("作业执行成功",
		slog.String("job_id", job.ID),
		slog.String("agent_id", job.AgentID),
		slog.Int("attempts", job.Attempts),
		slog.Int64("execution_time_ms", result.ExecutionTimeMS),
	)
	return nil
}

// handleFailure 记录失败。可重试且仍有次数时作业回到 pending 并重新入队，
// 否则作业进入 failed 终态并发出告警。
func (p *Processor) handleFailure(ctx context.Context, job *Job, code xerrors.Code, message string, retryable bool, result *engine.TaskResult) error {
	terminal := !retryable || job.Attempts >= job.MaxRetries

	if err := p.store.MarkFailed(ctx, job.ID, code, message, terminal, result); err != nil {
		if stdErrors.Is(err, ErrJobCancelled) {
			return nil
		}
		p.logger.Error("标记作业失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", job.ID),
		slog.String("agent_id", job.AgentID),
		slog.Bool("terminal", terminal),
		slog.String("error", message),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		metrics.ObserveJob(string(job.Kind), string(StatusFailed))
		stage := "terminal"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, job, code, xerrors.New(code, message), stage)
		return nil
	}

	if p.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.retryDelay):
		}
	}
	if p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业生产者，无法重投")
	}
	if err := p.producer.Publish(ctx, job.ID); err != nil {
		return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 重投失败", job.ID))
	}
	metrics.ObserveJob(string(job.Kind), "retried")
	p.logger.Debug("作业已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = xerrors.MessageOf(cause)
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		AgentID:    job.AgentID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata: map[string]string{
			"stage": stage,
			"kind":  string(job.Kind),
		},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
