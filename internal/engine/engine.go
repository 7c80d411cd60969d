package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-platform/internal/agent"
	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/knowledge"
	"agent-platform/internal/llm"
	"agent-platform/internal/memory"
	"agent-platform/internal/observability/metrics"
	"agent-platform/internal/tool"
	"agent-platform/pkg/logger"
)

const (
	DefaultRAGDepth      = 4
	DefaultHistoryWindow = 10
	DefaultCollection    = "default"
)

// Recorder 接收每个结束的任务，通常用于持久化执行记录。
type Recorder interface {
	RecordTask(ctx context.Context, record TaskRecord) error
}

type handlerEntry struct {
	tools   []string
	handler Handler
}

// Engine 负责单个任务的完整编排：登记、读取记忆与检索上下文、调用大模型或
// 任务处理器、写回记忆，最后注销。所有失败都转换为 TaskResult。
type Engine struct {
	provider      llm.Provider
	memories      *memory.Manager
	tools         *tool.Registry
	retriever     knowledge.Retriever
	recorder      Recorder
	registry      *Registry
	logger        *slog.Logger
	maxConcurrent int
	ragDepth      int
	historyWindow int
	now           func() time.Time

	mu       sync.RWMutex
	handlers map[string]handlerEntry
	fallback Handler
}

// Option 定制 Engine。
type Option func(*Engine)

// WithRetriever 配置检索增强服务。
func WithRetriever(r knowledge.Retriever) Option {
	return func(e *Engine) {
		e.retriever = r
	}
}

// WithRecorder 配置任务记录器。
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxConcurrentTasks 设置同时在途任务的上限，0 表示不限制。
func WithMaxConcurrentTasks(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxConcurrent = n
		}
	}
}

// WithRAGDepth 设置每次检索返回的资料条数。
func WithRAGDepth(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.ragDepth = k
		}
	}
}

// WithHistoryWindow 设置拼入提示词的历史消息条数。
func WithHistoryWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyWindow = n
		}
	}
}

// New 创建执行引擎并注册内置的任务处理器。
func New(provider llm.Provider, memories *memory.Manager, tools *tool.Registry, opts ...Option) *Engine {
	e := &Engine{
		provider:      provider,
		memories:      memories,
		tools:         tools,
		logger:        logger.Named("engine"),
		ragDepth:      DefaultRAGDepth,
		historyWindow: DefaultHistoryWindow,
		now:           time.Now,
		handlers:      make(map[string]handlerEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.memories == nil {
		e.memories = memory.NewManager(memory.NewMemoryStore(), memory.WithLogger(e.logger))
	}
	e.registry = NewRegistry(e.maxConcurrent)

	e.RegisterHandler("data_analysis", []string{"pandas_processor", "visualization_tool", "statistics_calculator"}, DataAnalysisHandler())
	e.RegisterHandler("content_generation", []string{"text_generator", "template_engine"}, ContentGenerationHandler(provider))
	e.RegisterHandler("code_review", []string{"code_analyzer", "security_scanner", "linter"}, CodeReviewHandler())
	e.RegisterHandler("web_scraping", []string{"web_scraper", "html_parser"}, GenericHandler(provider))
	e.RegisterHandler("file_processing", []string{"file_processor", "document_parser"}, GenericHandler(provider))
	e.fallback = GenericHandler(provider)
	return e
}

// RegisterHandler 为任务类型登记所需工具与处理器，重复登记会覆盖。
func (e *Engine) RegisterHandler(taskType string, requiredTools []string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = handlerEntry{tools: append([]string(nil), requiredTools...), handler: handler}
}

// RequiredTools 返回任务类型所需的工具，未登记的类型使用通用工具集。
func (e *Engine) RequiredTools(taskType string) []string {
	entry, ok := e.lookup(taskType)
	if !ok {
		return append([]string(nil), GenericTools...)
	}
	return append([]string(nil), entry.tools...)
}

func (e *Engine) lookup(taskType string) (handlerEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.handlers[taskType]
	return entry, ok
}

// TaskStatus 在任务在途时返回 running，否则返回 false。
func (e *Engine) TaskStatus(taskID string) (Status, bool) {
	return e.registry.Status(taskID)
}

// CancelTask 从注册表移除任务并取消其上下文，进行中的外部调用会收到取消信号。
func (e *Engine) CancelTask(taskID string) bool {
	cancelled := e.registry.Cancel(taskID)
	if cancelled {
		logger.Audit().Info("任务已取消", slog.String("task_id", taskID))
	}
	return cancelled
}

// ActiveTasks 返回在途任务的快照。
func (e *Engine) ActiveTasks() []ExecutionContext {
	return e.registry.Active()
}

// ExecuteChatTask 执行一次对话任务。
func (e *Engine) ExecuteChatTask(ctx context.Context, ag *agent.Agent, message string, ec *ExecutionContext, opts ChatOptions) (result TaskResult) {
	start := e.now()
	taskCtx, cancel, err := e.begin(ctx, ag, ec)
	if err != nil {
		return e.rejected(ec, start, err)
	}
	input := map[string]any{"message": message, "use_rag": opts.UseRAG}
	defer func() {
		if r := recover(); r != nil {
			result = e.panicked(ec, start, r)
		}
		e.finish(ctx, ec, cancel, TaskRecord{Kind: KindChat, TaskType: string(KindChat), Input: input}, &result)
	}()

	// 获取或创建该会话的记忆句柄，未指定会话时同一智能体共用一段对话。
	mem := e.memories.Memory(ec.AgentID, ec.SessionID, memory.Strategy(ag.MemoryStrategy))
	var warnings []string

	// 检索增强失败不影响对话，只记录降级。
	var parts []string
	sources := []knowledge.Source{}
	if opts.UseRAG {
		answer, ragErr := e.retrieve(taskCtx, message, opts.Collection)
		switch {
		case ragErr != nil && taskCtx.Err() != nil:
			return e.failure(taskCtx, ag, ec, start, ragErr)
		case ragErr != nil:
			e.logger.Warn("检索上下文失败，继续无上下文对话",
				slog.String("task_id", ec.TaskID),
				slog.String("agent_id", ec.AgentID),
				slog.String("session_id", mem.SessionID()),
				slog.Any("error", ragErr),
			)
			warnings = append(warnings, "grounding context unavailable: "+xerrors.MessageOf(ragErr))
		case answer != nil && answer.ContextUsed:
			parts = append(parts, "Relevant context:\n"+answer.Answer)
			if answer.Sources != nil {
				sources = answer.Sources
			}
		}
	}

	history, err := mem.ConversationHistory(taskCtx)
	if err != nil {
		return e.failure(taskCtx, ag, ec, start, err)
	}

	response, err := e.provider.ChatCompletion(taskCtx, e.buildChatMessages(ag, message, history, parts))
	if err != nil {
		failed := e.failure(taskCtx, ag, ec, start, err)
		if failed.ErrorCode == xerrors.CodeUnknown {
			failed.ErrorCode = xerrors.CodeProviderFailure
		}
		return failed
	}
	if err := taskCtx.Err(); err != nil {
		return e.failure(taskCtx, ag, ec, start, err)
	}

	// 写回记忆。写入失败属于持久化降级，不改变已完成的结果。
	for _, msg := range []llm.Message{llm.UserMessage(message), llm.AssistantMessage(response)} {
		if _, addErr := mem.AddMessage(taskCtx, msg); addErr != nil {
			e.logger.Warn("写入对话记忆失败",
				slog.String("task_id", ec.TaskID),
				slog.String("agent_id", ec.AgentID),
				slog.String("session_id", mem.SessionID()),
				slog.Any("error", addErr),
			)
			warnings = append(warnings, "conversation memory not updated: "+xerrors.MessageOf(addErr))
		}
	}
	if _, turnErr := mem.SaveConversationTurn(taskCtx, message, response, sourceItems(ec.AgentID, mem.SessionID(), sources), ec.Metadata); turnErr != nil {
		warnings = append(warnings, "conversation turn not persisted: "+xerrors.MessageOf(turnErr))
	}

	contextUsed := make([]string, 0, len(sources))
	for _, src := range sources {
		contextUsed = append(contextUsed, src.Source)
	}
	memoryMB := mem.Stats().EstimatedMB
	return TaskResult{
		TaskID: ec.TaskID,
		Status: StatusCompleted,
		OutputData: map[string]any{
			"response":     response,
			"sources":      sources,
			"context_used": len(parts) > 0,
		},
		ExecutionTimeMS: e.elapsed(start),
		MemoryUsedMB:    &memoryMB,
		ContextUsed:     contextUsed,
		ToolsUsed:       []string{},
		Warnings:        warnings,
	}
}

// ExecuteToolTask 执行一次工具任务。
func (e *Engine) ExecuteToolTask(ctx context.Context, ag *agent.Agent, taskType string, input map[string]any, ec *ExecutionContext) (result TaskResult) {
	start := e.now()
	taskCtx, cancel, err := e.begin(ctx, ag, ec)
	if err != nil {
		return e.rejected(ec, start, err)
	}
	defer func() {
		if r := recover(); r != nil {
			result = e.panicked(ec, start, r)
		}
		e.finish(ctx, ec, cancel, TaskRecord{Kind: KindTool, TaskType: taskType, Input: input}, &result)
	}()

	// 逐个检查所需工具的访问权限。
	required := e.RequiredTools(taskType)
	accessible := make([]string, 0, len(required))
	for _, name := range required {
		ok, accessErr := e.tools.CheckAccess(taskCtx, name, string(ag.Type), ag.SecurityClearance())
		if accessErr != nil {
			return e.failure(taskCtx, ag, ec, start, accessErr)
		}
		if ok {
			accessible = append(accessible, name)
		}
	}
	if len(accessible) == 0 {
		logger.Audit().Warn("智能体缺少所需工具权限",
			slog.String("task_id", ec.TaskID),
			slog.String("agent_id", ec.AgentID),
			slog.String("task_type", taskType),
			slog.Any("required_tools", required),
		)
		return TaskResult{
			TaskID:          ec.TaskID,
			Status:          StatusFailed,
			ErrorMessage:    "Agent does not have access to required tools: " + strings.Join(required, ", "),
			ErrorCode:       xerrors.CodeAccessDenied,
			ExecutionTimeMS: e.elapsed(start),
			ContextUsed:     []string{},
			ToolsUsed:       []string{},
		}
	}

	handler := e.fallback
	if entry, ok := e.lookup(taskType); ok && entry.handler != nil {
		handler = entry.handler
	}
	output, err := handler.Handle(taskCtx, ToolTask{
		Agent:    ag,
		TaskType: taskType,
		Input:    input,
		Tools:    append([]string(nil), accessible...),
		Context:  *ec,
	})
	if err != nil {
		return e.failure(taskCtx, ag, ec, start, err)
	}
	if err := taskCtx.Err(); err != nil {
		return e.failure(taskCtx, ag, ec, start, err)
	}
	return TaskResult{
		TaskID:          ec.TaskID,
		Status:          StatusCompleted,
		OutputData:      output,
		ExecutionTimeMS: e.elapsed(start),
		ContextUsed:     []string{},
		ToolsUsed:       accessible,
	}
}

// begin 校验输入、生成带超时的任务上下文并登记任务。
func (e *Engine) begin(ctx context.Context, ag *agent.Agent, ec *ExecutionContext) (context.Context, context.CancelFunc, error) {
	if ec == nil {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "execution context is required")
	}
	if ag == nil {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "agent is required")
	}
	if ec.TaskID == "" {
		ec.TaskID = uuid.NewString()
	}
	if ec.AgentID == "" {
		ec.AgentID = ag.ID
	}

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout := ag.Limits.Timeout(); timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	if err := e.registry.Register(ec, cancel); err != nil {
		cancel()
		return nil, nil, err
	}
	logger.Audit().Info("任务开始执行",
		slog.String("task_id", ec.TaskID),
		slog.String("agent_id", ec.AgentID),
		slog.String("session_id", ec.SessionID),
	)
	return taskCtx, cancel, nil
}

// finish 注销任务、释放上下文并交给 Recorder。
func (e *Engine) finish(ctx context.Context, ec *ExecutionContext, cancel context.CancelFunc, record TaskRecord, result *TaskResult) {
	e.registry.Unregister(ec)
	cancel()

	attrs := []any{
		slog.String("task_id", ec.TaskID),
		slog.String("agent_id", ec.AgentID),
		slog.String("status", string(result.Status)),
		slog.Int64("execution_time_ms", result.ExecutionTimeMS),
	}
	metrics.ObserveTask(string(record.Kind), string(result.Status), time.Duration(result.ExecutionTimeMS)*time.Millisecond)
	switch result.Status {
	case StatusCompleted:
		logger.Audit().Info("任务执行完成", attrs...)
	default:
		logger.Audit().Warn("任务执行结束", append(attrs, slog.String("error", result.ErrorMessage))...)
	}

	if e.recorder == nil {
		return
	}
	record.Context = *ec
	record.Context.Metadata = cloneMetadata(ec.Metadata)
	record.Result = *result
	if err := e.recorder.RecordTask(context.WithoutCancel(ctx), record); err != nil {
		e.logger.Error("记录任务结果失败", slog.String("task_id", ec.TaskID), slog.Any("error", err))
	}
}

func (e *Engine) retrieve(ctx context.Context, question, collection string) (*knowledge.Answer, error) {
	if e.retriever == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no retriever configured")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return e.retriever.Query(ctx, knowledge.Query{
		Question:       question,
		K:              e.ragDepth,
		Collection:     collection,
		IncludeSources: true,
	})
}

func (e *Engine) buildChatMessages(ag *agent.Agent, message string, history []llm.Message, parts []string) []llm.Message {
	system := fmt.Sprintf("You are %s, a specialized AI agent.\nDescription: %s\nCapabilities: %s\n\nYou should respond helpfully and professionally, staying within your defined capabilities.",
		ag.Name, ag.Description, strings.Join(ag.Capabilities, ", "))

	messages := make([]llm.Message, 0, e.historyWindow+4)
	messages = append(messages, llm.SystemMessage(system))
	// 摘要缓冲的首条系统消息不计入窗口。
	if len(history) > 0 && history[0].Role == llm.RoleSystem {
		messages = append(messages, history[0])
		history = history[1:]
	}
	if len(history) > e.historyWindow {
		history = history[len(history)-e.historyWindow:]
	}
	messages = append(messages, history...)
	if len(parts) > 0 {
		messages = append(messages, llm.SystemMessage(strings.Join(parts, "\n\n")))
	}
	return append(messages, llm.UserMessage(message))
}

func sourceItems(agentID, sessionID string, sources []knowledge.Source) []memory.ContextItem {
	if len(sources) == 0 {
		return nil
	}
	items := make([]memory.ContextItem, 0, len(sources))
	for _, src := range sources {
		metadata := cloneMetadata(src.Metadata)
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["source"] = src.Source
		items = append(items, memory.ContextItem{
			ID:        src.ChunkID,
			Type:      memory.ItemDocument,
			Content:   src.ContentPreview,
			Metadata:  metadata,
			AgentID:   agentID,
			SessionID: sessionID,
		})
	}
	return items
}

// failure 把错误转换为结果：任务上下文被取消时为 cancelled，其余为 failed。
// 错误信息原样保留。
func (e *Engine) failure(taskCtx context.Context, ag *agent.Agent, ec *ExecutionContext, start time.Time, err error) TaskResult {
	status := StatusFailed
	message := xerrors.MessageOf(err)
	code := xerrors.CodeOf(err)
	switch ctxErr := taskCtx.Err(); {
	case stdErrors.Is(ctxErr, context.Canceled):
		status = StatusCancelled
		message = "task cancelled"
		code = xerrors.CodeCancelled
	case stdErrors.Is(ctxErr, context.DeadlineExceeded):
		message = fmt.Sprintf("task exceeded timeout of %s", ag.Limits.Timeout())
		code = xerrors.CodeTimeout
	}
	e.logger.Error("任务执行失败",
		slog.String("task_id", ec.TaskID),
		slog.String("agent_id", ec.AgentID),
		slog.String("status", string(status)),
		slog.Any("error", err),
	)
	return TaskResult{
		TaskID:          ec.TaskID,
		Status:          status,
		ErrorMessage:    message,
		ErrorCode:       code,
		ExecutionTimeMS: e.elapsed(start),
		ContextUsed:     []string{},
		ToolsUsed:       []string{},
	}
}

// rejected 处理未能登记的任务，这类任务不会进入注册表。
func (e *Engine) rejected(ec *ExecutionContext, start time.Time, err error) TaskResult {
	taskID := ""
	if ec != nil {
		taskID = ec.TaskID
	}
	e.logger.Warn("任务被拒绝", slog.String("task_id", taskID), slog.Any("error", err))
	return TaskResult{
		TaskID:          taskID,
		Status:          StatusFailed,
		ErrorMessage:    xerrors.MessageOf(err),
		ErrorCode:       xerrors.CodeOf(err),
		ExecutionTimeMS: e.elapsed(start),
		ContextUsed:     []string{},
		ToolsUsed:       []string{},
	}
}

func (e *Engine) panicked(ec *ExecutionContext, start time.Time, recovered any) TaskResult {
	err := xerrors.New(CodeTaskPanic, fmt.Sprintf("task panicked: %v", recovered))
	e.logger.Error("任务执行发生 panic", slog.String("task_id", ec.TaskID), slog.Any("error", err))
	return TaskResult{
		TaskID:          ec.TaskID,
		Status:          StatusFailed,
		ErrorMessage:    xerrors.MessageOf(err),
		ErrorCode:       xerrors.CodeOf(err),
		ExecutionTimeMS: e.elapsed(start),
		ContextUsed:     []string{},
		ToolsUsed:       []string{},
	}
}

func (e *Engine) elapsed(start time.Time) int64 {
	return max(e.now().Sub(start).Milliseconds(), 0)
}
