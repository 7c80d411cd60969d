package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agent-platform/internal/engine"
	xerrors "agent-platform/internal/errors"
)

// TaskRecordRepository 把结束的任务写入 agent_task_results，实现 engine.Recorder。
type TaskRecordRepository struct {
	db *sql.DB
}

// NewTaskRecordRepository 创建任务记录仓库。
func NewTaskRecordRepository(db *sql.DB) *TaskRecordRepository {
	return &TaskRecordRepository{db: db}
}

// StoredResult 是查询返回的任务记录。
type StoredResult struct {
	AgentID     string
	SessionID   string
	Kind        engine.TaskKind
	TaskType    string
	Result      engine.TaskResult
	StartedAt   time.Time
	CompletedAt time.Time
}

// RecordTask 写入任务结果，相同 task_id 的重试会覆盖旧记录。
func (r *TaskRecordRepository) RecordTask(ctx context.Context, record engine.TaskRecord) error {
	res := record.Result
	input, err := marshalJSON(record.Input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输入失败")
	}
	output, err := marshalJSON(res.OutputData)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输出失败")
	}
	contextUsed, err := marshalJSON(res.ContextUsed)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 context_used 失败")
	}
	toolsUsed, err := marshalJSON(res.ToolsUsed)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 tools_used 失败")
	}
	warnings, err := marshalJSON(res.Warnings)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 warnings 失败")
	}
	var memoryUsed any
	if res.MemoryUsedMB != nil {
		memoryUsed = *res.MemoryUsedMB
	}

	const stmt = `INSERT INTO agent_task_results
        (task_id, agent_id, session_id, user_id, task_kind, task_type, status, input_data, output_data, error_message,
        execution_time_ms, memory_used_mb, context_used, tools_used, warnings, started_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), output_data = VALUES(output_data),
        error_message = VALUES(error_message), execution_time_ms = VALUES(execution_time_ms),
        memory_used_mb = VALUES(memory_used_mb), context_used = VALUES(context_used), tools_used = VALUES(tools_used),
        warnings = VALUES(warnings), started_at = VALUES(started_at), completed_at = VALUES(completed_at)`
	_, err = r.db.ExecContext(ctx, stmt,
		res.TaskID,
		record.Context.AgentID,
		record.Context.SessionID,
		record.Context.UserID,
		string(record.Kind),
		record.TaskType,
		string(res.Status),
		input,
		output,
		res.ErrorMessage,
		res.ExecutionTimeMS,
		memoryUsed,
		contextUsed,
		toolsUsed,
		warnings,
		unixOrZero(record.Context.StartedAt),
		unixOrZero(record.Context.CompletedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入任务 %s 结果失败", res.TaskID))
	}
	return nil
}

// ListByAgent 返回智能体最近结束的任务。
func (r *TaskRecordRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]StoredResult, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT task_id, agent_id, session_id, task_kind, task_type, status, output_data, error_message,
        execution_time_ms, memory_used_mb, context_used, tools_used, warnings, started_at, completed_at
        FROM agent_task_results WHERE agent_id = ? ORDER BY completed_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务结果失败")
	}
	defer rows.Close()

	results := make([]StoredResult, 0, limit)
	for rows.Next() {
		var (
			stored      StoredResult
			kind        string
			status      string
			output      sql.NullString
			errMessage  sql.NullString
			memoryUsed  sql.NullFloat64
			contextUsed sql.NullString
			toolsUsed   sql.NullString
			warnings    sql.NullString
			startedAt   int64
			completedAt int64
		)
		if err := rows.Scan(
			&stored.Result.TaskID,
			&stored.AgentID,
			&stored.SessionID,
			&kind,
			&stored.TaskType,
			&status,
			&output,
			&errMessage,
			&stored.Result.ExecutionTimeMS,
			&memoryUsed,
			&contextUsed,
			&toolsUsed,
			&warnings,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务结果失败")
		}
		stored.Kind = engine.TaskKind(kind)
		stored.Result.Status = engine.Status(status)
		stored.Result.ErrorMessage = errMessage.String
		if memoryUsed.Valid {
			value := memoryUsed.Float64
			stored.Result.MemoryUsedMB = &value
		}
		stored.StartedAt = time.Unix(startedAt, 0).UTC()
		stored.CompletedAt = time.Unix(completedAt, 0).UTC()
		for _, field := range []struct {
			raw  sql.NullString
			dest any
		}{
			{output, &stored.Result.OutputData},
			{contextUsed, &stored.Result.ContextUsed},
			{toolsUsed, &stored.Result.ToolsUsed},
			{warnings, &stored.Result.Warnings},
		} {
			if err := unmarshalJSON(field.raw, field.dest); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务结果字段失败")
			}
		}
		results = append(results, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务结果失败")
	}
	return results, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

var _ engine.Recorder = (*TaskRecordRepository)(nil)
