package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"agent-platform/internal/agent"
	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/tool"
)

const agentColumns = `id, name, description, agent_type, status, capabilities, security_clearance, memory_strategy,
        memory_limit_mb, timeout_seconds, max_concurrent_tasks, created_by, created_at, updated_at`

// AgentRepository 使用 agents 表实现 agent.Repository。
type AgentRepository struct {
	db *sql.DB
}

// NewAgentRepository 创建智能体仓库。
func NewAgentRepository(db *sql.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Get 查询单个智能体。
func (r *AgentRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	ag, err := scanAgent(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, agent.ErrAgentNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("查询智能体 %s 失败", id))
	}
	return ag, nil
}

// List 按 ID 排序返回全部智能体。
func (r *AgentRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	results := make([]*agent.Agent, 0)
	for rows.Next() {
		ag, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析智能体记录失败")
		}
		results = append(results, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体列表失败")
	}
	return results, nil
}

// Upsert 写入或更新智能体，用于从引导文件导入。
func (r *AgentRepository) Upsert(ctx context.Context, ag *agent.Agent) error {
	if err := ag.Validate(); err != nil {
		return err
	}
	clone := ag.Snapshot()
	clone.ApplyDefaults()
	capabilities, err := marshalJSON(clone.Capabilities)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 capabilities 失败")
	}
	now := time.Now().Unix()
	createdAt := now
	if !clone.CreatedAt.IsZero() {
		createdAt = clone.CreatedAt.Unix()
	}

	const stmt = `INSERT INTO agents (` + agentColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description), agent_type = VALUES(agent_type),
        status = VALUES(status), capabilities = VALUES(capabilities), security_clearance = VALUES(security_clearance),
        memory_strategy = VALUES(memory_strategy), memory_limit_mb = VALUES(memory_limit_mb),
        timeout_seconds = VALUES(timeout_seconds), max_concurrent_tasks = VALUES(max_concurrent_tasks),
        updated_at = VALUES(updated_at)`
	_, err = r.db.ExecContext(ctx, stmt,
		clone.ID,
		clone.Name,
		clone.Description,
		string(clone.Type),
		string(clone.Status),
		capabilities,
		string(clone.Clearance),
		clone.MemoryStrategy,
		clone.Limits.MemoryLimitMB,
		clone.Limits.TimeoutSeconds,
		clone.Limits.MaxConcurrentTasks,
		clone.CreatedBy,
		createdAt,
		now,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入智能体 %s 失败", clone.ID))
	}
	return nil
}

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var (
		ag           agent.Agent
		agentType    string
		status       string
		clearance    string
		description  sql.NullString
		capabilities sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	if err := row.Scan(
		&ag.ID,
		&ag.Name,
		&description,
		&agentType,
		&status,
		&capabilities,
		&clearance,
		&ag.MemoryStrategy,
		&ag.Limits.MemoryLimitMB,
		&ag.Limits.TimeoutSeconds,
		&ag.Limits.MaxConcurrentTasks,
		&ag.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	ag.Description = description.String
	ag.Type = agent.Type(agentType)
	ag.Status = agent.Status(status)
	ag.Clearance = tool.SecurityLevel(clearance)
	ag.CreatedAt = time.Unix(createdAt, 0).UTC()
	ag.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := unmarshalJSON(capabilities, &ag.Capabilities); err != nil {
		return nil, err
	}
	return &ag, nil
}

var _ agent.Repository = (*AgentRepository)(nil)
