package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"agent-platform/internal/dispatch"
	"agent-platform/internal/engine"
	xerrors "agent-platform/internal/errors"
)

const jobColumns = `id, agent_id, session_id, user_id, kind, message, use_rag, collection, task_type, input, metadata,
        status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// JobStore 使用 dispatch_jobs 表实现 dispatch.Store。
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobStore 创建作业存储，表结构由 Migrate 维护。
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// Create 插入新的作业记录。
func (s *JobStore) Create(ctx context.Context, job *dispatch.Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "作业 ID 不能为空")
	}
	input, err := marshalJSON(job.Input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码作业 input 失败")
	}
	metadata, err := marshalJSON(job.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码作业 metadata 失败")
	}

	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	const stmt = `INSERT INTO dispatch_jobs (` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', NULL, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		job.ID,
		job.AgentID,
		job.SessionID,
		job.UserID,
		string(job.Kind),
		job.Message,
		job.UseRAG,
		job.Collection,
		job.TaskType,
		input,
		metadata,
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dispatch.ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入作业失败")
	}
	return nil
}

// Get 查询指定作业。
func (s *JobStore) Get(ctx context.Context, id string) (*dispatch.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	return job, nil
}

// Claim 以条件更新抢占作业，失败时根据当前状态返回对应错误。
func (s *JobStore) Claim(ctx context.Context, id string) (*dispatch.Job, error) {
	const stmt = `UPDATE dispatch_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_retries`
	res, err := s.db.ExecContext(ctx, stmt,
		string(dispatch.StatusRunning),
		s.now().Unix(),
		id,
		string(dispatch.StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return job, nil
	}
	switch job.Status {
	case dispatch.StatusCompleted:
		return job, dispatch.ErrJobCompleted
	case dispatch.StatusCancelled:
		return job, dispatch.ErrJobCancelled
	case dispatch.StatusRunning:
		return job, dispatch.ErrJobConflict
	default:
		return job, dispatch.ErrJobExhausted
	}
}

// MarkCompleted 记录成功结果，已取消的作业保持取消。
func (s *JobStore) MarkCompleted(ctx context.Context, id string, result engine.TaskResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码作业结果失败")
	}
	const stmt = `UPDATE dispatch_jobs SET status = ?, result = ?, last_error = '', error_code = '', updated_at = ?
        WHERE id = ? AND status <> ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(dispatch.StatusCompleted),
		string(encoded),
		s.now().Unix(),
		id,
		string(dispatch.StatusCancelled),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业成功失败")
	}
	return s.checkUpdated(ctx, res, id)
}

// MarkFailed 记录失败，非终态失败回到 pending。
func (s *JobStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool, result *engine.TaskResult) error {
	status := dispatch.StatusPending
	if terminal {
		status = dispatch.StatusFailed
	}
	var encoded any
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码作业结果失败")
		}
		encoded = string(raw)
	}
	const stmt = `UPDATE dispatch_jobs SET status = ?, last_error = ?, error_code = ?, result = COALESCE(?, result), updated_at = ?
        WHERE id = ? AND status <> ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(status),
		lastError,
		string(code),
		encoded,
		s.now().Unix(),
		id,
		string(dispatch.StatusCancelled),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业失败失败")
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *JobStore) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == dispatch.StatusCancelled {
		return dispatch.ErrJobCancelled
	}
	return nil
}

// MarkCancelled 在事务内读取并取消作业，返回取消前的状态。
func (s *JobStore) MarkCancelled(ctx context.Context, id string) (*dispatch.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启取消事务失败")
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = ? FOR UPDATE`, id))
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	switch job.Status {
	case dispatch.StatusCompleted, dispatch.StatusFailed:
		return job, dispatch.ErrJobCompleted
	case dispatch.StatusCancelled:
		return job, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE dispatch_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(dispatch.StatusCancelled), s.now().Unix(), id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消作业失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交取消事务失败")
	}
	return job, nil
}

// List 返回符合过滤条件的作业。
func (s *JobStore) List(ctx context.Context, opts dispatch.ListOptions) ([]*dispatch.Job, error) {
	opts.Normalize()

	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs`
	clause, args := buildJobFilter(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == dispatch.SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id ASC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业列表失败")
	}
	defer rows.Close()

	jobs := make([]*dispatch.Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历作业失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的作业聚合信息。
func (s *JobStore) Stats(ctx context.Context, opts dispatch.ListOptions) (dispatch.JobStats, error) {
	opts.Normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM dispatch_jobs`
	clause, filterArgs := buildJobFilter(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(dispatch.StatusPending),
		string(dispatch.StatusRunning),
		string(dispatch.StatusCompleted),
		string(dispatch.StatusFailed),
		string(dispatch.StatusCancelled),
	}
	args = append(args, filterArgs...)

	var stats dispatch.JobStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return dispatch.JobStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业统计失败")
	}
	return stats, nil
}

// Close 作业存储不持有连接池，关闭由调用方负责。
func (s *JobStore) Close() error {
	return nil
}

func scanJob(row rowScanner) (*dispatch.Job, error) {
	var (
		job       dispatch.Job
		kind      string
		status    string
		message   sql.NullString
		input     sql.NullString
		metadata  sql.NullString
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.AgentID,
		&job.SessionID,
		&job.UserID,
		&kind,
		&message,
		&job.UseRAG,
		&job.Collection,
		&job.TaskType,
		&input,
		&metadata,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&lastError,
		&job.ErrorCode,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = dispatch.Kind(kind)
	job.Status = dispatch.Status(status)
	job.Message = message.String
	job.LastError = lastError.String
	if err := unmarshalJSON(input, &job.Input); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &job.Metadata); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var decoded engine.TaskResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, err
		}
		job.Result = &decoded
	}
	return &job, nil
}

func buildJobFilter(opts dispatch.ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ dispatch.Store = (*JobStore)(nil)
