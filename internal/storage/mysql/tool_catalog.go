package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/tool"
)

const toolColumns = `tool_name, tool_category, description, version, security_level, is_public, requires_approval,
        allowed_agent_types, required_capabilities, config, created_by, created_at`

// ToolCatalog 使用 tools 表实现 tool.Catalog。
type ToolCatalog struct {
	db *sql.DB
}

// NewToolCatalog 创建工具目录。
func NewToolCatalog(db *sql.DB) *ToolCatalog {
	return &ToolCatalog{db: db}
}

// Get 查询单个工具。
func (c *ToolCatalog) Get(ctx context.Context, name string) (tool.Descriptor, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE tool_name = ?`, name)
	desc, err := scanTool(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return tool.Descriptor{}, tool.ErrToolNotFound
	}
	if err != nil {
		return tool.Descriptor{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("查询工具 %s 失败", name))
	}
	return desc, nil
}

// List 按分类查询工具，安全等级在内存中过滤。
func (c *ToolCatalog) List(ctx context.Context, filter tool.Filter) ([]tool.Descriptor, error) {
	query := `SELECT ` + toolColumns + ` FROM tools`
	var args []any
	if filter.Category != "" {
		query += ` WHERE tool_category = ?`
		args = append(args, string(filter.Category))
	}
	query += ` ORDER BY tool_name`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工具列表失败")
	}
	defer rows.Close()

	results := make([]tool.Descriptor, 0)
	for rows.Next() {
		desc, err := scanTool(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工具记录失败")
		}
		if filter.MaxLevel != "" && !filter.MaxLevel.Dominates(desc.SecurityLevel) {
			continue
		}
		results = append(results, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历工具列表失败")
	}
	return results, nil
}

// Create 插入新工具，同名工具返回 tool.ErrToolConflict。
func (c *ToolCatalog) Create(ctx context.Context, desc tool.Descriptor) error {
	allowed, err := marshalJSON(desc.AllowedAgentTypes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 allowed_agent_types 失败")
	}
	capabilities, err := marshalJSON(desc.RequiredCapabilities)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 required_capabilities 失败")
	}
	config, err := marshalJSON(desc.Config)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码工具 config 失败")
	}
	createdAt := desc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const stmt = `INSERT INTO tools (` + toolColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = c.db.ExecContext(ctx, stmt,
		desc.Name,
		string(desc.Category),
		desc.Description,
		desc.Version,
		string(desc.SecurityLevel),
		desc.IsPublic,
		desc.RequiresApproval,
		allowed,
		capabilities,
		config,
		desc.CreatedBy,
		createdAt.Unix(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return tool.ErrToolConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("插入工具 %s 失败", desc.Name))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (tool.Descriptor, error) {
	var (
		desc         tool.Descriptor
		category     string
		level        string
		description  sql.NullString
		allowed      sql.NullString
		capabilities sql.NullString
		config       sql.NullString
		createdAt    int64
	)
	if err := row.Scan(
		&desc.Name,
		&category,
		&description,
		&desc.Version,
		&level,
		&desc.IsPublic,
		&desc.RequiresApproval,
		&allowed,
		&capabilities,
		&config,
		&desc.CreatedBy,
		&createdAt,
	); err != nil {
		return tool.Descriptor{}, err
	}
	desc.Category = tool.Category(category)
	desc.SecurityLevel = tool.SecurityLevel(level)
	desc.Description = description.String
	desc.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := unmarshalJSON(allowed, &desc.AllowedAgentTypes); err != nil {
		return tool.Descriptor{}, err
	}
	if err := unmarshalJSON(capabilities, &desc.RequiredCapabilities); err != nil {
		return tool.Descriptor{}, err
	}
	if err := unmarshalJSON(config, &desc.Config); err != nil {
		return tool.Descriptor{}, err
	}
	return desc, nil
}

// marshalJSON 把空值写为 NULL。
func marshalJSON(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func unmarshalJSON(raw sql.NullString, dest any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

var _ tool.Catalog = (*ToolCatalog)(nil)
