package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. run log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Tool heads ---

func (s *LibSQLStore) CreateTool(ctx context.Context, tool *Tool) error {
	if tool.ID == "" {
		tool.ID = uuid.NewString()
	}
	if tool.Status == "" {
		tool.Status = ToolStatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tools (id, name, org_id, status, active_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tool.ID, tool.Name, tool.OrgID, tool.Status, tool.ActiveVersion,
		timeOrNow(tool.CreatedAt), timeOrNow(tool.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	t := &Tool{}
	var archivedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, org_id, status, active_version, created_at, updated_at, archived_at
		 FROM tools WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.OrgID, &t.Status, &t.ActiveVersion, &t.CreatedAt, &t.UpdatedAt, &archivedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("tool", id)
	}
	if err != nil {
		return nil, err
	}
	if archivedAt.Valid {
		t.ArchivedAt = &archivedAt.Time
	}
	return t, nil
}

func (s *LibSQLStore) UpdateTool(ctx context.Context, id string, update ToolUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.ActiveVersion != nil {
		sets = append(sets, "active_version = ?")
		args = append(args, *update.ActiveVersion)
	}
	if update.ArchivedAt != nil {
		sets = append(sets, "archived_at = ?")
		args = append(args, *update.ArchivedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE tools SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "tool", id)
}

func (s *LibSQLStore) ListTools(ctx context.Context, filter ToolFilter) ([]*Tool, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, name, org_id, status, active_version, created_at, updated_at, archived_at FROM tools"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		t := &Tool{}
		var archivedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.OrgID, &t.Status, &t.ActiveVersion,
			&t.CreatedAt, &t.UpdatedAt, &archivedAt); err != nil {
			return nil, err
		}
		if archivedAt.Valid {
			t.ArchivedAt = &archivedAt.Time
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *LibSQLStore) DeleteTool(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "tool", id)
}

// --- Tool versions ---

func (s *LibSQLStore) PutVersion(ctx context.Context, v *ToolVersion) error {
	specJSON, err := json.Marshal(v.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if v.Version == 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM tool_versions WHERE tool_id = ?`, v.ToolID,
		).Scan(&v.Version)
		if err != nil {
			return fmt.Errorf("get next version: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tool_versions (tool_id, version, spec, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ToolID, v.Version, string(specJSON), nullStr(v.CreatedBy), timeOrNow(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	return tx.Commit()
}

func (s *LibSQLStore) GetVersion(ctx context.Context, toolID string, version int64) (*ToolVersion, error) {
	v := &ToolVersion{}
	var specJSON string
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT tool_id, version, spec, created_by, created_at
		 FROM tool_versions WHERE tool_id = ? AND version = ?`, toolID, version,
	).Scan(&v.ToolID, &v.Version, &specJSON, &createdBy, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("tool_version", fmt.Sprintf("%s@%d", toolID, version))
	}
	if err != nil {
		return nil, err
	}
	v.CreatedBy = createdBy.String
	if err := json.Unmarshal([]byte(specJSON), &v.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return v, nil
}

// GetActiveSpec loads the spec version pinned by the tool head.
func (s *LibSQLStore) GetActiveSpec(ctx context.Context, toolID string) (*schema.ToolSpec, error) {
	var specJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT v.spec FROM tools t
		 JOIN tool_versions v ON v.tool_id = t.id AND v.version = t.active_version
		 WHERE t.id = ?`, toolID,
	).Scan(&specJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("active spec for tool", toolID)
	}
	if err != nil {
		return nil, err
	}
	var spec schema.ToolSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &spec, nil
}

func (s *LibSQLStore) ListVersions(ctx context.Context, toolID string) ([]*ToolVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_id, version, spec, created_by, created_at
		 FROM tool_versions WHERE tool_id = ? ORDER BY version ASC`, toolID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*ToolVersion
	for rows.Next() {
		v := &ToolVersion{}
		var specJSON string
		var createdBy sql.NullString
		if err := rows.Scan(&v.ToolID, &v.Version, &specJSON, &createdBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.CreatedBy = createdBy.String
		if err := json.Unmarshal([]byte(specJSON), &v.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Scoped memory ---

func (s *LibSQLStore) GetMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM memory_records WHERE scope = ? AND scope_id = ? AND namespace = ? AND key = ?`,
		string(scope), scopeID, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (s *LibSQLStore) SetMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (scope, scope_id, namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(scope, scope_id, namespace, key) DO UPDATE SET
		   value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		string(scope), scopeID, namespace, key, string(value),
	)
	return err
}

func (s *LibSQLStore) DeleteMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE scope = ? AND scope_id = ? AND namespace = ? AND key = ?`,
		string(scope), scopeID, namespace, key,
	)
	return err
}

func (s *LibSQLStore) ListMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace string) ([]*schema.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, scope_id, namespace, key, value, updated_at
		 FROM memory_records WHERE scope = ? AND scope_id = ? AND namespace = ? ORDER BY key`,
		string(scope), scopeID, namespace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*schema.MemoryRecord
	for rows.Next() {
		rec := &schema.MemoryRecord{}
		var scopeStr, value string
		if err := rows.Scan(&scopeStr, &rec.ScopeID, &rec.Namespace, &rec.Key, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Scope = schema.MemoryScope(scopeStr)
		rec.Value = json.RawMessage(value)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ToolsmithError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
