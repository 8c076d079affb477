// Package requestlog persists ToolInvocationRecord rows: an append-only
// audit log of every run_capability/mutate_capability call the orchestrator
// dispatches, written by internal/plugins/logger. Grounded on the teacher's
// own request log store, re-scoped from LLM request/response accounting to
// tool-invocation accounting.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry represents one persisted ToolInvocationRecord.
type Entry struct {
	TraceID         string
	Stage           string
	ToolName        string // "run_capability" or "mutate_capability"
	CapabilityID    string
	TaskDescription string
	Outcome         string // "ok" or "error"
	LatencyMS       int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Query defines tool-invocation-log listing filters.
type Query struct {
	Limit        int
	Offset       int
	Stage        string
	ToolName     string
	CapabilityID string
	Since        *time.Time
}

// ListResult is a paginated log query response.
type ListResult struct {
	Data  []Entry
	Total int
}

// MaintenanceQuery scopes a bulk-delete operation over the log.
type MaintenanceQuery struct {
	Before       *time.Time
	Stage        string
	ToolName     string
	CapabilityID string
}

// Writer persists tool-invocation log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader loads tool-invocation log entries from persistent storage.
type Reader interface {
	List(ctx context.Context, query Query) (ListResult, error)
}

// Maintainer supports bulk deletion of old tool-invocation log entries, used
// by the admin API's log-retention endpoint.
type Maintainer interface {
	Delete(ctx context.Context, query MaintenanceQuery) (int, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteWriter opens (creating if needed) a SQLite-backed tool-invocation log.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "capforge-invocations.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter opens a Postgres-backed tool-invocation log.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS tool_invocation_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	stage TEXT NOT NULL,
	tool_name TEXT,
	capability_id TEXT,
	task_description TEXT,
	outcome TEXT,
	latency_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS tool_invocation_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	stage TEXT NOT NULL,
	tool_name TEXT,
	capability_id TEXT,
	task_description TEXT,
	outcome TEXT,
	latency_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// Write persists one ToolInvocationRecord.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO tool_invocation_logs(trace_id, stage, tool_name, capability_id, task_description, outcome, latency_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO tool_invocation_logs(trace_id, stage, tool_name, capability_id, task_description, outcome, latency_ms, error_message, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	}

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Stage,
		entry.ToolName,
		entry.CapabilityID,
		entry.TaskDescription,
		entry.Outcome,
		entry.LatencyMS,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

// List returns paginated tool-invocation log entries with optional filters.
func (w *SQLWriter) List(ctx context.Context, query Query) (ListResult, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	whereSQL, args := buildWhere(query.Stage, query.ToolName, query.CapabilityID, query.Since)

	countQuery := "SELECT COUNT(*) FROM tool_invocation_logs" + whereSQL
	if w.dialect == "postgres" {
		countQuery = bindPostgres(countQuery)
	}

	var total int
	if err := w.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count request logs: %w", err)
	}

	listQuery := "SELECT trace_id, stage, tool_name, capability_id, task_description, outcome, latency_ms, error_message, created_at FROM tool_invocation_logs" +
		whereSQL + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	listArgs := append(args, query.Limit, query.Offset)
	if w.dialect == "postgres" {
		listQuery = bindPostgres(listQuery)
	}

	rows, err := w.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e            Entry
			traceID      sql.NullString
			toolName     sql.NullString
			capabilityID sql.NullString
			taskDesc     sql.NullString
			outcome      sql.NullString
			errMsg       sql.NullString
		)
		if err := rows.Scan(&traceID, &e.Stage, &toolName, &capabilityID, &taskDesc, &outcome, &e.LatencyMS, &errMsg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan request log row: %w", err)
		}
		e.TraceID = traceID.String
		e.ToolName = toolName.String
		e.CapabilityID = capabilityID.String
		e.TaskDescription = taskDesc.String
		e.Outcome = outcome.String
		e.ErrorMessage = errMsg.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate request logs: %w", err)
	}

	return ListResult{Data: entries, Total: total}, nil
}

// Delete removes entries created before query.Before (optionally narrowed by
// stage/tool_name/capability_id), returning the number of rows removed.
func (w *SQLWriter) Delete(ctx context.Context, query MaintenanceQuery) (int, error) {
	if query.Before == nil {
		return 0, nil
	}

	whereClauses := []string{"created_at < ?"}
	args := []interface{}{query.Before.UTC()}
	if query.Stage != "" {
		whereClauses = append(whereClauses, "stage = ?")
		args = append(args, query.Stage)
	}
	if query.ToolName != "" {
		whereClauses = append(whereClauses, "tool_name = ?")
		args = append(args, query.ToolName)
	}
	if query.CapabilityID != "" {
		whereClauses = append(whereClauses, "capability_id = ?")
		args = append(args, query.CapabilityID)
	}

	stmt := "DELETE FROM tool_invocation_logs WHERE " + strings.Join(whereClauses, " AND ")
	if w.dialect == "postgres" {
		stmt = bindPostgres(stmt)
	}

	res, err := w.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	return int(affected), nil
}

func buildWhere(stage, toolName, capabilityID string, since *time.Time) (string, []interface{}) {
	whereClauses := make([]string, 0)
	args := make([]interface{}, 0)

	if stage != "" {
		whereClauses = append(whereClauses, "stage = ?")
		args = append(args, stage)
	}
	if toolName != "" {
		whereClauses = append(whereClauses, "tool_name = ?")
		args = append(args, toolName)
	}
	if capabilityID != "" {
		whereClauses = append(whereClauses, "capability_id = ?")
		args = append(args, capabilityID)
	}
	if since != nil {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, since.UTC())
	}

	if len(whereClauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(whereClauses, " AND "), args
}

func bindPostgres(query string) string {
	var (
		builder strings.Builder
		index   = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			builder.WriteString(fmt.Sprintf("$%d", index))
			index++
			continue
		}
		builder.WriteByte(query[i])
	}
	return builder.String()
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
