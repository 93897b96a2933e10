// Package fetchlog records one row per upstream fetch so operators can see
// what the client actually sent to the API, independent of cache hits.
package fetchlog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is a single upstream fetch.
type Entry struct {
	ID           int64     `json:"id,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	URL          string    `json:"url"`
	Outcome      string    `json:"outcome"`
	StatusCode   int       `json:"status_code"`
	DurationMS   int64     `json:"duration_ms"`
	Bytes        int       `json:"bytes"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List results. Limit defaults to 50 and is capped at 500.
type Query struct {
	Limit   int
	Offset  int
	Outcome string
	URL     string
}

// ListResult is a page of entries plus the total number matching the query.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// MaintenanceQuery selects entries for Delete.
type MaintenanceQuery struct {
	Before *time.Time
}

// Writer persists fetch log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists persisted entries.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
}

// Maintainer removes persisted entries.
type Maintainer interface {
	Delete(ctx context.Context, q MaintenanceQuery) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// Open returns a writer for driver ("sqlite" or "postgres"). An empty driver
// yields a NoopWriter.
func Open(driver, dsn string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return NoopWriter{}, nil
	case "sqlite":
		return NewSQLiteWriter(dsn)
	case "postgres":
		return NewPostgresWriter(dsn)
	default:
		return nil, fmt.Errorf("unsupported fetch log driver %q", driver)
	}
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "holocron-fetches.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite fetch log writer: %w", err)
	}
	db.SetMaxOpenConns(1)
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres fetch log writer: %w", err)
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
		return fmt.Errorf("ping %s fetch log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS fetch_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS fetch_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	bytes INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize fetch log schema: %w", err)
	}
	return nil
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := w.bind(`INSERT INTO fetch_logs(trace_id, url, outcome, status_code, duration_ms, bytes, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.URL,
		entry.Outcome,
		entry.StatusCode,
		entry.DurationMS,
		entry.Bytes,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write fetch log: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (w *SQLWriter) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var where []string
	var args []interface{}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, q.Outcome)
	}
	if q.URL != "" {
		where = append(where, "url = ?")
		args = append(args, q.URL)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx, w.bind("SELECT COUNT(*) FROM fetch_logs"+clause), args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count fetch logs: %w", err)
	}

	listArgs := append(append([]interface{}{}, args...), q.Limit, q.Offset)
	rows, err := w.db.QueryContext(ctx, w.bind(`SELECT id, trace_id, url, outcome, status_code, duration_ms, bytes, error_message, created_at
	FROM fetch_logs`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), listArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list fetch logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := ListResult{Data: []Entry{}, Total: total}
	for rows.Next() {
		var e Entry
		var traceID, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &traceID, &e.URL, &e.Outcome, &e.StatusCode, &e.DurationMS, &e.Bytes, &errMsg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan fetch log: %w", err)
		}
		e.TraceID = traceID.String
		e.ErrorMessage = errMsg.String
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate fetch logs: %w", err)
	}
	return result, nil
}

// Delete removes entries matching q and returns how many were removed. A
// query without Before deletes everything.
func (w *SQLWriter) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	query := "DELETE FROM fetch_logs"
	var args []interface{}
	if q.Before != nil {
		query += " WHERE created_at < ?"
		args = append(args, q.Before.UTC())
	}
	res, err := w.db.ExecContext(ctx, w.bind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete fetch logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete fetch logs: %w", err)
	}
	return n, nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// bind rewrites ? placeholders to $n for Postgres.
func (w *SQLWriter) bind(query string) string {
	if w.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
