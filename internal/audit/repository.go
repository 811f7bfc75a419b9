// Package audit records the outcome of every persist transaction in the
// audit_log table and lists it back for the admin API.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Actions recorded in the audit trail.
const (
	ActionCommit   = "commit"
	ActionRollback = "rollback"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is a single audit trail row.
type Entry struct {
	ID         string    `json:"id"`
	TxID       string    `json:"tx_id"`
	Action     string    `json:"action"`
	Rows       int64     `json:"rows"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which audit entries to return.
type Filter struct {
	Action string // optional: commit or rollback
	TxID   string // optional: a single transaction
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// ListResult contains the paginated audit entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit trail storage.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLRepository stores audit entries through database/sql. Placeholders are
// rebound for the driver, so the same queries serve every supported engine.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository wraps db, opened with driverName, as a Repository.
func NewSQLRepository(db *sql.DB, driverName string) *SQLRepository {
	return &SQLRepository{db: sqlx.NewDb(db, driverName)}
}

// row mirrors the audit_log columns.
type row struct {
	ID         string `db:"id"`
	TxID       string `db:"tx_id"`
	Action     string `db:"action"`
	RowCount   int64  `db:"row_count"`
	DurationMS int64  `db:"duration_ms"`
	Error      string `db:"error"`
	Source     string `db:"source"`
	CreatedAt  string `db:"created_at"`
}

// Create inserts an audit entry. The ID and CreatedAt are generated if empty.
func (r *SQLRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.Action != ActionCommit && entry.Action != ActionRollback {
		return fmt.Errorf("%w: %q", ErrInvalidAction, entry.Action)
	}
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO audit_log (id, tx_id, action, row_count, duration_ms, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.TxID, entry.Action, entry.Rows, entry.DurationMS,
		nullableString(entry.Error), entry.Source,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit entries matching the filter, most recent first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Action != "" && filter.Action != ActionCommit && filter.Action != ActionRollback {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, filter.Action)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.TxID != "" {
		conditions = append(conditions, "tx_id = ?")
		args = append(args, filter.TxID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := r.db.Rebind("SELECT COUNT(*) FROM audit_log " + where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := r.db.Rebind(
		"SELECT id, tx_id, action, row_count, duration_ms, COALESCE(error, '') AS error, source, created_at FROM audit_log " +
			where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
	)
	args = append(args, filter.Limit, filter.Offset)

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, rw := range rows {
		created, err := time.Parse(timeLayout, rw.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", rw.CreatedAt, err)
		}
		entries = append(entries, Entry{
			ID:         rw.ID,
			TxID:       rw.TxID,
			Action:     rw.Action,
			Rows:       rw.RowCount,
			DurationMS: rw.DurationMS,
			Error:      rw.Error,
			Source:     rw.Source,
			CreatedAt:  created,
		})
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
