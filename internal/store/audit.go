package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/custody/internal/model"
)

// Audit actions.
const (
	AuditCreate  = "create"
	AuditUpdate  = "update"
	AuditDelete  = "delete"
	AuditApprove = "approve"
	AuditReject  = "reject"
)

// nullID maps a zero id to SQL NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// writeAudit appends an audit row using q, so it commits or rolls back with
// the change it describes.
func writeAudit(ctx context.Context, q DBTX, actorID int64, action, table string, recordID int64, details string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, action, table_name, record_id, details) VALUES (?, ?, ?, ?, ?)`,
		nullID(actorID), action, table, recordID, details,
	)
	if err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Zero values match everything.
type AuditFilter struct {
	Table    string
	RecordID int64
	Limit    int
}

// ListAudit returns audit entries, newest first.
func ListAudit(ctx context.Context, db *sql.DB, f AuditFilter) ([]model.AuditEntry, error) {
	query := `SELECT a.id, a.user_id, a.action, a.table_name, a.record_id, a.details, a.created_at,
	                 COALESCE(u.username, '')
	          FROM audit_log a
	          LEFT JOIN users u ON u.id = a.user_id
	          WHERE 1=1`
	var args []any

	if f.Table != "" {
		query += ` AND a.table_name = ?`
		args = append(args, f.Table)
	}
	if f.RecordID > 0 {
		query += ` AND a.record_id = ?`
		args = append(args, f.RecordID)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY a.created_at DESC, a.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TableName, &e.RecordID, &e.Details,
			&e.CreatedAt, &e.Username); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
