package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/custody/internal/model"
)

// AddNote attaches a note to an evidence item.
func AddNote(ctx context.Context, db *sql.DB, itemID int64, note string, actorID int64) (*model.Note, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, invalidf("note required")
	}

	var id int64
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, itemID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_notes (evidence_item_id, note, created_by) VALUES (?, ?, ?)`,
			itemID, note, nullID(actorID),
		)
		if err != nil {
			return fmt.Errorf("adding note: %w", err)
		}
		id, _ = result.LastInsertId()
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := &model.Note{}
	err = db.QueryRowContext(ctx, noteSelect+` WHERE n.id = ?`, id).
		Scan(&n.ID, &n.EvidenceItemID, &n.Note, &n.CreatedBy, &n.CreatedAt, &n.CreatedByName)
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}
	return n, nil
}

const noteSelect = `
	SELECT n.id, n.evidence_item_id, n.note, n.created_by, n.created_at,
	       COALESCE(NULLIF(u.full_name, ''), u.username, '')
	FROM evidence_notes n
	LEFT JOIN users u ON u.id = n.created_by`

// ListNotes returns the notes of an evidence item, newest first.
func ListNotes(ctx context.Context, db DBTX, itemID int64) ([]model.Note, error) {
	rows, err := db.QueryContext(ctx,
		noteSelect+` WHERE n.evidence_item_id = ? ORDER BY n.created_at DESC, n.id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.EvidenceItemID, &n.Note, &n.CreatedBy, &n.CreatedAt, &n.CreatedByName); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// requireItem returns ErrNotFound unless the evidence item exists.
func requireItem(ctx context.Context, q DBTX, itemID int64) error {
	n, err := countRefs(ctx, q, `SELECT COUNT(*) FROM evidence_items WHERE id = ?`, itemID)
	if err != nil {
		return err
	}
	if n == 0 {
		return wrapf(ErrNotFound, "evidence item not found")
	}
	return nil
}
