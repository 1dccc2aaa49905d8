package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/custody/internal/model"
)

// AddPhoto stores an already processed image for an evidence item.
func AddPhoto(ctx context.Context, db *sql.DB, itemID int64, data []byte, mime, caption string, actorID int64) (*model.Photo, error) {
	if len(data) == 0 {
		return nil, invalidf("photo data required")
	}

	var id int64
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, itemID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_photos (evidence_item_id, image, image_mime, caption, uploaded_by)
			 VALUES (?, ?, ?, ?, ?)`,
			itemID, data, mime, caption, nullID(actorID),
		)
		if err != nil {
			return fmt.Errorf("storing photo: %w", err)
		}
		id, _ = result.LastInsertId()
		return writeAudit(ctx, tx, actorID, AuditCreate, "evidence_photos", id, fmt.Sprintf("evidence_item=%d", itemID))
	})
	if err != nil {
		return nil, err
	}

	p := &model.Photo{}
	err = db.QueryRowContext(ctx, photoSelect+` WHERE p.id = ?`, id).
		Scan(&p.ID, &p.EvidenceItemID, &p.ImageMime, &p.Caption, &p.UploadedBy, &p.UploadedAt, &p.UploadedByName)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	return p, nil
}

const photoSelect = `
	SELECT p.id, p.evidence_item_id, p.image_mime, p.caption, p.uploaded_by, p.uploaded_at,
	       COALESCE(NULLIF(u.full_name, ''), u.username, '')
	FROM evidence_photos p
	LEFT JOIN users u ON u.id = p.uploaded_by`

// ListPhotos returns photo metadata for an evidence item, newest first.
func ListPhotos(ctx context.Context, db DBTX, itemID int64) ([]model.Photo, error) {
	rows, err := db.QueryContext(ctx,
		photoSelect+` WHERE p.evidence_item_id = ? ORDER BY p.uploaded_at DESC, p.id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}
	defer rows.Close()

	var photos []model.Photo
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(&p.ID, &p.EvidenceItemID, &p.ImageMime, &p.Caption, &p.UploadedBy,
			&p.UploadedAt, &p.UploadedByName); err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// GetPhotoImage returns the image bytes of a photo belonging to itemID.
// It returns nil data when no such photo exists.
func GetPhotoImage(ctx context.Context, db *sql.DB, itemID, photoID int64) ([]byte, string, error) {
	var data []byte
	var mime string
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM evidence_photos WHERE id = ? AND evidence_item_id = ?`,
		photoID, itemID,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting photo: %w", err)
	}
	return data, mime, nil
}
