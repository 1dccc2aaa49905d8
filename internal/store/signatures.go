package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/custody/internal/model"
)

// maxSignatureBytes bounds stored signature payloads (data URLs included).
const maxSignatureBytes = 512 << 10

// CreateSignature stores a signature captured for userID.
func CreateSignature(ctx context.Context, db *sql.DB, userID int64, signatureType, data string) (*model.Signature, error) {
	if !model.ValidSignatureType(signatureType) {
		return nil, invalidf("signature_type must be one of hand-drawn, typed, uploaded")
	}
	if strings.TrimSpace(data) == "" {
		return nil, invalidf("signature_data required")
	}
	if len(data) > maxSignatureBytes {
		return nil, invalidf("signature_data too large")
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO signatures (user_id, signature_type, signature_data) VALUES (?, ?, ?)`,
		nullID(userID), signatureType, data,
	)
	if err != nil {
		return nil, fmt.Errorf("creating signature: %w", err)
	}
	id, _ := result.LastInsertId()
	return GetSignature(ctx, db, id)
}

// GetSignature returns a signature by ID.
func GetSignature(ctx context.Context, db DBTX, id int64) (*model.Signature, error) {
	s := &model.Signature{}
	err := db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.signature_type, s.signature_data, s.created_at, COALESCE(u.username, '')
		 FROM signatures s LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.SignatureType, &s.SignatureData, &s.CreatedAt, &s.Username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting signature: %w", err)
	}
	return s, nil
}

// ListSignatures returns signatures, newest first, optionally filtered.
func ListSignatures(ctx context.Context, db *sql.DB, userID int64, signatureType string) ([]model.Signature, error) {
	query := `SELECT s.id, s.user_id, s.signature_type, s.signature_data, s.created_at, COALESCE(u.username, '')
	          FROM signatures s LEFT JOIN users u ON u.id = s.user_id
	          WHERE 1=1`
	var args []any
	if userID > 0 {
		query += ` AND s.user_id = ?`
		args = append(args, userID)
	}
	if signatureType != "" {
		query += ` AND s.signature_type = ?`
		args = append(args, signatureType)
	}
	query += ` ORDER BY s.created_at DESC, s.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing signatures: %w", err)
	}
	defer rows.Close()

	var sigs []model.Signature
	for rows.Next() {
		var s model.Signature
		if err := rows.Scan(&s.ID, &s.UserID, &s.SignatureType, &s.SignatureData, &s.CreatedAt, &s.Username); err != nil {
			return nil, fmt.Errorf("scanning signature: %w", err)
		}
		sigs = append(sigs, s)
	}
	return sigs, rows.Err()
}

func signatureExists(ctx context.Context, q DBTX, id int64) (bool, error) {
	n, err := countRefs(ctx, q, `SELECT COUNT(*) FROM signatures WHERE id = ?`, id)
	return n > 0, err
}
