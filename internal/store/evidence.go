package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/custody/internal/model"
)

// EvidenceInput describes a new evidence item.
type EvidenceInput struct {
	CaseNumber         string
	ItemNumber         string
	AutoNumber         bool
	ItemTypeID         *int64
	Description        string
	CollectedDate      string
	CollectedBy        string
	CollectionLocation string
	SerialNumber       string
	MakeModel          string
	Barcode            string
	ConditionNotes     string
	CurrentStatus      string
	LocationID         *int64
	CustodianID        *int64
}

// CreateEvidence registers an evidence item. If a custodian is given, an
// initial receipt transfer is recorded in the same transaction and the item
// takes its custodian and location from it.
func CreateEvidence(ctx context.Context, db *sql.DB, in EvidenceInput, actorID int64) (*model.EvidenceItem, error) {
	in.CaseNumber = strings.TrimSpace(in.CaseNumber)
	in.ItemNumber = strings.TrimSpace(in.ItemNumber)
	in.Description = strings.TrimSpace(in.Description)

	if in.CaseNumber == "" {
		return nil, invalidf("case_number required")
	}
	if in.Description == "" {
		return nil, invalidf("description required")
	}
	if in.ItemNumber == "" && !in.AutoNumber {
		return nil, invalidf("item_number required")
	}
	if in.AutoNumber && in.ItemTypeID == nil {
		return nil, invalidf("item_type_id required for automatic numbering")
	}
	if err := validateDate(in.CollectedDate); err != nil {
		return nil, err
	}
	if in.CurrentStatus == "" {
		in.CurrentStatus = model.ItemStatusStored
	}
	if !model.ValidItemStatus(in.CurrentStatus) || model.IsTerminalStatus(in.CurrentStatus) {
		return nil, invalidf("invalid initial status %q", in.CurrentStatus)
	}

	var id int64
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		var typeName string
		if in.ItemTypeID != nil {
			it, err := GetItemType(ctx, tx, *in.ItemTypeID)
			if err != nil {
				return err
			}
			if it == nil {
				return invalidf("item type %d does not exist", *in.ItemTypeID)
			}
			typeName = it.Name
		}
		if err := validateTargets(ctx, tx, in.CustodianID, in.LocationID); err != nil {
			return err
		}

		if in.AutoNumber && in.ItemNumber == "" {
			existing, err := itemNumbersForCase(ctx, tx, in.CaseNumber)
			if err != nil {
				return err
			}
			in.ItemNumber = model.NextItemNumber(in.CaseNumber, typeName, existing)
		}

		var dup int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM evidence_items WHERE case_number = ? AND item_number = ?`,
			in.CaseNumber, in.ItemNumber,
		).Scan(&dup); err != nil {
			return fmt.Errorf("checking item number: %w", err)
		}
		if dup > 0 {
			return wrapf(ErrDuplicate, "item %s already exists in case %s", in.ItemNumber, in.CaseNumber)
		}

		// The location is set directly only when no receipt transfer will carry it.
		var directLocation *int64
		if in.CustodianID == nil {
			directLocation = in.LocationID
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_items (
			     case_number, item_number, item_type_id, description, collected_date, collected_by,
			     collection_location, serial_number, make_model, barcode, condition_notes,
			     current_status, current_location_id, created_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.CaseNumber, in.ItemNumber, in.ItemTypeID, in.Description, in.CollectedDate, in.CollectedBy,
			in.CollectionLocation, in.SerialNumber, in.MakeModel, in.Barcode, in.ConditionNotes,
			in.CurrentStatus, directLocation, nullID(actorID),
		)
		if err != nil {
			return mapConstraint(fmt.Errorf("creating evidence item: %w", err), "evidence item")
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting evidence item id: %w", err)
		}

		if err := writeAudit(ctx, tx, actorID, AuditCreate, "evidence_items", id,
			fmt.Sprintf("case=%s item=%s", in.CaseNumber, in.ItemNumber)); err != nil {
			return err
		}

		if in.CustodianID == nil {
			return nil
		}

		receipt := TransferInput{
			EvidenceItemID: id,
			TransferType:   model.TransferTypeReceipt,
			ToCustodianID:  in.CustodianID,
			ToLocationID:   in.LocationID,
			ConditionNotes: in.ConditionNotes,
			Notes:          "Initial evidence intake",
		}
		reason, err := GetTransferReasonByText(ctx, tx, model.InitialReceiptReason)
		if err != nil {
			return err
		}
		if reason != nil && reason.Active {
			receipt.TransferReasonID = &reason.ID
		}
		_, err = createTransferTx(ctx, tx, receipt, actorID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return GetEvidence(ctx, db, id)
}

func validateDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(model.DateLayout, s); err != nil {
		return invalidf("collected_date must be YYYY-MM-DD")
	}
	return nil
}

func itemNumbersForCase(ctx context.Context, q DBTX, caseNumber string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT item_number FROM evidence_items WHERE case_number = ?`, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("listing item numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning item number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

const evidenceSelect = `
	SELECT e.id, e.case_number, e.item_number, e.item_type_id, e.description, e.collected_date,
	       e.collected_by, e.collection_location, e.serial_number, e.make_model, e.barcode,
	       e.condition_notes, e.current_status, e.current_location_id, e.current_custodian_id,
	       e.created_by, e.created_at, e.updated_at,
	       COALESCE(it.name, ''),
	       COALESCE(l.name, ''),
	       COALESCE(NULLIF(c.full_name, ''), c.username, ''),
	       COALESCE(cb.username, '')
	FROM evidence_items e
	LEFT JOIN item_types it ON it.id = e.item_type_id
	LEFT JOIN locations l ON l.id = e.current_location_id
	LEFT JOIN users c ON c.id = e.current_custodian_id
	LEFT JOIN users cb ON cb.id = e.created_by`

func scanEvidence(row interface{ Scan(...any) error }) (*model.EvidenceItem, error) {
	e := &model.EvidenceItem{}
	err := row.Scan(&e.ID, &e.CaseNumber, &e.ItemNumber, &e.ItemTypeID, &e.Description, &e.CollectedDate,
		&e.CollectedBy, &e.CollectionLocation, &e.SerialNumber, &e.MakeModel, &e.Barcode,
		&e.ConditionNotes, &e.CurrentStatus, &e.CurrentLocationID, &e.CurrentCustodianID,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
		&e.ItemTypeName, &e.CurrentLocationName, &e.CurrentCustodianName, &e.CreatedByName)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvidence returns an evidence item by ID.
func GetEvidence(ctx context.Context, db DBTX, id int64) (*model.EvidenceItem, error) {
	e, err := scanEvidence(db.QueryRowContext(ctx, evidenceSelect+` WHERE e.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting evidence item: %w", err)
	}
	return e, nil
}

// EvidenceFilter narrows ListEvidence. Zero values match everything.
type EvidenceFilter struct {
	Search      string
	CaseNumber  string
	Status      string
	LocationID  int64
	ItemTypeID  int64
	CustodianID int64
}

// ListEvidence returns matching evidence items, newest first. Search matches
// case number, item number, description, serial number and barcode.
func ListEvidence(ctx context.Context, db *sql.DB, f EvidenceFilter) ([]model.EvidenceItem, error) {
	query := evidenceSelect + ` WHERE 1=1`
	var args []any

	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		query += ` AND (e.case_number LIKE ? OR e.item_number LIKE ? OR e.description LIKE ?
		               OR e.serial_number LIKE ? OR e.barcode LIKE ?)`
		args = append(args, like, like, like, like, like)
	}
	if f.CaseNumber != "" {
		query += ` AND e.case_number = ?`
		args = append(args, f.CaseNumber)
	}
	if f.Status != "" {
		query += ` AND e.current_status = ?`
		args = append(args, f.Status)
	}
	if f.LocationID > 0 {
		query += ` AND e.current_location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.ItemTypeID > 0 {
		query += ` AND e.item_type_id = ?`
		args = append(args, f.ItemTypeID)
	}
	if f.CustodianID > 0 {
		query += ` AND e.current_custodian_id = ?`
		args = append(args, f.CustodianID)
	}

	query += ` ORDER BY e.created_at DESC, e.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing evidence: %w", err)
	}
	defer rows.Close()

	var items []model.EvidenceItem
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning evidence item: %w", err)
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}

// EvidencePatch holds optional evidence item changes.
type EvidencePatch struct {
	CaseNumber         *string
	ItemNumber         *string
	ItemTypeID         *int64
	Description        *string
	CollectedDate      *string
	CollectedBy        *string
	CollectionLocation *string
	SerialNumber       *string
	MakeModel          *string
	Barcode            *string
	ConditionNotes     *string
	CurrentStatus      *string
	LocationID         *int64
	CustodianID        *int64
}

// UpdateEvidence applies a patch to an evidence item. A custody change
// (location or custodian) is recorded as a completed internal transfer, and a
// status that a transfer type implies (released, disposed) is recorded as a
// completed transfer of that type, so the item always matches its latest
// completed transfer. Custody moves are applied before any status change.
func UpdateEvidence(ctx context.Context, db *sql.DB, id int64, p EvidencePatch, actorID int64) (*model.EvidenceItem, error) {
	if p.CaseNumber != nil && strings.TrimSpace(*p.CaseNumber) == "" {
		return nil, invalidf("case_number cannot be empty")
	}
	if p.ItemNumber != nil && strings.TrimSpace(*p.ItemNumber) == "" {
		return nil, invalidf("item_number cannot be empty")
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return nil, invalidf("description cannot be empty")
	}
	if p.CollectedDate != nil {
		if err := validateDate(*p.CollectedDate); err != nil {
			return nil, err
		}
	}
	if p.CurrentStatus != nil && !model.ValidItemStatus(*p.CurrentStatus) {
		return nil, invalidf("invalid status %q", *p.CurrentStatus)
	}

	err := inTx(ctx, db, func(tx *sql.Tx) error {
		cur, err := GetEvidence(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return wrapf(ErrNotFound, "evidence item not found")
		}

		if model.IsTerminalStatus(cur.CurrentStatus) {
			if p.CurrentStatus != nil && *p.CurrentStatus != cur.CurrentStatus {
				return wrapf(ErrInvalidState, "evidence item is %s; its status can no longer change", cur.CurrentStatus)
			}
			if p.LocationID != nil || p.CustodianID != nil {
				return wrapf(ErrInvalidState, "evidence item is %s and cannot be moved", cur.CurrentStatus)
			}
		}

		if p.ItemTypeID != nil {
			it, err := GetItemType(ctx, tx, *p.ItemTypeID)
			if err != nil {
				return err
			}
			if it == nil {
				return invalidf("item type %d does not exist", *p.ItemTypeID)
			}
		}
		if err := validateTargets(ctx, tx, p.CustodianID, p.LocationID); err != nil {
			return err
		}

		caseNumber, itemNumber := cur.CaseNumber, cur.ItemNumber
		if p.CaseNumber != nil {
			caseNumber = strings.TrimSpace(*p.CaseNumber)
		}
		if p.ItemNumber != nil {
			itemNumber = strings.TrimSpace(*p.ItemNumber)
		}
		if caseNumber != cur.CaseNumber || itemNumber != cur.ItemNumber {
			var dup int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM evidence_items WHERE case_number = ? AND item_number = ? AND id != ?`,
				caseNumber, itemNumber, id,
			).Scan(&dup); err != nil {
				return fmt.Errorf("checking item number: %w", err)
			}
			if dup > 0 {
				return wrapf(ErrDuplicate, "item %s already exists in case %s", itemNumber, caseNumber)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE evidence_items SET
			     case_number         = ?,
			     item_number         = ?,
			     item_type_id        = COALESCE(?, item_type_id),
			     description         = COALESCE(?, description),
			     collected_date      = COALESCE(?, collected_date),
			     collected_by        = COALESCE(?, collected_by),
			     collection_location = COALESCE(?, collection_location),
			     serial_number       = COALESCE(?, serial_number),
			     make_model          = COALESCE(?, make_model),
			     barcode             = COALESCE(?, barcode),
			     condition_notes     = COALESCE(?, condition_notes),
			     updated_at          = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			caseNumber, itemNumber, p.ItemTypeID, trimmed(p.Description), p.CollectedDate,
			p.CollectedBy, p.CollectionLocation, p.SerialNumber, p.MakeModel, p.Barcode,
			p.ConditionNotes, id,
		); err != nil {
			return mapConstraint(fmt.Errorf("updating evidence item: %w", err), "evidence item")
		}

		if err := writeAudit(ctx, tx, actorID, AuditUpdate, "evidence_items", id, ""); err != nil {
			return err
		}

		moved := (p.CustodianID != nil && !sameID(p.CustodianID, cur.CurrentCustodianID)) ||
			(p.LocationID != nil && !sameID(p.LocationID, cur.CurrentLocationID))
		newStatus := ""
		if p.CurrentStatus != nil && *p.CurrentStatus != cur.CurrentStatus {
			newStatus = *p.CurrentStatus
		}

		// released and disposed only come from a transfer; a move in the same
		// patch travels with it.
		if transferType := model.TransferTypeForStatus(newStatus); transferType != "" {
			_, err = createTransferTx(ctx, tx, TransferInput{
				EvidenceItemID: id,
				TransferType:   transferType,
				ToCustodianID:  p.CustodianID,
				ToLocationID:   p.LocationID,
				Notes:          "Status set to " + newStatus + " on evidence record",
			}, actorID, true)
			return err
		}

		if moved {
			if _, err := createTransferTx(ctx, tx, TransferInput{
				EvidenceItemID: id,
				TransferType:   model.TransferTypeInternal,
				ToCustodianID:  p.CustodianID,
				ToLocationID:   p.LocationID,
				Notes:          "Custody updated on evidence record",
			}, actorID, true); err != nil {
				return err
			}
		}
		if newStatus == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE evidence_items SET current_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			newStatus, id,
		); err != nil {
			return fmt.Errorf("updating evidence status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetEvidence(ctx, db, id)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DeleteEvidence deletes an evidence item with no transfer history, along
// with its notes and photos.
func DeleteEvidence(ctx context.Context, db *sql.DB, id int64, actorID int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, id); err != nil {
			return err
		}
		n, err := countRefs(ctx, tx, `SELECT COUNT(*) FROM custody_transfers WHERE evidence_item_id = ?`, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapf(ErrInUse, "evidence item has %d transfer(s) in its chain of custody and cannot be deleted", n)
		}

		for _, q := range []string{
			`DELETE FROM evidence_notes WHERE evidence_item_id = ?`,
			`DELETE FROM evidence_photos WHERE evidence_item_id = ?`,
			`DELETE FROM evidence_items WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return mapConstraint(fmt.Errorf("deleting evidence item: %w", err), "evidence item")
			}
		}
		return writeAudit(ctx, tx, actorID, AuditDelete, "evidence_items", id, "")
	})
}
