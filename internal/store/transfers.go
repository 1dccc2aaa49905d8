package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/custody/internal/model"
)

// TransferInput describes a new custody transfer.
type TransferInput struct {
	EvidenceItemID   int64
	TransferType     string
	TransferReasonID *int64
	ReasonText       string
	ToCustodianID    *int64
	ToLocationID     *int64
	FromSignatureID  *int64
	ToSignatureID    *int64
	ConditionNotes   string
	Notes            string
}

// CreateTransfer records a custody transfer. When the reason does not require
// approval the transfer completes immediately and the item moves in the same
// transaction; otherwise it stays pending and the item is untouched.
func CreateTransfer(ctx context.Context, db *sql.DB, in TransferInput, actorID int64) (*model.Transfer, error) {
	var id int64
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		id, err = createTransferTx(ctx, tx, in, actorID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return GetTransfer(ctx, db, id)
}

// itemState is the part of an evidence item a transfer reads and moves.
type itemState struct {
	status      string
	custodianID *int64
	locationID  *int64
}

func getItemState(ctx context.Context, q DBTX, itemID int64) (*itemState, error) {
	s := &itemState{}
	err := q.QueryRowContext(ctx,
		`SELECT current_status, current_custodian_id, current_location_id FROM evidence_items WHERE id = ?`,
		itemID,
	).Scan(&s.status, &s.custodianID, &s.locationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading evidence item: %w", err)
	}
	return s, nil
}

// createTransferTx validates and inserts a transfer inside tx. forceComplete
// skips approval gating; it is used for the intake receipt.
func createTransferTx(ctx context.Context, tx *sql.Tx, in TransferInput, actorID int64, forceComplete bool) (int64, error) {
	if in.EvidenceItemID <= 0 {
		return 0, invalidf("evidence_item_id required")
	}
	if !model.ValidTransferType(in.TransferType) {
		return 0, invalidf("transfer_type must be one of receipt, internal, release, disposal")
	}

	item, err := getItemState(ctx, tx, in.EvidenceItemID)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, wrapf(ErrNotFound, "evidence item not found")
	}
	if model.IsTerminalStatus(item.status) {
		return 0, wrapf(ErrInvalidState, "evidence item is %s and cannot be transferred", item.status)
	}

	requiresApproval := false
	if in.TransferReasonID != nil {
		reason, err := GetTransferReason(ctx, tx, *in.TransferReasonID)
		if err != nil {
			return 0, err
		}
		if reason == nil || !reason.Active {
			return 0, invalidf("transfer reason %d does not exist or is inactive", *in.TransferReasonID)
		}
		requiresApproval = reason.RequiresApproval
	}
	if forceComplete {
		requiresApproval = false
	}

	if err := validateTargets(ctx, tx, in.ToCustodianID, in.ToLocationID); err != nil {
		return 0, err
	}
	for _, sig := range []*int64{in.FromSignatureID, in.ToSignatureID} {
		if sig == nil {
			continue
		}
		ok, err := signatureExists(ctx, tx, *sig)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, invalidf("signature %d does not exist", *sig)
		}
	}

	status := model.TransferStatusCompleted
	if requiresApproval {
		status = model.TransferStatusPending
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO custody_transfers (
		     evidence_item_id, transfer_type, transfer_reason_id, transfer_reason_text, requires_approval,
		     from_custodian_id, from_location_id, to_custodian_id, to_location_id,
		     from_signature_id, to_signature_id, condition_notes, notes,
		     status, initiated_by, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		         CASE WHEN ? = 'completed' THEN CURRENT_TIMESTAMP END)`,
		in.EvidenceItemID, in.TransferType, in.TransferReasonID, strings.TrimSpace(in.ReasonText), requiresApproval,
		item.custodianID, item.locationID, in.ToCustodianID, in.ToLocationID,
		in.FromSignatureID, in.ToSignatureID, in.ConditionNotes, in.Notes,
		status, nullID(actorID), status,
	)
	if err != nil {
		return 0, mapConstraint(fmt.Errorf("recording transfer: %w", err), "transfer")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting transfer id: %w", err)
	}

	receipt := model.ReceiptNumber(in.TransferType, in.EvidenceItemID, id, time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody_transfers SET receipt_number = ? WHERE id = ?`, receipt, id,
	); err != nil {
		return 0, mapConstraint(fmt.Errorf("stamping receipt number: %w", err), "receipt number")
	}

	if status == model.TransferStatusCompleted {
		if err := applyTransfer(ctx, tx, in.EvidenceItemID, in.TransferType, in.ToCustodianID, in.ToLocationID); err != nil {
			return 0, err
		}
	}

	details := fmt.Sprintf("receipt=%s type=%s status=%s", receipt, in.TransferType, status)
	if err := writeAudit(ctx, tx, actorID, AuditCreate, "custody_transfers", id, details); err != nil {
		return 0, err
	}
	return id, nil
}

// validateTargets checks that the target custodian and location, when given,
// are selectable.
func validateTargets(ctx context.Context, q DBTX, custodianID, locationID *int64) error {
	if custodianID != nil {
		ok, err := activeCustodian(ctx, q, *custodianID)
		if err != nil {
			return err
		}
		if !ok {
			return invalidf("custodian %d does not exist or is inactive", *custodianID)
		}
	}
	if locationID != nil {
		ok, err := activeLocation(ctx, q, *locationID)
		if err != nil {
			return err
		}
		if !ok {
			return invalidf("location %d does not exist or is inactive", *locationID)
		}
	}
	return nil
}

// applyTransfer moves an item to the transfer's targets. A nil target keeps
// the item's current value.
func applyTransfer(ctx context.Context, tx *sql.Tx, itemID int64, transferType string, custodianID, locationID *int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE evidence_items SET
		     current_custodian_id = COALESCE(?, current_custodian_id),
		     current_location_id  = COALESCE(?, current_location_id),
		     current_status       = COALESCE(NULLIF(?, ''), current_status),
		     updated_at           = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		custodianID, locationID, model.ImpliedItemStatus(transferType), itemID,
	)
	if err != nil {
		return fmt.Errorf("moving evidence item: %w", err)
	}
	return nil
}

// ResolveTransfer approves or rejects a pending transfer. Approval moves the
// item to the stored targets; rejection appends the reason to the notes.
func ResolveTransfer(ctx context.Context, db *sql.DB, id int64, action, rejectionReason string, actorID int64) (*model.Transfer, error) {
	if action != model.ActionApprove && action != model.ActionReject {
		return nil, invalidf("action must be approve or reject")
	}

	err := inTx(ctx, db, func(tx *sql.Tx) error {
		var (
			itemID       int64
			transferType string
			status       string
			notes        string
			toCustodian  *int64
			toLocation   *int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT evidence_item_id, transfer_type, status, notes, to_custodian_id, to_location_id
			 FROM custody_transfers WHERE id = ?`, id,
		).Scan(&itemID, &transferType, &status, &notes, &toCustodian, &toLocation)
		if err == sql.ErrNoRows {
			return wrapf(ErrNotFound, "transfer not found")
		}
		if err != nil {
			return fmt.Errorf("reading transfer: %w", err)
		}
		if status != model.TransferStatusPending {
			return wrapf(ErrInvalidState, "transfer is already %s", status)
		}

		var result sql.Result
		if action == model.ActionApprove {
			item, err := getItemState(ctx, tx, itemID)
			if err != nil {
				return err
			}
			if item == nil {
				return wrapf(ErrNotFound, "evidence item not found")
			}
			if model.IsTerminalStatus(item.status) {
				return wrapf(ErrInvalidState, "evidence item is %s and cannot be transferred", item.status)
			}
			// Targets were valid at creation but may have been deactivated since.
			if err := validateTargets(ctx, tx, toCustodian, toLocation); err != nil {
				if errors.Is(err, ErrInvalid) {
					return wrapf(ErrInvalidState, "transfer target is no longer selectable: %s", Message(err))
				}
				return err
			}

			result, err = tx.ExecContext(ctx,
				`UPDATE custody_transfers SET
				     status = 'completed', approved_by = ?, approved_at = CURRENT_TIMESTAMP,
				     completed_at = CURRENT_TIMESTAMP
				 WHERE id = ? AND status = 'pending'`,
				nullID(actorID), id,
			)
			if err != nil {
				return fmt.Errorf("approving transfer: %w", err)
			}
		} else {
			result, err = tx.ExecContext(ctx,
				`UPDATE custody_transfers SET
				     status = 'rejected', approved_by = ?, approved_at = CURRENT_TIMESTAMP, notes = ?
				 WHERE id = ? AND status = 'pending'`,
				nullID(actorID), model.AppendRejection(notes, rejectionReason), id,
			)
			if err != nil {
				return fmt.Errorf("rejecting transfer: %w", err)
			}
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return wrapf(ErrInvalidState, "transfer is no longer pending")
		}

		if action == model.ActionApprove {
			if err := applyTransfer(ctx, tx, itemID, transferType, toCustodian, toLocation); err != nil {
				return err
			}
		}

		auditAction := AuditApprove
		if action == model.ActionReject {
			auditAction = AuditReject
		}
		return writeAudit(ctx, tx, actorID, auditAction, "custody_transfers", id, strings.TrimSpace(rejectionReason))
	})
	if err != nil {
		return nil, err
	}
	return GetTransfer(ctx, db, id)
}

// TransferPatch holds the details of a pending transfer that may still change.
type TransferPatch struct {
	Notes           *string
	ConditionNotes  *string
	FromSignatureID *int64
	ToSignatureID   *int64
}

// UpdateTransfer edits notes and signatures of a pending transfer.
func UpdateTransfer(ctx context.Context, db *sql.DB, id int64, p TransferPatch, actorID int64) (*model.Transfer, error) {
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM custody_transfers WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return wrapf(ErrNotFound, "transfer not found")
		}
		if err != nil {
			return fmt.Errorf("reading transfer: %w", err)
		}
		if status != model.TransferStatusPending {
			return wrapf(ErrInvalidState, "only pending transfers can be edited; transfer is %s", status)
		}

		for _, sig := range []*int64{p.FromSignatureID, p.ToSignatureID} {
			if sig == nil {
				continue
			}
			ok, err := signatureExists(ctx, tx, *sig)
			if err != nil {
				return err
			}
			if !ok {
				return invalidf("signature %d does not exist", *sig)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE custody_transfers SET
			     notes             = COALESCE(?, notes),
			     condition_notes   = COALESCE(?, condition_notes),
			     from_signature_id = COALESCE(?, from_signature_id),
			     to_signature_id   = COALESCE(?, to_signature_id)
			 WHERE id = ?`,
			p.Notes, p.ConditionNotes, p.FromSignatureID, p.ToSignatureID, id,
		); err != nil {
			return fmt.Errorf("updating transfer: %w", err)
		}
		return writeAudit(ctx, tx, actorID, AuditUpdate, "custody_transfers", id, "")
	})
	if err != nil {
		return nil, err
	}
	return GetTransfer(ctx, db, id)
}

// DeleteTransfer deletes a pending or rejected transfer. Completed transfers
// are part of the chain of custody and are never deleted.
func DeleteTransfer(ctx context.Context, db *sql.DB, id int64, actorID int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		var status, receipt string
		err := tx.QueryRowContext(ctx,
			`SELECT status, COALESCE(receipt_number, '') FROM custody_transfers WHERE id = ?`, id,
		).Scan(&status, &receipt)
		if err == sql.ErrNoRows {
			return wrapf(ErrNotFound, "transfer not found")
		}
		if err != nil {
			return fmt.Errorf("reading transfer: %w", err)
		}
		if status == model.TransferStatusCompleted {
			return wrapf(ErrInvalidState, "completed transfers cannot be deleted")
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM custody_transfers WHERE id = ? AND status != 'completed'`, id,
		); err != nil {
			return fmt.Errorf("deleting transfer: %w", err)
		}
		return writeAudit(ctx, tx, actorID, AuditDelete, "custody_transfers", id, "receipt="+receipt)
	})
}

const transferSelect = `
	SELECT t.id, t.evidence_item_id, t.transfer_type, t.transfer_reason_id, t.transfer_reason_text, t.requires_approval,
	       t.from_custodian_id, t.from_location_id, t.to_custodian_id, t.to_location_id,
	       t.from_signature_id, t.to_signature_id, t.condition_notes, t.notes, t.status,
	       COALESCE(t.receipt_number, ''), t.initiated_by, t.initiated_at,
	       t.approved_by, t.approved_at, t.completed_at,
	       e.case_number, e.item_number,
	       COALESCE(r.reason, ''),
	       COALESCE(NULLIF(fc.full_name, ''), fc.username, ''),
	       COALESCE(fl.name, ''),
	       COALESCE(NULLIF(tc.full_name, ''), tc.username, ''),
	       COALESCE(tl.name, ''),
	       COALESCE(ib.username, ''),
	       COALESCE(ab.username, '')
	FROM custody_transfers t
	JOIN evidence_items e ON e.id = t.evidence_item_id
	LEFT JOIN transfer_reasons r ON r.id = t.transfer_reason_id
	LEFT JOIN users fc ON fc.id = t.from_custodian_id
	LEFT JOIN locations fl ON fl.id = t.from_location_id
	LEFT JOIN users tc ON tc.id = t.to_custodian_id
	LEFT JOIN locations tl ON tl.id = t.to_location_id
	LEFT JOIN users ib ON ib.id = t.initiated_by
	LEFT JOIN users ab ON ab.id = t.approved_by`

func scanTransfer(row interface{ Scan(...any) error }) (*model.Transfer, error) {
	t := &model.Transfer{}
	err := row.Scan(&t.ID, &t.EvidenceItemID, &t.TransferType, &t.TransferReasonID, &t.ReasonText, &t.RequiresApproval,
		&t.FromCustodianID, &t.FromLocationID, &t.ToCustodianID, &t.ToLocationID,
		&t.FromSignatureID, &t.ToSignatureID, &t.ConditionNotes, &t.Notes, &t.Status,
		&t.ReceiptNumber, &t.InitiatedBy, &t.InitiatedAt,
		&t.ApprovedBy, &t.ApprovedAt, &t.CompletedAt,
		&t.CaseNumber, &t.ItemNumber,
		&t.TransferReason,
		&t.FromCustodianName, &t.FromLocationName,
		&t.ToCustodianName, &t.ToLocationName,
		&t.InitiatedByName, &t.ApprovedByName)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransfer returns a transfer by ID.
func GetTransfer(ctx context.Context, db DBTX, id int64) (*model.Transfer, error) {
	t, err := scanTransfer(db.QueryRowContext(ctx, transferSelect+` WHERE t.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer: %w", err)
	}
	return t, nil
}

// TransferFilter narrows ListTransfers. Zero values match everything.
type TransferFilter struct {
	EvidenceItemID int64
	Status         string
	TransferType   string
	CustodianID    int64
	Limit          int
	Offset         int
}

// ListTransfers returns matching transfers, newest first, and the total number
// of matches ignoring Limit and Offset. A zero Limit returns every match.
func ListTransfers(ctx context.Context, db DBTX, f TransferFilter) ([]model.Transfer, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if f.EvidenceItemID > 0 {
		where += ` AND t.evidence_item_id = ?`
		args = append(args, f.EvidenceItemID)
	}
	if f.Status != "" {
		where += ` AND t.status = ?`
		args = append(args, f.Status)
	}
	if f.TransferType != "" {
		where += ` AND t.transfer_type = ?`
		args = append(args, f.TransferType)
	}
	if f.CustodianID > 0 {
		where += ` AND (t.from_custodian_id = ? OR t.to_custodian_id = ?)`
		args = append(args, f.CustodianID, f.CustodianID)
	}

	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM custody_transfers t`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transfers: %w", err)
	}

	query := transferSelect + where + ` ORDER BY t.initiated_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var transfers []model.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	return transfers, total, rows.Err()
}

// ItemHistory returns every transfer of an evidence item, newest first.
func ItemHistory(ctx context.Context, db DBTX, itemID int64) ([]model.Transfer, error) {
	transfers, _, err := ListTransfers(ctx, db, TransferFilter{EvidenceItemID: itemID})
	return transfers, err
}
