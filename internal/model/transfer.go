package model

import (
	"fmt"
	"strings"
	"time"
)

// Transfer moves an evidence item between custodians and locations.
// From fields are captured from the item when the transfer is created.
type Transfer struct {
	ID               int64      `json:"id"`
	EvidenceItemID   int64      `json:"evidence_item_id"`
	TransferType     string     `json:"transfer_type"`
	TransferReasonID *int64     `json:"transfer_reason_id,omitempty"`
	ReasonText       string     `json:"transfer_reason_text,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
	FromCustodianID  *int64     `json:"from_custodian_id,omitempty"`
	FromLocationID   *int64     `json:"from_location_id,omitempty"`
	ToCustodianID    *int64     `json:"to_custodian_id,omitempty"`
	ToLocationID     *int64     `json:"to_location_id,omitempty"`
	FromSignatureID  *int64     `json:"from_signature_id,omitempty"`
	ToSignatureID    *int64     `json:"to_signature_id,omitempty"`
	ConditionNotes   string     `json:"condition_notes,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Status           string     `json:"status"`
	ReceiptNumber    string     `json:"receipt_number"`
	InitiatedBy      *int64     `json:"initiated_by,omitempty"`
	InitiatedAt      time.Time  `json:"initiated_at"`
	ApprovedBy       *int64     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// Joined fields (not always populated).
	CaseNumber        string `json:"case_number,omitempty"`
	ItemNumber        string `json:"item_number,omitempty"`
	TransferReason    string `json:"transfer_reason,omitempty"`
	FromCustodianName string `json:"from_custodian_name,omitempty"`
	FromLocationName  string `json:"from_location_name,omitempty"`
	ToCustodianName   string `json:"to_custodian_name,omitempty"`
	ToLocationName    string `json:"to_location_name,omitempty"`
	InitiatedByName   string `json:"initiated_by_name,omitempty"`
	ApprovedByName    string `json:"approved_by_name,omitempty"`
}

// Transfer types.
const (
	TransferTypeReceipt  = "receipt"
	TransferTypeInternal = "internal"
	TransferTypeRelease  = "release"
	TransferTypeDisposal = "disposal"
)

// ValidTransferType reports whether t is a known transfer type.
func ValidTransferType(t string) bool {
	switch t {
	case TransferTypeReceipt, TransferTypeInternal, TransferTypeRelease, TransferTypeDisposal:
		return true
	}
	return false
}

// Transfer statuses.
const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
	TransferStatusRejected  = "rejected"
)

// ValidTransferStatus reports whether s is a known transfer status.
func ValidTransferStatus(s string) bool {
	switch s {
	case TransferStatusPending, TransferStatusCompleted, TransferStatusRejected:
		return true
	}
	return false
}

// Resolve actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// ImpliedItemStatus returns the item status a completed transfer of the
// given type forces, or "" when the item keeps its current status.
func ImpliedItemStatus(transferType string) string {
	switch transferType {
	case TransferTypeRelease:
		return ItemStatusReleased
	case TransferTypeDisposal:
		return ItemStatusDisposed
	}
	return ""
}

// TransferTypeForStatus returns the transfer type that puts an item into
// status, or "" when no transfer type implies it.
func TransferTypeForStatus(status string) string {
	switch status {
	case ItemStatusReleased:
		return TransferTypeRelease
	case ItemStatusDisposed:
		return TransferTypeDisposal
	}
	return ""
}

// ReceiptNumber formats the receipt number of a transfer.
func ReceiptNumber(transferType string, itemID, transferID int64, at time.Time) string {
	return fmt.Sprintf("%s-%06d-%s-%06d",
		strings.ToUpper(transferType), itemID, at.UTC().Format("20060102"), transferID)
}

// DefaultRejectionReason is recorded when a rejection carries no reason.
const DefaultRejectionReason = "Rejected by approver"

// AppendRejection appends a rejection line to existing transfer notes.
func AppendRejection(notes, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectionReason
	}
	line := "REJECTED: " + reason
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

// Signature is a captured signature that transfers can reference.
type Signature struct {
	ID            int64     `json:"id"`
	UserID        *int64    `json:"user_id,omitempty"`
	SignatureType string    `json:"signature_type"`
	SignatureData string    `json:"signature_data"`
	CreatedAt     time.Time `json:"created_at"`

	Username string `json:"username,omitempty"`
}

// Signature types.
const (
	SignatureHandDrawn = "hand-drawn"
	SignatureTyped     = "typed"
	SignatureUploaded  = "uploaded"
)

// ValidSignatureType reports whether t is a known signature type.
func ValidSignatureType(t string) bool {
	return t == SignatureHandDrawn || t == SignatureTyped || t == SignatureUploaded
}

// AuditEntry records a mutation made through the API.
type AuditEntry struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	TableName string    `json:"table_name"`
	RecordID  int64     `json:"record_id"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Username string `json:"username,omitempty"`
}
