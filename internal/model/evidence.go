package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EvidenceItem is a single tracked piece of evidence.
type EvidenceItem struct {
	ID                 int64     `json:"id"`
	CaseNumber         string    `json:"case_number"`
	ItemNumber         string    `json:"item_number"`
	ItemTypeID         *int64    `json:"item_type_id,omitempty"`
	Description        string    `json:"description"`
	CollectedDate      string    `json:"collected_date,omitempty"`
	CollectedBy        string    `json:"collected_by,omitempty"`
	CollectionLocation string    `json:"collection_location,omitempty"`
	SerialNumber       string    `json:"serial_number,omitempty"`
	MakeModel          string    `json:"make_model,omitempty"`
	Barcode            string    `json:"barcode,omitempty"`
	ConditionNotes     string    `json:"condition_notes,omitempty"`
	CurrentStatus      string    `json:"current_status"`
	CurrentLocationID  *int64    `json:"current_location_id,omitempty"`
	CurrentCustodianID *int64    `json:"current_custodian_id,omitempty"`
	CreatedBy          *int64    `json:"created_by,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	ItemTypeName         string `json:"item_type_name,omitempty"`
	CurrentLocationName  string `json:"current_location_name,omitempty"`
	CurrentCustodianName string `json:"current_custodian_name,omitempty"`
	CreatedByName        string `json:"created_by_name,omitempty"`
}

// Item statuses.
const (
	ItemStatusStored     = "stored"
	ItemStatusInAnalysis = "in_analysis"
	ItemStatusInCourt    = "in_court"
	ItemStatusReleased   = "released"
	ItemStatusDisposed   = "disposed"
	ItemStatusDestroyed  = "destroyed"
)

// ItemStatuses lists every valid item status.
var ItemStatuses = []string{
	ItemStatusStored,
	ItemStatusInAnalysis,
	ItemStatusInCourt,
	ItemStatusReleased,
	ItemStatusDisposed,
	ItemStatusDestroyed,
}

// ValidItemStatus reports whether s is a known item status.
func ValidItemStatus(s string) bool {
	for _, v := range ItemStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether an item in status s can no longer move.
func IsTerminalStatus(s string) bool {
	return s == ItemStatusDisposed || s == ItemStatusDestroyed
}

// DateLayout is the format of collected_date.
const DateLayout = "2006-01-02"

// typeAbbreviations maps item type names to item number segments.
var typeAbbreviations = map[string]string{
	"mobile phone":  "MOBILE",
	"hard drive":    "HDD",
	"usb drive":     "USB",
	"laptop":        "LAPTOP",
	"document":      "DOC",
	"firearm":       "FIREARM",
	"currency":      "CASH",
	"drug evidence": "DRUG",
	"sim card":      "SIM",
	"other":         "OTHER",
}

// TypeAbbreviation returns the item number segment for an item type name.
func TypeAbbreviation(typeName string) string {
	if a, ok := typeAbbreviations[strings.ToLower(strings.TrimSpace(typeName))]; ok {
		return a
	}
	return "ITEM"
}

// NextItemNumber returns the next free item number for a case and item type,
// formatted as {case}-{TYPE}-{NN}. existing holds item numbers already used
// in the case.
func NextItemNumber(caseNumber, typeName string, existing []string) string {
	prefix := fmt.Sprintf("%s-%s-", caseNumber, TypeAbbreviation(typeName))

	highest := 0
	for _, n := range existing {
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(n, prefix))
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return fmt.Sprintf("%s%02d", prefix, highest+1)
}

// Note is a free-text remark attached to an evidence item.
type Note struct {
	ID             int64     `json:"id"`
	EvidenceItemID int64     `json:"evidence_item_id"`
	Note           string    `json:"note"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	CreatedByName string `json:"created_by_name,omitempty"`
}

// Photo is the metadata of an image attached to an evidence item.
type Photo struct {
	ID             int64     `json:"id"`
	EvidenceItemID int64     `json:"evidence_item_id"`
	ImageMime      string    `json:"image_mime"`
	Caption        string    `json:"caption,omitempty"`
	UploadedBy     *int64    `json:"uploaded_by,omitempty"`
	UploadedAt     time.Time `json:"uploaded_at"`

	UploadedByName string `json:"uploaded_by_name,omitempty"`
}
