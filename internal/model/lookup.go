package model

import "time"

// ItemType classifies evidence items.
type ItemType struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is a place where evidence can be stored.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Building  string    `json:"building,omitempty"`
	Room      string    `json:"room,omitempty"`
	Capacity  *int64    `json:"capacity,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferReason explains a transfer and decides whether it needs approval.
type TransferReason struct {
	ID               int64     `json:"id"`
	Reason           string    `json:"reason"`
	RequiresApproval bool      `json:"requires_approval"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Lookup kinds as they appear in URLs.
const (
	LookupItemTypes       = "item-types"
	LookupLocations       = "locations"
	LookupTransferReasons = "transfer-reasons"
)

// InitialReceiptReason is the seeded reason used for implicit intake transfers.
const InitialReceiptReason = "Initial Evidence Receipt"
