package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/erazemk/custody/internal/model"
)

func newUser(t *testing.T, database *sql.DB, username, role string) *model.User {
	t.Helper()
	u, err := CreateUser(context.Background(), database, &model.User{
		Username:     username,
		PasswordHash: "hash",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func locationID(t *testing.T, database *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	if err := database.QueryRow(`SELECT id FROM locations WHERE name = ?`, name).Scan(&id); err != nil {
		t.Fatalf("looking up location %q: %v", name, err)
	}
	return id
}

func itemTypeID(t *testing.T, database *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	if err := database.QueryRow(`SELECT id FROM item_types WHERE name = ?`, name).Scan(&id); err != nil {
		t.Fatalf("looking up item type %q: %v", name, err)
	}
	return id
}

func reasonID(t *testing.T, database *sql.DB, reason string) int64 {
	t.Helper()
	var id int64
	if err := database.QueryRow(`SELECT id FROM transfer_reasons WHERE reason = ?`, reason).Scan(&id); err != nil {
		t.Fatalf("looking up reason %q: %v", reason, err)
	}
	return id
}

func newItem(t *testing.T, database *sql.DB, caseNo, itemNo string) *model.EvidenceItem {
	t.Helper()
	e, err := CreateEvidence(context.Background(), database, EvidenceInput{
		CaseNumber:  caseNo,
		ItemNumber:  itemNo,
		Description: "test item",
	}, 0)
	if err != nil {
		t.Fatalf("CreateEvidence(%s/%s): %v", caseNo, itemNo, err)
	}
	return e
}

func countTransfers(t *testing.T, database *sql.DB, itemID int64) int {
	t.Helper()
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM custody_transfers WHERE evidence_item_id = ?`, itemID).Scan(&n); err != nil {
		t.Fatalf("counting transfers: %v", err)
	}
	return n
}

func ptr[T any](v T) *T { return &v }

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func derefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
