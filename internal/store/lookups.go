package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/custody/internal/model"
)

// nameTaken reports whether another row of table already uses value in column,
// ignoring case. excludeID skips the row being updated.
func nameTaken(ctx context.Context, q DBTX, table, column, value string, excludeID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE `+column+` = ? COLLATE NOCASE AND id != ?`,
		value, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s uniqueness: %w", table, err)
	}
	return n > 0, nil
}

// countRefs runs a COUNT(*) query with a single id argument.
func countRefs(ctx context.Context, q DBTX, query string, id int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting references: %w", err)
	}
	return n, nil
}

// --- Item types ---

// ListItemTypes returns item types ordered by name.
func ListItemTypes(ctx context.Context, db *sql.DB, includeInactive bool) ([]model.ItemType, error) {
	query := `SELECT id, name, category, active, created_at FROM item_types`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name COLLATE NOCASE`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing item types: %w", err)
	}
	defer rows.Close()

	var types []model.ItemType
	for rows.Next() {
		var it model.ItemType
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &it.Active, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning item type: %w", err)
		}
		types = append(types, it)
	}
	return types, rows.Err()
}

// GetItemType returns an item type by ID.
func GetItemType(ctx context.Context, db DBTX, id int64) (*model.ItemType, error) {
	it := &model.ItemType{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, category, active, created_at FROM item_types WHERE id = ?`, id,
	).Scan(&it.ID, &it.Name, &it.Category, &it.Active, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item type: %w", err)
	}
	return it, nil
}

// CreateItemType creates an item type. Names are unique ignoring case.
func CreateItemType(ctx context.Context, db *sql.DB, name, category string) (*model.ItemType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("name required")
	}
	taken, err := nameTaken(ctx, db, "item_types", "name", name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, wrapf(ErrDuplicate, "item type %q already exists", name)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO item_types (name, category) VALUES (?, ?)`, name, category)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("creating item type: %w", err), "item type")
	}
	id, _ := result.LastInsertId()
	return GetItemType(ctx, db, id)
}

// ItemTypePatch holds optional item type changes.
type ItemTypePatch struct {
	Name     *string
	Category *string
	Active   *bool
}

// UpdateItemType applies a patch to an item type.
func UpdateItemType(ctx context.Context, db *sql.DB, id int64, p ItemTypePatch) (*model.ItemType, error) {
	if p.Name != nil {
		trimmed := strings.TrimSpace(*p.Name)
		if trimmed == "" {
			return nil, invalidf("name cannot be empty")
		}
		p.Name = &trimmed
		taken, err := nameTaken(ctx, db, "item_types", "name", trimmed, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, wrapf(ErrDuplicate, "item type %q already exists", trimmed)
		}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE item_types SET
		     name     = COALESCE(?, name),
		     category = COALESCE(?, category),
		     active   = COALESCE(?, active)
		 WHERE id = ?`,
		p.Name, p.Category, p.Active, id,
	)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("updating item type: %w", err), "item type")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, wrapf(ErrNotFound, "item type not found")
	}
	return GetItemType(ctx, db, id)
}

// DeleteItemType deletes an item type that no evidence item references.
func DeleteItemType(ctx context.Context, db *sql.DB, id int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		n, err := countRefs(ctx, tx, `SELECT COUNT(*) FROM evidence_items WHERE item_type_id = ?`, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapf(ErrInUse, "item type is used by %d evidence item(s); deactivate instead", n)
		}
		return deleteRow(ctx, tx, "item_types", "item type", id)
	})
}

// --- Locations ---

const locationColumns = `id, name, building, room, capacity, notes, active, created_at`

func scanLocation(row interface{ Scan(...any) error }) (*model.Location, error) {
	l := &model.Location{}
	err := row.Scan(&l.ID, &l.Name, &l.Building, &l.Room, &l.Capacity, &l.Notes, &l.Active, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListLocations returns locations ordered by name.
func ListLocations(ctx context.Context, db *sql.DB, includeInactive bool) ([]model.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name COLLATE NOCASE`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

// GetLocation returns a location by ID.
func GetLocation(ctx context.Context, db DBTX, id int64) (*model.Location, error) {
	l, err := scanLocation(db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// CreateLocation creates a location. Names are unique ignoring case.
func CreateLocation(ctx context.Context, db *sql.DB, l *model.Location) (*model.Location, error) {
	name := strings.TrimSpace(l.Name)
	if name == "" {
		return nil, invalidf("name required")
	}
	if l.Capacity != nil && *l.Capacity < 0 {
		return nil, invalidf("capacity cannot be negative")
	}
	taken, err := nameTaken(ctx, db, "locations", "name", name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, wrapf(ErrDuplicate, "location %q already exists", name)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO locations (name, building, room, capacity, notes) VALUES (?, ?, ?, ?, ?)`,
		name, l.Building, l.Room, l.Capacity, l.Notes)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("creating location: %w", err), "location")
	}
	id, _ := result.LastInsertId()
	return GetLocation(ctx, db, id)
}

// LocationPatch holds optional location changes.
type LocationPatch struct {
	Name     *string
	Building *string
	Room     *string
	Capacity *int64
	Notes    *string
	Active   *bool
}

// UpdateLocation applies a patch to a location.
func UpdateLocation(ctx context.Context, db *sql.DB, id int64, p LocationPatch) (*model.Location, error) {
	if p.Name != nil {
		trimmed := strings.TrimSpace(*p.Name)
		if trimmed == "" {
			return nil, invalidf("name cannot be empty")
		}
		p.Name = &trimmed
		taken, err := nameTaken(ctx, db, "locations", "name", trimmed, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, wrapf(ErrDuplicate, "location %q already exists", trimmed)
		}
	}
	if p.Capacity != nil && *p.Capacity < 0 {
		return nil, invalidf("capacity cannot be negative")
	}

	result, err := db.ExecContext(ctx,
		`UPDATE locations SET
		     name     = COALESCE(?, name),
		     building = COALESCE(?, building),
		     room     = COALESCE(?, room),
		     capacity = COALESCE(?, capacity),
		     notes    = COALESCE(?, notes),
		     active   = COALESCE(?, active)
		 WHERE id = ?`,
		p.Name, p.Building, p.Room, p.Capacity, p.Notes, p.Active, id,
	)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("updating location: %w", err), "location")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, wrapf(ErrNotFound, "location not found")
	}
	return GetLocation(ctx, db, id)
}

// DeleteLocation deletes a location that holds no evidence and appears in no
// transfer.
func DeleteLocation(ctx context.Context, db *sql.DB, id int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		n, err := countRefs(ctx, tx, `SELECT COUNT(*) FROM evidence_items WHERE current_location_id = ?`, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapf(ErrInUse, "location holds %d evidence item(s)", n)
		}
		n, err = countRefs(ctx, tx,
			`SELECT COUNT(*) FROM custody_transfers WHERE from_location_id = ?1 OR to_location_id = ?1`, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapf(ErrInUse, "location appears in %d transfer(s); deactivate instead", n)
		}
		return deleteRow(ctx, tx, "locations", "location", id)
	})
}

// activeLocation reports whether id names an active location.
func activeLocation(ctx context.Context, q DBTX, id int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE id = ? AND active = 1`, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking location: %w", err)
	}
	return n > 0, nil
}

// --- Transfer reasons ---

// ListTransferReasons returns transfer reasons ordered by text.
func ListTransferReasons(ctx context.Context, db *sql.DB, includeInactive bool) ([]model.TransferReason, error) {
	query := `SELECT id, reason, requires_approval, active, created_at FROM transfer_reasons`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY reason COLLATE NOCASE`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing transfer reasons: %w", err)
	}
	defer rows.Close()

	var reasons []model.TransferReason
	for rows.Next() {
		var tr model.TransferReason
		if err := rows.Scan(&tr.ID, &tr.Reason, &tr.RequiresApproval, &tr.Active, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer reason: %w", err)
		}
		reasons = append(reasons, tr)
	}
	return reasons, rows.Err()
}

// GetTransferReason returns a transfer reason by ID.
func GetTransferReason(ctx context.Context, db DBTX, id int64) (*model.TransferReason, error) {
	tr := &model.TransferReason{}
	err := db.QueryRowContext(ctx,
		`SELECT id, reason, requires_approval, active, created_at FROM transfer_reasons WHERE id = ?`, id,
	).Scan(&tr.ID, &tr.Reason, &tr.RequiresApproval, &tr.Active, &tr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer reason: %w", err)
	}
	return tr, nil
}

// GetTransferReasonByText returns a transfer reason by its text, ignoring case.
func GetTransferReasonByText(ctx context.Context, db DBTX, reason string) (*model.TransferReason, error) {
	tr := &model.TransferReason{}
	err := db.QueryRowContext(ctx,
		`SELECT id, reason, requires_approval, active, created_at
		 FROM transfer_reasons WHERE reason = ? COLLATE NOCASE`, reason,
	).Scan(&tr.ID, &tr.Reason, &tr.RequiresApproval, &tr.Active, &tr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer reason: %w", err)
	}
	return tr, nil
}

// CreateTransferReason creates a transfer reason. Texts are unique ignoring case.
func CreateTransferReason(ctx context.Context, db *sql.DB, reason string, requiresApproval bool) (*model.TransferReason, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidf("reason required")
	}
	taken, err := nameTaken(ctx, db, "transfer_reasons", "reason", reason, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, wrapf(ErrDuplicate, "transfer reason %q already exists", reason)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO transfer_reasons (reason, requires_approval) VALUES (?, ?)`, reason, requiresApproval)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("creating transfer reason: %w", err), "transfer reason")
	}
	id, _ := result.LastInsertId()
	return GetTransferReason(ctx, db, id)
}

// TransferReasonPatch holds optional transfer reason changes.
type TransferReasonPatch struct {
	Reason           *string
	RequiresApproval *bool
	Active           *bool
}

// UpdateTransferReason applies a patch to a transfer reason. Existing
// transfers keep the approval requirement they were created with.
func UpdateTransferReason(ctx context.Context, db *sql.DB, id int64, p TransferReasonPatch) (*model.TransferReason, error) {
	if p.Reason != nil {
		trimmed := strings.TrimSpace(*p.Reason)
		if trimmed == "" {
			return nil, invalidf("reason cannot be empty")
		}
		p.Reason = &trimmed
		taken, err := nameTaken(ctx, db, "transfer_reasons", "reason", trimmed, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, wrapf(ErrDuplicate, "transfer reason %q already exists", trimmed)
		}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE transfer_reasons SET
		     reason            = COALESCE(?, reason),
		     requires_approval = COALESCE(?, requires_approval),
		     active            = COALESCE(?, active)
		 WHERE id = ?`,
		p.Reason, p.RequiresApproval, p.Active, id,
	)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("updating transfer reason: %w", err), "transfer reason")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, wrapf(ErrNotFound, "transfer reason not found")
	}
	return GetTransferReason(ctx, db, id)
}

// DeleteTransferReason deletes a reason no transfer references.
func DeleteTransferReason(ctx context.Context, db *sql.DB, id int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		n, err := countRefs(ctx, tx, `SELECT COUNT(*) FROM custody_transfers WHERE transfer_reason_id = ?`, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapf(ErrInUse, "transfer reason is used by %d transfer(s); deactivate instead", n)
		}
		return deleteRow(ctx, tx, "transfer_reasons", "transfer reason", id)
	})
}

// deleteRow hard-deletes one row by id, mapping a missing row to ErrNotFound.
func deleteRow(ctx context.Context, tx *sql.Tx, table, what string, id int64) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return mapConstraint(fmt.Errorf("deleting %s: %w", what, err), what)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wrapf(ErrNotFound, "%s not found", what)
	}
	return nil
}
