package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/custody/internal/model"
)

const userColumns = `id, username, password_hash, full_name, email, role, active, created_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Email,
		&u.Role, &u.Active, &u.CreatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser creates a new active user. PasswordHash must already be set.
func CreateUser(ctx context.Context, db *sql.DB, u *model.User) (*model.User, error) {
	if u.Username == "" || u.PasswordHash == "" {
		return nil, invalidf("username and password required")
	}
	if !model.ValidRole(u.Role) {
		return nil, invalidf("invalid role %q", u.Role)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, full_name, email, role) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.FullName, u.Email, u.Role,
	)
	if err != nil {
		return nil, mapConstraint(fmt.Errorf("creating user: %w", err), "username")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID, including soft-deleted users.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns a non-deleted user by case-insensitive username.
func GetUserByUsername(ctx context.Context, db *sql.DB, username string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username = ? COLLATE NOCASE AND deleted_at IS NULL`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users. Inactive users are included only
// when includeInactive is set.
func ListUsers(ctx context.Context, db *sql.DB, includeInactive bool) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY username COLLATE NOCASE`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UserPatch holds the user fields an admin may change. Nil fields are kept.
type UserPatch struct {
	FullName *string
	Email    *string
	Role     *string
	Active   *bool
}

// UpdateUser applies a patch to a non-deleted user.
func UpdateUser(ctx context.Context, db *sql.DB, id int64, p UserPatch) (*model.User, error) {
	if p.Role != nil && !model.ValidRole(*p.Role) {
		return nil, invalidf("invalid role %q", *p.Role)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE users SET
		     full_name = COALESCE(?, full_name),
		     email     = COALESCE(?, email),
		     role      = COALESCE(?, role),
		     active    = COALESCE(?, active)
		 WHERE id = ? AND deleted_at IS NULL`,
		p.FullName, p.Email, p.Role, p.Active, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, wrapf(ErrNotFound, "user not found")
	}
	return GetUser(ctx, db, id)
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wrapf(ErrNotFound, "user not found")
	}
	return nil
}

// DeleteUser soft-deletes a user. A user who currently holds custody of any
// evidence item, or is about to through a pending transfer, cannot be
// deleted.
func DeleteUser(ctx context.Context, db *sql.DB, id int64) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		var held int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM evidence_items WHERE current_custodian_id = ?`, id,
		).Scan(&held); err != nil {
			return fmt.Errorf("checking custody: %w", err)
		}
		if held > 0 {
			return wrapf(ErrInUse, "user is the current custodian of %d evidence item(s); deactivate instead", held)
		}

		var pending int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM custody_transfers WHERE to_custodian_id = ? AND status = 'pending'`, id,
		).Scan(&pending); err != nil {
			return fmt.Errorf("checking pending transfers: %w", err)
		}
		if pending > 0 {
			return wrapf(ErrInUse, "user is the receiving custodian of %d pending transfer(s); resolve them first", pending)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE users SET deleted_at = CURRENT_TIMESTAMP, active = 0 WHERE id = ? AND deleted_at IS NULL`,
			id,
		)
		if err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return wrapf(ErrNotFound, "user not found")
		}
		return nil
	})
}

// activeCustodian reports whether id names an active, non-deleted user.
func activeCustodian(ctx context.Context, q DBTX, id int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ? AND active = 1 AND deleted_at IS NULL`, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking custodian: %w", err)
	}
	return n > 0, nil
}
