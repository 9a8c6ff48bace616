package database

import (
	"context"
	"fmt"
)

// GrantRole assigns a role to a user, replacing the region of an existing
// assignment.
func (db *DB) GrantRole(ctx context.Context, userID, role string, region *string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role, region) VALUES (?, ?, ?)
		ON CONFLICT(user_id, role) DO UPDATE SET region = excluded.region`,
		userID, role, region,
	)
	if err != nil {
		return fmt.Errorf("granting role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from a user. Revoking a role the user does not
// hold is not an error.
func (db *DB) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID, role,
	)
	return err
}

// GetUserRoles returns the roles assigned to a user.
func (db *DB) GetUserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	return db.queryRoles(ctx,
		`SELECT user_id, role, region, granted_at FROM user_roles WHERE user_id = ? ORDER BY role`, userID)
}

// GetAllRoles returns every role assignment.
func (db *DB) GetAllRoles(ctx context.Context) ([]UserRole, error) {
	return db.queryRoles(ctx,
		`SELECT user_id, role, region, granted_at FROM user_roles ORDER BY user_id, role`)
}

func (db *DB) queryRoles(ctx context.Context, query string, args ...any) ([]UserRole, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []UserRole
	for rows.Next() {
		var r UserRole
		var granted string
		if err := rows.Scan(&r.UserID, &r.Role, &r.Region, &granted); err != nil {
			return nil, err
		}
		if r.GrantedAt, err = parseTime(granted); err != nil {
			return nil, fmt.Errorf("parsing granted_at: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
