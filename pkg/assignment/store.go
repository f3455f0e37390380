package assignment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/tenantdesk/accesskit/pkg/profiles"
)

// GrantResolver resolves the module grants of a profile. *profiles.Catalog
// implements it.
type GrantResolver interface {
	Resolve(ctx context.Context, code string) (*profiles.ResolvedProfile, error)
}

// PostgresStore implements Store on PostgreSQL. Every profile code write
// reconciles the module_permissions rows the profile grants in the same
// transaction.
type PostgresStore struct {
	db     *sql.DB
	grants GrantResolver
}

// NewPostgresStore creates a new PostgresStore. db must be the primary.
func NewPostgresStore(db *sql.DB, grants GrantResolver) *PostgresStore {
	return &PostgresStore{db: db, grants: grants}
}

// ReadAssignablePopulation lists the accounts of an organization outside the
// excluded roles whose name or email matches the query pattern
func (s *PostgresStore) ReadAssignablePopulation(ctx context.Context, q PopulationQuery) ([]Account, error) {
	pattern := q.Pattern
	if pattern == "" {
		pattern = "%"
	}
	excluded := q.ExcludedRoles
	if excluded == nil {
		excluded = []string{}
	}

	query := `
		SELECT user_id, organization_id, profile_code, first_name, last_name, email, role
		FROM user_access_assignments
		WHERE organization_id = $1
		  AND NOT (role = ANY($2))
		  AND (first_name ILIKE $3 ESCAPE '\' OR last_name ILIKE $3 ESCAPE '\' OR email ILIKE $3 ESCAPE '\')
		ORDER BY last_name ASC, first_name ASC, user_id ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, q.OrganizationID, pq.Array(excluded), pattern, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read population: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var code sql.NullString
		if err := rows.Scan(&a.UserID, &a.OrganizationID, &code, &a.FirstName, &a.LastName, &a.Email, &a.Role); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if code.Valid {
			c := code.String
			a.ProfileCode = &c
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ReadCurrentAssignments lists the accounts of an organization holding profileCode
func (s *PostgresStore) ReadCurrentAssignments(ctx context.Context, organizationID, profileCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id
		FROM user_access_assignments
		WHERE organization_id = $1 AND profile_code = $2
		ORDER BY user_id ASC
	`, organizationID, profileCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read current assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WriteProfileCode sets profileCode on userIDs, or clears it when nil, and
// reconciles their profile-granted module rows. Manually granted rows are
// never modified.
func (s *PostgresStore) WriteProfileCode(ctx context.Context, userIDs []string, profileCode *string) error {
	if len(userIDs) == 0 {
		return nil
	}

	var grants []profiles.ModuleGrant
	if profileCode != nil {
		resolved, err := s.grants.Resolve(ctx, *profileCode)
		if err != nil {
			return fmt.Errorf("failed to resolve profile grants: %w", err)
		}
		grants = resolved.Grants
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	ids := pq.Array(userIDs)
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_access_assignments
		SET profile_code = $1, updated_at = NOW()
		WHERE user_id = ANY($2)
	`, profileCode, ids); err != nil {
		return fmt.Errorf("failed to write profile code: %w", err)
	}

	modules := make([]string, len(grants))
	for i, g := range grants {
		modules[i] = g.ModuleID
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM module_permissions
		WHERE user_id = ANY($1) AND granted_by_profile AND NOT (module_id = ANY($2))
	`, ids, pq.Array(modules)); err != nil {
		return fmt.Errorf("failed to revoke module permissions: %w", err)
	}

	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO module_permissions (user_id, module_id, can_read, can_write, can_delete, can_export, granted_by_profile, updated_at)
			SELECT u, $2::text, $3::boolean, $4::boolean, $5::boolean, $6::boolean, TRUE, NOW() FROM unnest($1::text[]) AS u
			ON CONFLICT (user_id, module_id) DO UPDATE
			SET can_read = EXCLUDED.can_read,
			    can_write = EXCLUDED.can_write,
			    can_delete = EXCLUDED.can_delete,
			    can_export = EXCLUDED.can_export,
			    updated_at = EXCLUDED.updated_at
			WHERE module_permissions.granted_by_profile
		`, ids, g.ModuleID, g.CanRead, g.CanWrite, g.CanDelete, g.CanExport); err != nil {
			return fmt.Errorf("failed to grant module %s: %w", g.ModuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile code write: %w", err)
	}
	return nil
}

// ListModulePermissions returns the module rows of one account ordered by module
func (s *PostgresStore) ListModulePermissions(ctx context.Context, userID string) ([]ModulePermissionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, module_id, can_read, can_write, can_delete, can_export, granted_by_profile, updated_at
		FROM module_permissions
		WHERE user_id = $1
		ORDER BY module_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module permissions: %w", err)
	}
	defer rows.Close()

	list := []ModulePermissionRow{}
	for rows.Next() {
		var r ModulePermissionRow
		if err := rows.Scan(&r.UserID, &r.ModuleID, &r.CanRead, &r.CanWrite, &r.CanDelete, &r.CanExport, &r.GrantedByProfile, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan module permission: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
