package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tenantdesk/accesskit/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns all schema migrations in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create access_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_profiles (
					code VARCHAR(64) PRIMARY KEY CHECK (code ~ '^[a-z0-9_]{3,}$'),
					display_name JSONB NOT NULL,
					description TEXT,
					scope VARCHAR(32) NOT NULL CHECK (scope IN ('WHOLE_ORGANIZATION', 'OWN_UNITS_ONLY', 'OWN_DEPENDENTS_ONLY', 'SELF_ONLY')),
					permission_matrix JSONB NOT NULL DEFAULT '{}',
					is_template BOOLEAN NOT NULL DEFAULT FALSE,
					organization_id VARCHAR(64),
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (is_template = (organization_id IS NULL))
				);

				CREATE INDEX IF NOT EXISTS idx_access_profiles_organization_id ON access_profiles(organization_id);
				CREATE INDEX IF NOT EXISTS idx_access_profiles_active ON access_profiles(active);
			`,
		},
		{
			Version:     2,
			Description: "Create user_access_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_access_assignments (
					user_id VARCHAR(64) PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL,
					first_name VARCHAR(255) NOT NULL DEFAULT '',
					last_name VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					role VARCHAR(64) NOT NULL DEFAULT '',
					profile_code VARCHAR(64) REFERENCES access_profiles(code) ON DELETE RESTRICT,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_access_assignments_org_last_name ON user_access_assignments(organization_id, last_name);
				CREATE INDEX IF NOT EXISTS idx_user_access_assignments_org_profile ON user_access_assignments(organization_id, profile_code);
				CREATE INDEX IF NOT EXISTS idx_user_access_assignments_profile_code ON user_access_assignments(profile_code);
			`,
		},
		{
			Version:     3,
			Description: "Create module_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS module_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL REFERENCES user_access_assignments(user_id) ON DELETE CASCADE,
					module_id VARCHAR(128) NOT NULL,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_write BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					can_export BOOLEAN NOT NULL DEFAULT FALSE,
					granted_by_profile BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, module_id)
				);

				CREATE INDEX IF NOT EXISTS idx_module_permissions_user_id ON module_permissions(user_id);
				CREATE INDEX IF NOT EXISTS idx_module_permissions_granted_by_profile ON module_permissions(user_id) WHERE granted_by_profile;
			`,
		},
		{
			Version:     4,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					actor VARCHAR(255),
					organization_id VARCHAR(64),
					request_id VARCHAR(64),
					resource_type VARCHAR(32),
					resource_id VARCHAR(128),
					message TEXT,
					error_message TEXT,
					metadata JSONB,
					changes JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id);
			`,
		},
	}
}

// Migrate applies every pending migration, each in its own transaction, and
// returns the number applied
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) (int, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]any{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		if err := apply(ctx, db, migration); err != nil {
			return count, err
		}
		count++

		log.Info("migration completed")
	}

	return count, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
