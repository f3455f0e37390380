package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence contract the catalog needs
type Store interface {
	// ReadProfiles returns the profiles matching filter, in no particular order
	ReadProfiles(ctx context.Context, filter ListFilter) ([]*AccessProfile, error)

	// GetProfile returns a profile by code or ErrProfileNotFound
	GetProfile(ctx context.Context, code string) (*AccessProfile, error)

	// CreateProfile inserts a new profile; a code collision yields *DuplicateCodeError
	CreateProfile(ctx context.Context, profile *AccessProfile) error

	// UpdateProfile writes the mutable fields of an existing profile
	UpdateProfile(ctx context.Context, profile *AccessProfile) error

	// DeleteProfile hard-deletes a profile
	DeleteProfile(ctx context.Context, code string) error

	// CountReferences counts accounts whose profile code equals code
	CountReferences(ctx context.Context, code string) (int, error)

	// ListPurgeable returns inactive profiles that no account references
	ListPurgeable(ctx context.Context) ([]string, error)
}

// Postgres SQLSTATE codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	reader func() *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, reader: func() *sql.DB { return db }}
}

// WithReadReplica routes listing queries to the pool pick returns, asked
// again for every query (typically ConnectionManager.Replica)
func (s *PostgresStore) WithReadReplica(pick func() *sql.DB) *PostgresStore {
	if pick != nil {
		s.reader = pick
	}
	return s
}

const profileColumns = `code, display_name, description, scope, permission_matrix, is_template, organization_id, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*AccessProfile, error) {
	var p AccessProfile
	var displayJSON, matrixJSON []byte
	var orgID sql.NullString
	var description sql.NullString

	if err := row.Scan(
		&p.Code,
		&displayJSON,
		&description,
		&p.Scope,
		&matrixJSON,
		&p.IsTemplate,
		&orgID,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(displayJSON, &p.DisplayName); err != nil {
		return nil, fmt.Errorf("failed to unmarshal display name: %w", err)
	}
	matrix, err := decodeMatrix(matrixJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission matrix: %w", err)
	}
	p.PermissionMatrix = matrix
	p.Description = description.String
	if orgID.Valid {
		id := orgID.String
		p.OrganizationID = &id
	}
	return &p, nil
}

// ReadProfiles lists profiles for a filter
func (s *PostgresStore) ReadProfiles(ctx context.Context, filter ListFilter) ([]*AccessProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM access_profiles
		WHERE (($1 AND is_template) OR (NOT is_template AND organization_id = $2))
		  AND ($3 OR active)
	`

	rows, err := s.reader().QueryContext(ctx, query, filter.IncludeTemplates, filter.OrganizationID, filter.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var list []*AccessProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		list = append(list, p)
	}

	return list, rows.Err()
}

// GetProfile retrieves a profile by code
func (s *PostgresStore) GetProfile(ctx context.Context, code string) (*AccessProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM access_profiles WHERE code = $1`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// CreateProfile inserts a profile
func (s *PostgresStore) CreateProfile(ctx context.Context, profile *AccessProfile) error {
	displayJSON, err := json.Marshal(profile.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to marshal display name: %w", err)
	}
	matrixJSON, err := json.Marshal(profile.PermissionMatrix)
	if err != nil {
		return fmt.Errorf("failed to marshal permission matrix: %w", err)
	}

	query := `
		INSERT INTO access_profiles (code, display_name, description, scope, permission_matrix, is_template, organization_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		profile.Code,
		string(displayJSON),
		profile.Description,
		profile.Scope,
		string(matrixJSON),
		profile.IsTemplate,
		profile.OrganizationID,
		profile.Active,
		now,
		now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &DuplicateCodeError{Code: profile.Code}
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}

	profile.CreatedAt = now
	profile.UpdatedAt = now
	return nil
}

// UpdateProfile writes display name, description, matrix and active flag.
// Code, scope, template flag and organization are never written after creation.
func (s *PostgresStore) UpdateProfile(ctx context.Context, profile *AccessProfile) error {
	displayJSON, err := json.Marshal(profile.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to marshal display name: %w", err)
	}
	matrixJSON, err := json.Marshal(profile.PermissionMatrix)
	if err != nil {
		return fmt.Errorf("failed to marshal permission matrix: %w", err)
	}

	query := `
		UPDATE access_profiles
		SET display_name = $1, description = $2, permission_matrix = $3, active = $4, updated_at = $5
		WHERE code = $6
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		string(displayJSON),
		profile.Description,
		string(matrixJSON),
		profile.Active,
		now,
		profile.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}

	profile.UpdatedAt = now
	return nil
}

// DeleteProfile removes a profile row
func (s *PostgresStore) DeleteProfile(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM access_profiles WHERE code = $1`, code)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return &InUseError{Code: code}
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// CountReferences counts assignments holding code
func (s *PostgresStore) CountReferences(ctx context.Context, code string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_access_assignments WHERE profile_code = $1`, code,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profile references: %w", err)
	}
	return count, nil
}

// ListPurgeable lists inactive, unreferenced profile codes
func (s *PostgresStore) ListPurgeable(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.code
		FROM access_profiles p
		WHERE p.active = false
		  AND NOT EXISTS (SELECT 1 FROM user_access_assignments a WHERE a.profile_code = p.code)
		ORDER BY p.code ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list purgeable profiles: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan profile code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
