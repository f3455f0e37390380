package profiles

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tenantdesk/accesskit/pkg/audit"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

var codePattern = regexp.MustCompile(`^[a-z0-9_]{3,64}$`)

// minDisplayNameLength is the minimum rune count of every display name entry
const minDisplayNameLength = 3

// Catalog is the authoring surface over access profiles
type Catalog struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
	modules *CatalogHolder
}

// NewCatalog creates a catalog backed by store
func NewCatalog(store Store, logger *observability.Logger) *Catalog {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Catalog{
		store:   store,
		logger:  logger,
		audit:   audit.NoOp(),
		modules: NewCatalogHolder(DefaultModuleCatalog()),
	}
}

// WithMetrics records catalog mutations on m
func (c *Catalog) WithMetrics(m *observability.Metrics) *Catalog {
	c.metrics = m
	return c
}

// WithAuditLogger sets the audit logger used when the request context carries none
func (c *Catalog) WithAuditLogger(l audit.Logger) *Catalog {
	if l != nil {
		c.audit = l
	}
	return c
}

// WithModules replaces the module catalog holder
func (c *Catalog) WithModules(h *CatalogHolder) *Catalog {
	if h != nil {
		c.modules = h
	}
	return c
}

// Modules returns the current module catalog
func (c *Catalog) Modules() *ModuleCatalog {
	return c.modules.Load()
}

// Create validates and stores a new profile. New profiles start active.
func (c *Catalog) Create(ctx context.Context, profile *AccessProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	_, err := c.store.GetProfile(ctx, profile.Code)
	switch {
	case err == nil:
		return &DuplicateCodeError{Code: profile.Code}
	case !errors.Is(err, ErrProfileNotFound):
		return fmt.Errorf("failed to check profile code: %w", err)
	}

	profile.Active = true
	if profile.PermissionMatrix == nil {
		profile.PermissionMatrix = Matrix{}
	}

	if err := c.store.CreateProfile(ctx, profile); err != nil {
		return err
	}

	c.metrics.RecordProfileMutation("create")
	c.logger.WithFields(map[string]any{
		"profile_code": profile.Code,
		"is_template":  profile.IsTemplate,
	}).Info("access profile created")
	c.record(ctx, audit.EventTypeProfileCreate, profile, &audit.ChangeDetails{
		After: snapshot(profile),
	}, "profile created")

	return nil
}

// Update applies patch to an existing profile. Code and scope are immutable.
func (c *Catalog) Update(ctx context.Context, code string, patch ProfilePatch) (*AccessProfile, error) {
	if patch.Code != nil {
		return nil, &ValidationError{Field: "code", Message: "is immutable after creation"}
	}
	if patch.Scope != nil {
		return nil, &ValidationError{Field: "scope", Message: "is immutable after creation"}
	}
	if patch.DisplayName != nil {
		if err := validateDisplayName(patch.DisplayName); err != nil {
			return nil, err
		}
	}

	profile, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return nil, err
	}
	before := snapshot(profile)

	if patch.DisplayName != nil {
		profile.DisplayName = patch.DisplayName
	}
	if patch.Description != nil {
		profile.Description = *patch.Description
	}
	if patch.PermissionMatrix != nil {
		profile.PermissionMatrix = patch.PermissionMatrix
	}
	if patch.Active != nil {
		profile.Active = *patch.Active
	}

	if err := c.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}

	c.metrics.RecordProfileMutation("update")
	c.logger.WithField("profile_code", code).Info("access profile updated")
	c.record(ctx, audit.EventTypeProfileUpdate, profile, &audit.ChangeDetails{
		Before: before,
		After:  snapshot(profile),
	}, "profile updated")

	return profile, nil
}

// Delete deactivates a profile that no account references. A referenced
// profile yields *InUseError; reassign its accounts or use Deactivate.
func (c *Catalog) Delete(ctx context.Context, code string) error {
	profile, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return err
	}

	refs, err := c.store.CountReferences(ctx, code)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &InUseError{Code: code, References: refs}
	}

	return c.deactivate(ctx, profile, "profile deleted")
}

// Deactivate marks a profile inactive even while accounts still hold it
func (c *Catalog) Deactivate(ctx context.Context, code string) error {
	profile, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return err
	}
	return c.deactivate(ctx, profile, "profile deactivated")
}

func (c *Catalog) deactivate(ctx context.Context, profile *AccessProfile, message string) error {
	if !profile.Active {
		return nil
	}

	profile.Active = false
	if err := c.store.UpdateProfile(ctx, profile); err != nil {
		return err
	}

	c.metrics.RecordProfileMutation("deactivate")
	c.logger.WithField("profile_code", profile.Code).Info(message)
	c.record(ctx, audit.EventTypeProfileDeactivate, profile, &audit.ChangeDetails{
		Before: map[string]any{"active": true},
		After:  map[string]any{"active": false},
	}, message)

	return nil
}

// Purge hard-deletes an inactive profile that no account references
func (c *Catalog) Purge(ctx context.Context, code string) error {
	profile, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return err
	}
	if profile.Active {
		return &ValidationError{Field: "active", Message: "deactivate the profile before purging it"}
	}

	refs, err := c.store.CountReferences(ctx, code)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &InUseError{Code: code, References: refs}
	}

	return c.purge(ctx, profile)
}

func (c *Catalog) purge(ctx context.Context, profile *AccessProfile) error {
	if err := c.store.DeleteProfile(ctx, profile.Code); err != nil {
		return err
	}

	c.metrics.RecordProfileMutation("purge")
	c.logger.WithField("profile_code", profile.Code).Info("access profile purged")
	c.record(ctx, audit.EventTypeProfilePurge, profile, &audit.ChangeDetails{
		Before: snapshot(profile),
	}, "profile purged")

	return nil
}

// PurgeUnreferenced hard-deletes every inactive, unreferenced profile and
// returns the purged codes. A failure stops the sweep.
func (c *Catalog) PurgeUnreferenced(ctx context.Context) ([]string, error) {
	codes, err := c.store.ListPurgeable(ctx)
	if err != nil {
		return nil, err
	}

	purged := make([]string, 0, len(codes))
	for _, code := range codes {
		profile, err := c.store.GetProfile(ctx, code)
		if errors.Is(err, ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		if err := c.purge(ctx, profile); err != nil {
			// Assigned or removed since the listing
			if errors.Is(err, ErrProfileNotFound) || IsInUse(err) {
				continue
			}
			return purged, err
		}
		purged = append(purged, code)
	}

	return purged, nil
}

// List returns profiles for filter, ordered by display name
func (c *Catalog) List(ctx context.Context, filter ListFilter) ([]*AccessProfile, error) {
	list, err := c.store.ReadProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	SortByDisplayName(list)
	return list, nil
}

// Get returns a profile by code
func (c *Catalog) Get(ctx context.Context, code string) (*AccessProfile, error) {
	return c.store.GetProfile(ctx, code)
}

// ResolvedProfile is a profile's normalized permission set
type ResolvedProfile struct {
	Code        string                     `json:"code"`
	Permissions map[string]PermissionState `json:"permissions"`
	ActiveCount int                        `json:"active_count"`
	Grants      []ModuleGrant              `json:"grants"`
}

// Resolve loads a profile and normalizes its permission matrix
func (c *Catalog) Resolve(ctx context.Context, code string) (*ResolvedProfile, error) {
	profile, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return nil, err
	}
	resolved := c.ResolvePermissions(profile)
	return &ResolvedProfile{
		Code:        profile.Code,
		Permissions: resolved,
		ActiveCount: CountActive(resolved),
		Grants:      Grants(resolved),
	}, nil
}

// ResolvePermissions normalizes a profile's matrix with the current module catalog
func (c *Catalog) ResolvePermissions(profile *AccessProfile) map[string]PermissionState {
	return c.Modules().Resolver().Resolve(profile.PermissionMatrix)
}

// ToggleCategory sets every module of a category to Granted or Denied and
// reports whether the category is fully granted afterwards
func (c *Catalog) ToggleCategory(categoryKey string, resolved map[string]PermissionState, checked bool) (map[string]PermissionState, bool, error) {
	category, ok := c.Modules().Category(categoryKey)
	if !ok {
		return nil, false, &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", categoryKey)}
	}
	next := SetCategory(category.Modules, resolved, checked)
	return next, IsCategoryFullyGranted(category.Modules, next), nil
}

// record emits an audit event. Audit failures are logged, never returned.
func (c *Catalog) record(ctx context.Context, eventType audit.EventType, profile *AccessProfile, changes *audit.ChangeDetails, message string) {
	logger := audit.FromContextOr(ctx, c.audit)
	if err := logger.LogProfileChange(ctx, eventType, profile.Code, profile.OrganizationID, changes, message); err != nil {
		c.logger.WithError(err).WithField("profile_code", profile.Code).Warn("failed to write audit event")
	}
}

func snapshot(p *AccessProfile) map[string]any {
	return map[string]any{
		"display_name":      p.DisplayName,
		"description":       p.Description,
		"scope":             p.Scope,
		"permission_matrix": p.PermissionMatrix,
		"active":            p.Active,
	}
}

func validateProfile(p *AccessProfile) error {
	if p == nil {
		return &ValidationError{Field: "profile", Message: "is required"}
	}
	if !codePattern.MatchString(p.Code) {
		return &ValidationError{Field: "code", Message: "must be 3 to 64 lowercase letters, digits or underscores"}
	}
	if err := validateDisplayName(p.DisplayName); err != nil {
		return err
	}
	if !p.Scope.Valid() {
		return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", p.Scope)}
	}
	if p.IsTemplate && p.OrganizationID != nil {
		return &ValidationError{Field: "organization_id", Message: "templates do not belong to an organization"}
	}
	if !p.IsTemplate && (p.OrganizationID == nil || *p.OrganizationID == "") {
		return &ValidationError{Field: "organization_id", Message: "is required for organization profiles"}
	}
	return nil
}

func validateDisplayName(name LocalizedText) error {
	if len(name) == 0 {
		return &ValidationError{Field: "display_name", Message: "at least one locale is required"}
	}
	for locale, text := range name {
		if utf8.RuneCountInString(strings.TrimSpace(text)) < minDisplayNameLength {
			return &ValidationError{
				Field:   "display_name",
				Message: fmt.Sprintf("%s entry must be at least %d characters", locale, minDisplayNameLength),
			}
		}
	}
	return nil
}
