package profiles

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scope defines the breadth of organizational data a profile holder may act upon
type Scope string

const (
	ScopeWholeOrganization Scope = "WHOLE_ORGANIZATION"
	ScopeOwnUnitsOnly      Scope = "OWN_UNITS_ONLY"
	ScopeOwnDependentsOnly Scope = "OWN_DEPENDENTS_ONLY"
	ScopeSelfOnly          Scope = "SELF_ONLY"
)

// Valid reports whether s is one of the known scopes
func (s Scope) Valid() bool {
	switch s {
	case ScopeWholeOrganization, ScopeOwnUnitsOnly, ScopeOwnDependentsOnly, ScopeSelfOnly:
		return true
	}
	return false
}

// PermissionState is the normalized access level for one module
type PermissionState int

const (
	Denied PermissionState = iota
	ReadOnly
	Granted
)

// ReadOnlyValue is the raw matrix literal for read-only access
const ReadOnlyValue = "read_only"

func (p PermissionState) String() string {
	switch p {
	case Granted:
		return "granted"
	case ReadOnly:
		return ReadOnlyValue
	default:
		return "denied"
	}
}

// Active reports whether the state grants any access
func (p PermissionState) Active() bool {
	return p == Granted || p == ReadOnly
}

// MarshalText implements encoding.TextMarshaler
func (p PermissionState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *PermissionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "granted":
		*p = Granted
	case ReadOnlyValue:
		*p = ReadOnly
	case "denied":
		*p = Denied
	default:
		return fmt.Errorf("unknown permission state: %q", string(text))
	}
	return nil
}

// Matrix is a profile's raw permission matrix as stored.
// Values are bool, the string "read_only", nested legacy objects, or drift.
type Matrix map[string]any

// LocalizedText maps a locale to a human label
type LocalizedText map[string]string

// DefaultLocale is preferred by Primary when present
const DefaultLocale = "en"

// Primary returns the default-locale entry, or the entry of the smallest locale key
func (t LocalizedText) Primary() string {
	if v, ok := t[DefaultLocale]; ok {
		return v
	}
	if len(t) == 0 {
		return ""
	}
	locales := make([]string, 0, len(t))
	for l := range t {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	return t[locales[0]]
}

// AccessProfile is a named, reusable bundle of module permissions
type AccessProfile struct {
	Code             string        `json:"code"`
	DisplayName      LocalizedText `json:"display_name"`
	Description      string        `json:"description,omitempty"`
	Scope            Scope         `json:"scope"`
	PermissionMatrix Matrix        `json:"permission_matrix"`
	IsTemplate       bool          `json:"is_template"`
	OrganizationID   *string       `json:"organization_id,omitempty"` // nil for templates
	Active           bool          `json:"active"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// VisibleTo reports whether the profile can be listed or assigned within an organization
func (p *AccessProfile) VisibleTo(organizationID string) bool {
	if p.IsTemplate {
		return true
	}
	return p.OrganizationID != nil && *p.OrganizationID == organizationID
}

// ProfilePatch carries the fields of an update. Nil fields are left unchanged.
// Code and Scope exist only so that attempts to change them can be rejected.
type ProfilePatch struct {
	Code             *string       `json:"code,omitempty"`
	Scope            *Scope        `json:"scope,omitempty"`
	DisplayName      LocalizedText `json:"display_name,omitempty"`
	Description      *string       `json:"description,omitempty"`
	PermissionMatrix Matrix        `json:"permission_matrix,omitempty"`
	Active           *bool         `json:"active,omitempty"`
}

// ListFilter selects profiles for a listing
type ListFilter struct {
	OrganizationID   *string
	IncludeTemplates bool
	IncludeInactive  bool
}

// cacheKey identifies the filter in caches
func (f ListFilter) cacheKey() string {
	org := "-"
	if f.OrganizationID != nil {
		org = *f.OrganizationID
	}
	return fmt.Sprintf("%s:%t:%t", org, f.IncludeTemplates, f.IncludeInactive)
}

// SortByDisplayName orders profiles by primary display name, case-insensitively,
// with the code as tiebreak
func SortByDisplayName(list []*AccessProfile) {
	sort.SliceStable(list, func(i, j int) bool {
		a := strings.ToLower(list[i].DisplayName.Primary())
		b := strings.ToLower(list[j].DisplayName.Primary())
		if a != b {
			return a < b
		}
		return list[i].Code < list[j].Code
	})
}

// ModuleGrant is the concrete flag set a resolved state grants on one module
type ModuleGrant struct {
	ModuleID  string `json:"module_id"`
	CanRead   bool   `json:"can_read"`
	CanWrite  bool   `json:"can_write"`
	CanDelete bool   `json:"can_delete"`
	CanExport bool   `json:"can_export"`
}

// GrantFor returns the flags a state grants. Denied grants nothing.
func GrantFor(moduleID string, state PermissionState) ModuleGrant {
	g := ModuleGrant{ModuleID: moduleID}
	switch state {
	case Granted:
		g.CanRead, g.CanWrite, g.CanDelete, g.CanExport = true, true, true, true
	case ReadOnly:
		g.CanRead, g.CanExport = true, true
	}
	return g
}

// decodeMatrix parses a JSONB matrix column
func decodeMatrix(raw []byte) (Matrix, error) {
	if len(raw) == 0 {
		return Matrix{}, nil
	}
	var m Matrix
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Matrix{}
	}
	return m, nil
}
