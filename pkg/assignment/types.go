package assignment

import (
	"time"
)

// Account is a user account as the assignment flow sees it. An account holds at
// most one profile; ProfileCode is nil when it holds none.
type Account struct {
	UserID         string  `json:"user_id"`
	OrganizationID string  `json:"organization_id"`
	ProfileCode    *string `json:"profile_code"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Role           string  `json:"role"`
}

// Holds reports whether the account currently holds code
func (a Account) Holds(code string) bool {
	return a.ProfileCode != nil && *a.ProfileCode == code
}

// ModulePermissionRow is one account's concrete flags on one module.
// Rows with GrantedByProfile false were granted manually and are never touched
// by assignment writes.
type ModulePermissionRow struct {
	UserID           string    `json:"user_id"`
	ModuleID         string    `json:"module_id"`
	CanRead          bool      `json:"can_read"`
	CanWrite         bool      `json:"can_write"`
	CanDelete        bool      `json:"can_delete"`
	CanExport        bool      `json:"can_export"`
	GrantedByProfile bool      `json:"granted_by_profile"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Operation names a batch phase
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationRemove Operation = "remove"
)

// BatchDiff is the result of diffing two selections
type BatchDiff struct {
	ToAdd    []string `json:"to_add"`
	ToRemove []string `json:"to_remove"`
}

// Empty reports whether the diff changes nothing
func (d BatchDiff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// BatchOperation is a pending assignment write for one profile
type BatchOperation struct {
	ProfileCode string   `json:"profile_code"`
	ToAdd       []string `json:"to_add"`
	ToRemove    []string `json:"to_remove"`
}

// ConflictRecord flags an account about to lose a different profile
type ConflictRecord struct {
	UserID             string `json:"user_id"`
	CurrentProfileCode string `json:"current_profile_code"`
	TargetProfileCode  string `json:"target_profile_code"`
}

// Result reports the requested sizes of an applied operation. The counts are
// not re-verified against storage.
type Result struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Preview is what a commit of a selection would do
type Preview struct {
	ToAdd     []string         `json:"to_add"`
	ToRemove  []string         `json:"to_remove"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// SessionOptions narrows the population of a session
type SessionOptions struct {
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// CommitOptions controls a commit
type CommitOptions struct {
	// ConfirmOverwrite accepts the conflicts of the commit
	ConfirmOverwrite bool `json:"confirm_overwrite"`
}

// Session is an open assignment surface for one profile in one organization.
// InitialSelection is frozen when the session opens and a session is never
// modified afterwards; retry with Engine.Resume to observe current state.
// UnlistedHolders counts holders of the profile outside Population, which the
// session can neither show nor remove.
type Session struct {
	ID               string         `json:"id"`
	ProfileCode      string         `json:"profile_code"`
	OrganizationID   string         `json:"organization_id"`
	Options          SessionOptions `json:"options"`
	Population       []Account      `json:"population"`
	InitialSelection []string       `json:"initial_selection"`
	Truncated        bool           `json:"truncated"`
	UnlistedHolders  int            `json:"unlisted_holders"`
	OpenedAt         time.Time      `json:"opened_at"`
	// Stale is set after a partial commit; the session can only be resumed
	Stale bool `json:"stale,omitempty"`
}

// PopulationByID indexes the session population
func (s *Session) PopulationByID() map[string]Account {
	byID := make(map[string]Account, len(s.Population))
	for _, a := range s.Population {
		byID[a.UserID] = a
	}
	return byID
}

// initialSet returns InitialSelection as a set
func (s *Session) initialSet() map[string]struct{} {
	return toSet(s.InitialSelection)
}
