package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Profile catalog events
	EventTypeProfileCreate     EventType = "profile.create"
	EventTypeProfileUpdate     EventType = "profile.update"
	EventTypeProfileDeactivate EventType = "profile.deactivate"
	EventTypeProfilePurge      EventType = "profile.purge"

	// Assignment events
	EventTypeAssignmentCommit EventType = "assignment.commit"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusPartial EventStatus = "partial"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeProfile    ResourceType = "access_profile"
	ResourceTypeAssignment ResourceType = "assignment"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	Actor          string  `json:"actor,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty"`
	RequestID      string  `json:"request_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	Message      string         `json:"message,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	EventTypes     []EventType
	ResourceType   ResourceType
	ResourceID     string
	OrganizationID *string
	Since          *time.Time

	Limit int
}
