// Package audit records who changed the access profile catalog and who reassigned
// profiles across accounts.
//
// # Event Types
//
// Profile catalog: profile.create, profile.update, profile.deactivate, profile.purge
// Assignment: assignment.commit (success, partial, failure)
//
// # Usage Example
//
// Log a profile change with before/after:
//
//	logger.LogProfileChange(ctx, audit.EventTypeProfileUpdate, profile.Code, profile.OrganizationID,
//		&audit.ChangeDetails{
//			Before: map[string]any{"active": true},
//			After:  map[string]any{"active": false},
//		}, "profile deactivated")
//
// Search audit logs:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		ResourceType: audit.ResourceTypeProfile,
//		ResourceID:   "teacher_basic",
//		Limit:        50,
//	})
//
// # Destinations
//
// DBLogger writes to the audit_logs table created by schema migration 4.
// WriterLogger writes NDJSON lines. MultiLogger fans out to several
// destinations and joins their errors. Middleware attaches the logger,
// the X-Actor header and a request id to each request context.
//
// # Related Packages
//
//   - pkg/profiles: catalog mutations
//   - pkg/assignment: bulk assignment commits
package audit
