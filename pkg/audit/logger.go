package audit

import (
	"context"
	"time"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error

	// LogProfileChange records a mutation of the profile catalog
	LogProfileChange(ctx context.Context, eventType EventType, code string, organizationID *string, changes *ChangeDetails, message string) error

	// LogAssignmentCommit records the outcome of a bulk profile assignment
	LogAssignmentCommit(ctx context.Context, code string, organizationID *string, status EventStatus, metadata map[string]any, message string) error

	Close() error
}

type contextKey string

const (
	// AuditLoggerKey holds a request scoped Logger
	AuditLoggerKey contextKey = "audit_logger"
	ActorKey       contextKey = "audit_actor"
	RequestIDKey   contextKey = "audit_request_id"
)

// WithLogger scopes logger to ctx
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext returns the logger scoped to ctx, or NoOp
func FromContext(ctx context.Context) Logger {
	return FromContextOr(ctx, NoOp())
}

// FromContextOr returns the logger scoped to ctx, or fallback
func FromContextOr(ctx context.Context, fallback Logger) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return fallback
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// newEvent stamps an event with the actor and request id carried by ctx
func newEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
	event.Actor, _ = ctx.Value(ActorKey).(string)
	event.RequestID, _ = ctx.Value(RequestIDKey).(string)
	return event
}

// ProfileChangeEvent builds the event for a catalog mutation of profile code
func ProfileChangeEvent(ctx context.Context, eventType EventType, code string, organizationID *string, changes *ChangeDetails, message string) *AuditEvent {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.OrganizationID = organizationID
	event.ResourceType = ResourceTypeProfile
	event.ResourceID = code
	event.Changes = changes
	event.Message = message
	return event
}

// AssignmentCommitEvent builds the event for a commit of profile code
func AssignmentCommitEvent(ctx context.Context, code string, organizationID *string, status EventStatus, metadata map[string]any, message string) *AuditEvent {
	event := newEvent(ctx, EventTypeAssignmentCommit, status)
	event.OrganizationID = organizationID
	event.ResourceType = ResourceTypeAssignment
	event.ResourceID = code
	event.Metadata = metadata
	event.Message = message
	if status == EventStatusFailure || status == EventStatusPartial {
		event.ErrorMessage = message
	}
	return event
}

// sink derives the typed Logger methods from a single Log func
type sink struct {
	log func(ctx context.Context, event *AuditEvent) error
}

func (s sink) LogProfileChange(ctx context.Context, eventType EventType, code string, organizationID *string, changes *ChangeDetails, message string) error {
	return s.log(ctx, ProfileChangeEvent(ctx, eventType, code, organizationID, changes, message))
}

func (s sink) LogAssignmentCommit(ctx context.Context, code string, organizationID *string, status EventStatus, metadata map[string]any, message string) error {
	return s.log(ctx, AssignmentCommitEvent(ctx, code, organizationID, status, metadata, message))
}

var noop = func() *noOpLogger {
	l := &noOpLogger{}
	l.sink = sink{log: l.Log}
	return l
}()

// NoOp returns the shared logger that discards every event
func NoOp() Logger { return noop }

type noOpLogger struct{ sink }

func (*noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (*noOpLogger) Close() error                           { return nil }
