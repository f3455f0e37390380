package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// DBLogger stores events in the audit_logs table created by the schema
// migrations
type DBLogger struct {
	sink
	db     *sql.DB
	reader func() *sql.DB
}

func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	l := &DBLogger{db: db, reader: func() *sql.DB { return db }}
	l.sink = sink{log: l.Log}
	return l, nil
}

// WithReader sends Search to the pool pick returns, asked again per search
func (l *DBLogger) WithReader(pick func() *sql.DB) *DBLogger {
	if pick != nil {
		l.reader = pick
	}
	return l
}

const insertEventSQL = `
	INSERT INTO audit_logs (
		timestamp, event_type, status, actor, organization_id, request_id,
		resource_type, resource_id, message, error_message, metadata, changes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := jsonColumn(event.Metadata, event.Metadata == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := jsonColumn(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	err = l.db.QueryRowContext(ctx, insertEventSQL,
		event.Timestamp, event.EventType, event.Status,
		event.Actor, event.OrganizationID, event.RequestID,
		event.ResourceType, event.ResourceID,
		event.Message, event.ErrorMessage, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// jsonColumn encodes v for a JSONB column, or NULL when empty
func jsonColumn(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Search returns matching events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query, args := filter.query()

	rows, err := l.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (f SearchFilter) query() (string, []any) {
	var (
		conds []string
		args  []any
	)
	where := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			types[i] = string(et)
		}
		where("event_type = ANY($%d)", pq.Array(types))
	}
	if f.ResourceType != "" {
		where("resource_type = $%d", string(f.ResourceType))
	}
	if f.ResourceID != "" {
		where("resource_id = $%d", f.ResourceID)
	}
	if f.OrganizationID != nil {
		where("organization_id = $%d", *f.OrganizationID)
	}
	if f.Since != nil {
		where("timestamp >= $%d", *f.Since)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, timestamp, event_type, status, actor, organization_id, request_id,
		resource_type, resource_id, message, error_message, metadata, changes
		FROM audit_logs`)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	limit := f.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))

	return b.String(), args
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		event                                  AuditEvent
		actor, requestID, resourceType         sql.NullString
		resourceID, message, errorMessage, org sql.NullString
		metadata, changes                      []byte
	)
	if err := rows.Scan(
		&event.ID, &event.Timestamp, &event.EventType, &event.Status,
		&actor, &org, &requestID, &resourceType, &resourceID,
		&message, &errorMessage, &metadata, &changes,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.Actor = actor.String
	event.RequestID = requestID.String
	event.ResourceType = ResourceType(resourceType.String)
	event.ResourceID = resourceID.String
	event.Message = message.String
	event.ErrorMessage = errorMessage.String
	if org.Valid {
		event.OrganizationID = &org.String
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(changes) > 0 {
		event.Changes = new(ChangeDetails)
		if err := json.Unmarshal(changes, event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}
	return &event, nil
}

// Close is a no-op; the connection pool belongs to the caller
func (l *DBLogger) Close() error { return nil }
