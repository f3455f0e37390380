package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tenantdesk/accesskit/pkg/audit"
	"github.com/tenantdesk/accesskit/pkg/observability"
	"github.com/tenantdesk/accesskit/pkg/profiles"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProfileSource looks up profiles by code. *profiles.Catalog implements it.
type ProfileSource interface {
	Get(ctx context.Context, code string) (*profiles.AccessProfile, error)
}

// Store is the persistence contract of the assignment engine
type Store interface {
	PopulationReader
	ProfileCodeWriter

	// ReadCurrentAssignments returns the ids of the accounts of an organization
	// that hold profileCode. It must read from the primary.
	ReadCurrentAssignments(ctx context.Context, organizationID, profileCode string) ([]string, error)
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	BatchSize int
	Loader    LoaderConfig
}

// Engine opens assignment sessions and commits their diffs
type Engine struct {
	profiles  ProfileSource
	store     Store
	loader    *Loader
	mutator   *Mutator
	batchSize int
	logger    *observability.Logger
	metrics   *observability.Metrics
	audit     audit.Logger
}

// NewEngine creates an assignment engine
func NewEngine(source ProfileSource, store Store, cfg Config, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{
		profiles:  source,
		store:     store,
		loader:    NewLoader(store, cfg.Loader, logger),
		mutator:   NewMutator(store, logger),
		batchSize: cfg.BatchSize,
		logger:    logger,
		audit:     audit.NoOp(),
	}
}

// WithMetrics records population loads, chunks and commits on m
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	e.loader.WithMetrics(m)
	e.mutator.WithMetrics(m)
	return e
}

// WithAuditLogger sets the audit logger used when the request context carries none
func (e *Engine) WithAuditLogger(l audit.Logger) *Engine {
	if l != nil {
		e.audit = l
	}
	return e
}

// OpenSession loads the assignable population of an organization and freezes
// the accounts of that population already holding profileCode as the initial
// selection. The profile must be active and visible to the organization.
func (e *Engine) OpenSession(ctx context.Context, profileCode, organizationID string, opts SessionOptions) (*Session, error) {
	ctx, span := observability.Tracer().Start(ctx, "assignment.OpenSession",
		trace.WithAttributes(
			attribute.String("profile_code", profileCode),
			attribute.String("organization_id", organizationID),
		),
	)
	defer span.End()

	if _, err := e.assignable(ctx, profileCode, organizationID); err != nil {
		observability.FailSpan(span, err, "profile not assignable")
		return nil, err
	}

	population, err := e.loader.Load(ctx, organizationID, opts.Search, opts.Limit)
	if err != nil {
		observability.FailSpan(span, err, "population load failed")
		return nil, err
	}

	holders, err := e.store.ReadCurrentAssignments(ctx, organizationID, profileCode)
	if err != nil {
		observability.FailSpan(span, err, "current assignments read failed")
		return nil, fmt.Errorf("failed to read current assignments: %w", err)
	}

	// Holders outside the loaded population are neither shown nor removable
	initial := make([]string, 0, len(holders))
	listed := make(map[string]struct{}, len(population.Accounts))
	for _, a := range population.Accounts {
		listed[a.UserID] = struct{}{}
	}
	for _, id := range normalize(holders) {
		if _, ok := listed[id]; ok {
			initial = append(initial, id)
		}
	}

	opts.Limit = population.Limit
	session := &Session{
		ID:               uuid.NewString(),
		ProfileCode:      profileCode,
		OrganizationID:   organizationID,
		Options:          opts,
		Population:       population.Accounts,
		InitialSelection: initial,
		Truncated:        population.Truncated,
		UnlistedHolders:  len(normalize(holders)) - len(initial),
		OpenedAt:         time.Now().UTC(),
	}
	if session.Population == nil {
		session.Population = []Account{}
	}

	span.SetAttributes(
		attribute.Int("population", len(session.Population)),
		attribute.Int("initial_selection", len(initial)),
	)
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":        session.ID,
		"profile_code":      profileCode,
		"organization_id":   organizationID,
		"population":        len(session.Population),
		"initial_selection": len(initial),
		"truncated":         session.Truncated,
	}).Info("assignment session opened")

	return session, nil
}

// PreviewDiff reports what committing newSelection would change. It does no I/O.
func (e *Engine) PreviewDiff(session *Session, newSelection []string) Preview {
	diff := Diff(session.InitialSelection, newSelection)
	return Preview{
		ToAdd:     diff.ToAdd,
		ToRemove:  diff.ToRemove,
		Conflicts: DetectConflicts(diff.ToAdd, session.PopulationByID(), session.ProfileCode),
	}
}

// CommitAssignment writes toAdd and toRemove for the session's profile.
// Additions must come from the population and not already hold the profile;
// removals must come from the initial selection. When additions would replace
// other profiles and opts.ConfirmOverwrite is false, nothing is written and a
// *ConfirmationRequiredError lists the conflicts. A failed chunk yields a
// *BatchWriteError; reopen with Resume to retry what is left.
func (e *Engine) CommitAssignment(ctx context.Context, session *Session, toAdd, toRemove []string, opts CommitOptions) (Result, error) {
	if session == nil {
		return Result{}, &ValidationError{Field: "session", Message: "is required"}
	}
	if session.Stale {
		return Result{}, ErrSessionStale
	}
	toAdd = normalize(toAdd)
	toRemove = normalize(toRemove)
	if err := validateCommit(session, toAdd, toRemove); err != nil {
		return Result{}, err
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return Result{}, nil
	}

	ctx, span := observability.Tracer().Start(ctx, "assignment.Commit",
		trace.WithAttributes(
			attribute.String("session_id", session.ID),
			attribute.String("profile_code", session.ProfileCode),
			attribute.Int("to_add", len(toAdd)),
			attribute.Int("to_remove", len(toRemove)),
		),
	)
	defer span.End()

	// The profile may have been deactivated since the session opened
	if _, err := e.assignable(ctx, session.ProfileCode, session.OrganizationID); err != nil {
		observability.FailSpan(span, err, "profile not assignable")
		return Result{}, err
	}

	conflicts := DetectConflicts(toAdd, session.PopulationByID(), session.ProfileCode)
	op := BatchOperation{ProfileCode: session.ProfileCode, ToAdd: toAdd, ToRemove: toRemove}

	gate := NewGate(e.mutator, e.batchSize)
	result, applied, err := gate.Submit(ctx, op, conflicts)
	if !applied {
		if !opts.ConfirmOverwrite {
			gate.Cancel()
			e.metrics.RecordCommit("confirmation_required", len(conflicts))
			span.SetStatus(codes.Ok, "confirmation required")
			return Result{}, &ConfirmationRequiredError{Conflicts: conflicts}
		}
		result, err = gate.Confirm(ctx)
	}

	e.recordCommit(ctx, session, op, conflicts, result, err)
	if err != nil {
		// Chunks before the failed one are applied; the initial selection is out of date
		session.Stale = IsBatchWrite(err)
		observability.FailSpan(span, err, "commit failed")
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Resume reopens prev against current state and previews the diff to the
// caller's desired final selection. Use it to retry after a *BatchWriteError:
// accounts already written drop out of the new diff.
func (e *Engine) Resume(ctx context.Context, prev *Session, desired []string) (*Session, Preview, error) {
	if prev == nil {
		return nil, Preview{}, &ValidationError{Field: "session", Message: "is required"}
	}
	next, err := e.OpenSession(ctx, prev.ProfileCode, prev.OrganizationID, prev.Options)
	if err != nil {
		return nil, Preview{}, err
	}
	return next, e.PreviewDiff(next, desired), nil
}

func (e *Engine) assignable(ctx context.Context, code, organizationID string) (*profiles.AccessProfile, error) {
	if organizationID == "" {
		return nil, &ValidationError{Field: "organization_id", Message: "is required"}
	}
	profile, err := e.profiles.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !profile.Active || !profile.VisibleTo(organizationID) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotAssignable, code)
	}
	return profile, nil
}

func validateCommit(session *Session, toAdd, toRemove []string) error {
	population := session.PopulationByID()
	initial := session.initialSet()

	for _, id := range toAdd {
		if _, ok := population[id]; !ok {
			return &ValidationError{Field: "to_add", Message: fmt.Sprintf("account %s is not in the session population", id)}
		}
		if _, ok := initial[id]; ok {
			return &ValidationError{Field: "to_add", Message: fmt.Sprintf("account %s already holds the profile", id)}
		}
	}

	adding := toSet(toAdd)
	for _, id := range toRemove {
		if _, ok := initial[id]; !ok {
			return &ValidationError{Field: "to_remove", Message: fmt.Sprintf("account %s does not hold the profile", id)}
		}
		if _, ok := adding[id]; ok {
			return &ValidationError{Field: "to_remove", Message: fmt.Sprintf("account %s is also being added", id)}
		}
	}
	return nil
}

// recordCommit logs, counts and audits a commit outcome
func (e *Engine) recordCommit(ctx context.Context, session *Session, op BatchOperation, conflicts []ConflictRecord, result Result, err error) {
	status := audit.EventStatusSuccess
	metadata := map[string]any{
		"session_id": session.ID,
		"to_add":     len(op.ToAdd),
		"to_remove":  len(op.ToRemove),
		"conflicts":  len(conflicts),
		"added":      result.Added,
		"removed":    result.Removed,
	}
	message := fmt.Sprintf("assigned %s to %d account(s), removed from %d", op.ProfileCode, result.Added, result.Removed)

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":      session.ID,
		"profile_code":    op.ProfileCode,
		"organization_id": session.OrganizationID,
		"to_add":          len(op.ToAdd),
		"to_remove":       len(op.ToRemove),
		"conflicts":       len(conflicts),
	})

	if err != nil {
		status = audit.EventStatusFailure
		var batchErr *BatchWriteError
		if errors.As(err, &batchErr) {
			metadata["succeeded"] = batchErr.SucceededCount
			metadata["requested"] = batchErr.RequestedCount
			metadata["failed_chunk"] = batchErr.ChunkIndex
			metadata["failed_operation"] = string(batchErr.Operation)
			if batchErr.SucceededCount > 0 {
				status = audit.EventStatusPartial
			}
		}
		message = err.Error()
		log.WithError(err).Error("assignment commit failed")
	} else {
		log.Info("assignment committed")
	}

	e.metrics.RecordCommit(string(status), len(conflicts))

	logger := audit.FromContextOr(ctx, e.audit)
	orgID := session.OrganizationID
	if auditErr := logger.LogAssignmentCommit(ctx, op.ProfileCode, &orgID, status, metadata, message); auditErr != nil {
		e.logger.WithError(auditErr).Warn("failed to write audit event")
	}
}
