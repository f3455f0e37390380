package assignment

import (
	"context"
	"time"

	"github.com/tenantdesk/accesskit/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBatchSize is the chunk size used when none is configured
const DefaultBatchSize = 100

// ProfileCodeWriter sets the profile code of a group of accounts. A nil code
// clears it. This is the only write the Mutator issues.
type ProfileCodeWriter interface {
	WriteProfileCode(ctx context.Context, userIDs []string, profileCode *string) error
}

// Mutator applies assignment diffs in sequential chunks
type Mutator struct {
	writer  ProfileCodeWriter
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMutator creates a batch mutator
func NewMutator(writer ProfileCodeWriter, logger *observability.Logger) *Mutator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Mutator{writer: writer, logger: logger}
}

// WithMetrics records chunk writes on m
func (m *Mutator) WithMetrics(metrics *observability.Metrics) *Mutator {
	m.metrics = metrics
	return m
}

// Apply sets target on every account of toAdd, then clears the profile of every
// account of toRemove, batchSize accounts per write. Chunks run one at a time
// and every add chunk completes before the first remove chunk.
//
// The first failing chunk stops the operation with a *BatchWriteError; earlier
// chunks stay applied. Once Apply starts, cancelling ctx does not interrupt it.
func (m *Mutator) Apply(ctx context.Context, toAdd, toRemove []string, target string, batchSize int) (Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ctx = context.WithoutCancel(ctx)

	ctx, span := observability.Tracer().Start(ctx, "assignment.Apply",
		trace.WithAttributes(
			attribute.String("profile_code", target),
			attribute.Int("to_add", len(toAdd)),
			attribute.Int("to_remove", len(toRemove)),
			attribute.Int("batch_size", batchSize),
		),
	)
	defer span.End()

	requested := len(toAdd) + len(toRemove)
	succeeded := 0

	phases := []struct {
		op   Operation
		ids  []string
		code *string
	}{
		{OperationAdd, toAdd, &target},
		{OperationRemove, toRemove, nil},
	}

	for _, phase := range phases {
		chunks := Chunk(phase.ids, batchSize)
		for i, chunk := range chunks {
			if err := m.writeChunk(ctx, phase.op, i, chunk, phase.code, target); err != nil {
				observability.FailSpan(span, err, "chunk write failed")
				return Result{}, &BatchWriteError{
					Operation:      phase.op,
					ChunkIndex:     i,
					SucceededCount: succeeded,
					RequestedCount: requested,
					Pending:        pending(phase.op, phase.ids, i*batchSize, toRemove),
					Err:            err,
				}
			}
			succeeded += len(chunk)
		}
	}

	span.SetStatus(codes.Ok, "")
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

func (m *Mutator) writeChunk(ctx context.Context, op Operation, index int, chunk []string, code *string, target string) error {
	ctx, span := observability.Tracer().Start(ctx, "assignment.WriteChunk",
		trace.WithAttributes(
			attribute.String("operation", string(op)),
			attribute.Int("chunk_index", index),
			attribute.Int("accounts", len(chunk)),
		),
	)
	defer span.End()

	start := time.Now()
	err := m.writer.WriteProfileCode(ctx, chunk, code)
	duration := time.Since(start)
	m.metrics.RecordChunk(string(op), len(chunk), duration, err)

	log := m.logger.WithFields(map[string]any{
		"profile_code": target,
		"operation":    string(op),
		"chunk_index":  index,
		"accounts":     len(chunk),
		"duration_ms":  duration.Milliseconds(),
	})
	if err != nil {
		observability.FailSpan(span, err, err.Error())
		log.WithError(err).Error("assignment chunk failed")
		return err
	}

	log.Debug("assignment chunk applied")
	return nil
}

// pending lists the accounts not yet applied when the chunk starting at offset
// of the failing phase failed. A failed add leaves every removal pending too.
func pending(op Operation, ids []string, offset int, toRemove []string) []string {
	out := append([]string{}, ids[offset:]...)
	if op == OperationAdd {
		out = append(out, toRemove...)
	}
	return out
}
