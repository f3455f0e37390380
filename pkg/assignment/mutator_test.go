package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

type writeCall struct {
	ids  []string
	code *string
}

// recordingWriter records every chunk write and fails the call numbered failAt
// (1-based) when failAt is set
type recordingWriter struct {
	mu     sync.Mutex
	calls  []writeCall
	failAt int
	ctxErr []error
}

func (w *recordingWriter) WriteProfileCode(ctx context.Context, ids []string, code *string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeCall{ids: append([]string(nil), ids...), code: code})
	w.ctxErr = append(w.ctxErr, ctx.Err())
	if w.failAt > 0 && len(w.calls) == w.failAt {
		return errors.New("connection reset")
	}
	return nil
}

func userIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%03d", prefix, i)
	}
	return ids
}

func TestMutatorApplyChunksSequentially(t *testing.T) {
	writer := &recordingWriter{}
	m := NewMutator(writer, nil)

	result, err := m.Apply(context.Background(), userIDs("a", 250), nil, "teacher_basic", 100)
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 250}, result)

	require.Len(t, writer.calls, 3)
	assert.Len(t, writer.calls[0].ids, 100)
	assert.Len(t, writer.calls[1].ids, 100)
	assert.Len(t, writer.calls[2].ids, 50)
	assert.Equal(t, "a000", writer.calls[0].ids[0])
	assert.Equal(t, "a100", writer.calls[1].ids[0])
	assert.Equal(t, "a200", writer.calls[2].ids[0])
	for _, call := range writer.calls {
		require.NotNil(t, call.code)
		assert.Equal(t, "teacher_basic", *call.code)
	}
}

func TestMutatorAddsBeforeRemoves(t *testing.T) {
	writer := &recordingWriter{}
	m := NewMutator(writer, nil)

	result, err := m.Apply(context.Background(), userIDs("a", 3), userIDs("r", 3), "teacher_basic", 2)
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 3, Removed: 3}, result)

	require.Len(t, writer.calls, 4)
	assert.NotNil(t, writer.calls[0].code)
	assert.NotNil(t, writer.calls[1].code)
	assert.Nil(t, writer.calls[2].code)
	assert.Nil(t, writer.calls[3].code)
	assert.Equal(t, []string{"r000", "r001"}, writer.calls[2].ids)
}

func TestMutatorDefaultBatchSize(t *testing.T) {
	writer := &recordingWriter{}
	m := NewMutator(writer, nil)

	_, err := m.Apply(context.Background(), userIDs("a", 150), nil, "teacher_basic", 0)
	require.NoError(t, err)
	require.Len(t, writer.calls, 2)
	assert.Len(t, writer.calls[0].ids, DefaultBatchSize)
}

func TestMutatorEmptyDiffWritesNothing(t *testing.T) {
	writer := &recordingWriter{}
	m := NewMutator(writer, nil)

	result, err := m.Apply(context.Background(), nil, nil, "teacher_basic", 100)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Empty(t, writer.calls)
}

func TestMutatorFailFast(t *testing.T) {
	t.Run("add chunk fails", func(t *testing.T) {
		writer := &recordingWriter{failAt: 2}
		m := NewMutator(writer, nil)
		toAdd := userIDs("a", 250)
		toRemove := userIDs("r", 10)

		_, err := m.Apply(context.Background(), toAdd, toRemove, "teacher_basic", 100)
		require.Error(t, err)

		var batchErr *BatchWriteError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, OperationAdd, batchErr.Operation)
		assert.Equal(t, 1, batchErr.ChunkIndex)
		assert.Equal(t, 100, batchErr.SucceededCount)
		assert.Equal(t, 260, batchErr.RequestedCount)
		assert.Len(t, batchErr.Pending, 160)
		assert.Equal(t, "a100", batchErr.Pending[0])
		assert.Equal(t, "r009", batchErr.Pending[159])
		assert.Contains(t, err.Error(), "100 of 260 applied")
		assert.EqualError(t, errors.Unwrap(err), "connection reset")

		// Stopped immediately: no third add chunk and no removal
		assert.Len(t, writer.calls, 2)
	})

	t.Run("remove chunk fails", func(t *testing.T) {
		writer := &recordingWriter{failAt: 3}
		m := NewMutator(writer, nil)

		_, err := m.Apply(context.Background(), userIDs("a", 2), userIDs("r", 5), "teacher_basic", 2)

		var batchErr *BatchWriteError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, OperationRemove, batchErr.Operation)
		assert.Equal(t, 1, batchErr.ChunkIndex)
		assert.Equal(t, 4, batchErr.SucceededCount)
		assert.Equal(t, 7, batchErr.RequestedCount)
		assert.Equal(t, []string{"r002", "r003", "r004"}, batchErr.Pending)
	})

	t.Run("first chunk fails", func(t *testing.T) {
		writer := &recordingWriter{failAt: 1}
		m := NewMutator(writer, nil)

		_, err := m.Apply(context.Background(), userIDs("a", 3), nil, "teacher_basic", 100)

		var batchErr *BatchWriteError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 0, batchErr.SucceededCount)
		assert.Equal(t, 3, batchErr.RequestedCount)
	})
}

func TestMutatorIgnoresCancellation(t *testing.T) {
	writer := &recordingWriter{}
	m := NewMutator(writer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := m.Apply(ctx, userIDs("a", 5), nil, "teacher_basic", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Added)
	require.Len(t, writer.calls, 3)
	for _, ctxErr := range writer.ctxErr {
		assert.NoError(t, ctxErr)
	}
}

func TestMutatorMetrics(t *testing.T) {
	writer := &recordingWriter{failAt: 3}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewMutator(writer, nil).WithMetrics(metrics)

	_, err := m.Apply(context.Background(), userIDs("a", 4), userIDs("r", 4), "teacher_basic", 2)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AssignmentChunksTotal.WithLabelValues("add", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssignmentChunksTotal.WithLabelValues("remove", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.AssignmentAccountsTotal.WithLabelValues("add")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.AssignmentAccountsTotal.WithLabelValues("remove")))
}
