package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applyCall struct {
	toAdd    []string
	toRemove []string
	target   string
}

type fakeApplier struct {
	calls []applyCall
	err   error
}

func (a *fakeApplier) Apply(ctx context.Context, toAdd, toRemove []string, target string, batchSize int) (Result, error) {
	a.calls = append(a.calls, applyCall{toAdd: toAdd, toRemove: toRemove, target: target})
	if a.err != nil {
		return Result{}, a.err
	}
	return Result{Added: len(toAdd), Removed: len(toRemove)}, nil
}

func gateOperation() BatchOperation {
	return BatchOperation{ProfileCode: "teacher_basic", ToAdd: []string{"u3"}, ToRemove: []string{"u1"}}
}

func gateConflicts() []ConflictRecord {
	return []ConflictRecord{{UserID: "u3", CurrentProfileCode: "teacher_advanced", TargetProfileCode: "teacher_basic"}}
}

func TestGateBypassWithoutConflicts(t *testing.T) {
	applier := &fakeApplier{}
	gate := NewGate(applier, 100)

	result, applied, err := gate.Submit(context.Background(), gateOperation(), nil)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, Result{Added: 1, Removed: 1}, result)
	assert.Equal(t, GateIdle, gate.State())
	assert.Len(t, applier.calls, 1)
}

func TestGateAwaitsConfirmation(t *testing.T) {
	applier := &fakeApplier{}
	gate := NewGate(applier, 100)

	_, applied, err := gate.Submit(context.Background(), gateOperation(), gateConflicts())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, GateAwaitingConfirmation, gate.State())
	assert.Equal(t, "awaiting_confirmation", gate.State().String())
	assert.Equal(t, gateConflicts(), gate.Conflicts())
	assert.Empty(t, applier.calls, "nothing is written before confirmation")
}

func TestGateCancel(t *testing.T) {
	applier := &fakeApplier{}
	gate := NewGate(applier, 100)

	_, _, err := gate.Submit(context.Background(), gateOperation(), gateConflicts())
	require.NoError(t, err)

	gate.Cancel()
	assert.Equal(t, GateIdle, gate.State())
	assert.Empty(t, gate.Conflicts())
	assert.Empty(t, applier.calls)

	_, err = gate.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNothingToConfirm)
}

func TestGateConfirm(t *testing.T) {
	applier := &fakeApplier{}
	gate := NewGate(applier, 100)

	_, _, err := gate.Submit(context.Background(), gateOperation(), gateConflicts())
	require.NoError(t, err)

	result, err := gate.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 1, Removed: 1}, result)
	assert.Equal(t, GateIdle, gate.State())
	require.Len(t, applier.calls, 1)
	assert.Equal(t, applyCall{toAdd: []string{"u3"}, toRemove: []string{"u1"}, target: "teacher_basic"}, applier.calls[0])
}

func TestGateConfirmResetsOnFailure(t *testing.T) {
	applier := &fakeApplier{err: errors.New("write failed")}
	gate := NewGate(applier, 100)

	_, _, err := gate.Submit(context.Background(), gateOperation(), gateConflicts())
	require.NoError(t, err)

	_, err = gate.Confirm(context.Background())
	assert.EqualError(t, err, "write failed")
	assert.Equal(t, GateIdle, gate.State())

	_, err = gate.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNothingToConfirm)
	assert.Len(t, applier.calls, 1)
}

func TestGateConfirmWhenIdle(t *testing.T) {
	gate := NewGate(&fakeApplier{}, 100)
	_, err := gate.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNothingToConfirm)
	assert.Equal(t, "idle", gate.State().String())
}

func TestGateResubmitReplacesParkedOperation(t *testing.T) {
	applier := &fakeApplier{}
	gate := NewGate(applier, 100)

	_, _, err := gate.Submit(context.Background(), gateOperation(), gateConflicts())
	require.NoError(t, err)

	next := BatchOperation{ProfileCode: "teacher_basic", ToAdd: []string{"u4"}}
	_, _, err = gate.Submit(context.Background(), next, []ConflictRecord{{UserID: "u4", CurrentProfileCode: "secretary", TargetProfileCode: "teacher_basic"}})
	require.NoError(t, err)

	_, err = gate.Confirm(context.Background())
	require.NoError(t, err)
	require.Len(t, applier.calls, 1)
	assert.Equal(t, []string{"u4"}, applier.calls[0].toAdd)
}
