package assignment

import (
	"context"
	"sync"
)

// GateState is the state of a conflict resolution gate
type GateState int

const (
	GateIdle GateState = iota
	GateAwaitingConfirmation
)

func (s GateState) String() string {
	if s == GateAwaitingConfirmation {
		return "awaiting_confirmation"
	}
	return "idle"
}

// Applier runs a batch operation
type Applier interface {
	Apply(ctx context.Context, toAdd, toRemove []string, target string, batchSize int) (Result, error)
}

// Gate holds an operation back while its conflicts await confirmation.
// Operations without conflicts pass straight through.
type Gate struct {
	mu        sync.Mutex
	applier   Applier
	batchSize int
	state     GateState
	pending   *BatchOperation
	conflicts []ConflictRecord
}

// NewGate creates an idle gate in front of applier
func NewGate(applier Applier, batchSize int) *Gate {
	return &Gate{applier: applier, batchSize: batchSize}
}

// State returns the current state
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Conflicts returns the conflicts of the pending operation
func (g *Gate) Conflicts() []ConflictRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ConflictRecord(nil), g.conflicts...)
}

// Submit applies op when conflicts is empty. Otherwise it parks op, moves to
// GateAwaitingConfirmation and writes nothing; applied is false in that case.
// A submit while awaiting replaces the parked operation.
func (g *Gate) Submit(ctx context.Context, op BatchOperation, conflicts []ConflictRecord) (result Result, applied bool, err error) {
	g.mu.Lock()
	if len(conflicts) > 0 {
		g.state = GateAwaitingConfirmation
		g.pending = &op
		g.conflicts = append([]ConflictRecord(nil), conflicts...)
		g.mu.Unlock()
		return Result{}, false, nil
	}
	g.reset()
	g.mu.Unlock()

	result, err = g.applier.Apply(ctx, op.ToAdd, op.ToRemove, op.ProfileCode, g.batchSize)
	return result, true, err
}

// Confirm applies the parked operation and returns to GateIdle whatever the
// outcome
func (g *Gate) Confirm(ctx context.Context) (Result, error) {
	g.mu.Lock()
	if g.state != GateAwaitingConfirmation || g.pending == nil {
		g.mu.Unlock()
		return Result{}, ErrNothingToConfirm
	}
	op := *g.pending
	g.reset()
	g.mu.Unlock()

	return g.applier.Apply(ctx, op.ToAdd, op.ToRemove, op.ProfileCode, g.batchSize)
}

// Cancel drops the parked operation without writing anything
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

// reset must be called with mu held
func (g *Gate) reset() {
	g.state = GateIdle
	g.pending = nil
	g.conflicts = nil
}
