// Package kernel owns one entity's live state and turns handler invocations
// into (patches, nextState) pairs. It has no notion of persistence,
// mailboxes, or supervision — those live in package entity, which composes
// a StateKernel with a Store and a Mailbox.
package kernel

import (
	"context"
	"fmt"

	"eve.evalgo.org/entityrt/patch"
	"eve.evalgo.org/entityrt/serde"
)

// CommandHandler mutates draft in response to args and returns the value
// the caller of send.<cmd>(...) receives.
type CommandHandler func(ctx context.Context, draft *Draft, args []interface{}) (interface{}, error)

// QueryHandler reads (but should not mutate) draft and returns the value
// the caller of read.<q>(...) receives.
type QueryHandler func(ctx context.Context, draft *Draft, args []interface{}) (interface{}, error)

// Yield is handed to a StreamHandler; each call delivers one chunk and
// blocks until the consumer (or an auto-draining detached loop) is ready
// for the next one. Yield does not write to any store: package entity
// persists a run's chunks together, only after the run has settled.
type Yield func(ctx context.Context, chunk interface{}) error

// StreamHandler mutates draft over the course of producing chunks via yield
// and returns the value recorded as the stream run's final returnVal.
type StreamHandler func(ctx context.Context, draft *Draft, args []interface{}, yield Yield) (interface{}, error)

// CommandResult is what ApplyCommand hands back to package entity for the
// commit decision.
type CommandResult struct {
	ReturnValue interface{}
	Patches     patch.Patch
	NextState   interface{}
}

// StateKernel owns the live state value for exactly one entity instance. It
// is not safe for concurrent use; package entity is responsible for
// serializing access to it through a Mailbox.
type StateKernel struct {
	state interface{}
}

// New creates a kernel seeded with the given state (typically the result of
// hydration: either a fresh initial state or one rebuilt from a snapshot
// plus replayed events).
func New(state interface{}) *StateKernel {
	return &StateKernel{state: state}
}

// State returns the kernel's current live state value. Package entity must
// treat the returned value as read-only and clone it (serde.Clone) before
// handing it to anything outside the kernel — the kernel does not clone on
// the way out, to avoid paying that cost on every internal read.
func (k *StateKernel) State() interface{} { return k.state }

// ApplyCommand resolves and runs a command handler against a fresh draft
// cloned from the current state. On success it returns the handler's return
// value together with the patch (possibly empty) and resulting state; it
// does not mutate the kernel's live state — that only happens once package
// entity has durably committed the patch (see ApplyCommittedState).
func (k *StateKernel) ApplyCommand(ctx context.Context, handler CommandHandler, args []interface{}) (CommandResult, error) {
	draftState, err := serde.Clone(k.state)
	if err != nil {
		return CommandResult{}, fmt.Errorf("kernel: cloning state for draft: %w", err)
	}
	draft := newDraft(draftState)

	ret, err := handler(ctx, draft, args)
	if err != nil {
		return CommandResult{}, err
	}

	clonedRet, err := serde.Clone(ret)
	if err != nil {
		return CommandResult{}, fmt.Errorf("kernel: cloning command return value: %w", err)
	}

	p, err := patch.Diff(k.state, draft.Root())
	if err != nil {
		return CommandResult{}, fmt.Errorf("kernel: diffing draft: %w", err)
	}

	return CommandResult{ReturnValue: clonedRet, Patches: p, NextState: draft.Root()}, nil
}

// RunQuery resolves and runs a query handler against a read-only draft and
// returns a deep clone of its result, so the caller cannot mutate
// kernel-owned state through the returned value nor observe later writes.
func (k *StateKernel) RunQuery(ctx context.Context, handler QueryHandler, args []interface{}) (interface{}, error) {
	draftState, err := serde.Clone(k.state)
	if err != nil {
		return nil, fmt.Errorf("kernel: cloning state for draft: %w", err)
	}
	draft := newDraft(draftState)

	ret, err := handler(ctx, draft, args)
	if err != nil {
		return nil, err
	}
	return serde.Clone(ret)
}

// ApplyCommittedState advances the kernel's live state after package entity
// has durably persisted the corresponding event. It is the only way the
// kernel's state changes.
func (k *StateKernel) ApplyCommittedState(next interface{}) {
	k.state = next
}

// StateAt replays events against a base state for time-travel queries; it
// does not touch the kernel's live state. base and events' patches must
// already be in the draft-compatible (map[string]interface{}-shaped) form.
func StateAt(base interface{}, patches []patch.Patch) (interface{}, error) {
	cur := base
	for i, p := range patches {
		next, err := patch.Apply(cur, p)
		if err != nil {
			return nil, fmt.Errorf("kernel: replaying event %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}
