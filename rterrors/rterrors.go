// Package rterrors declares the error kinds produced by the entity runtime.
//
// Sentinel values support errors.Is; the typed wrappers carry the extra
// context (entity id, version, cause) and support errors.As/errors.Unwrap,
// the same pairing used by eve/auth's sentinel block together with the
// fmt.Errorf("...: %w", err) wrapping used throughout eve/db.
package rterrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed wrappers below satisfy errors.Is against these via
// Unwrap, so callers can write `errors.Is(err, rterrors.ErrStoppedEntity)`
// without caring whether the entity failed or was deliberately stopped.
var (
	ErrCommit             = errors.New("entity runtime: commit rejected")
	ErrHydration          = errors.New("entity runtime: hydration failed")
	ErrOutOfOrderEvents   = errors.New("entity runtime: out-of-order events")
	ErrDefinitionMismatch = errors.New("entity runtime: definition mismatch")
	ErrStoppedEntity      = errors.New("entity runtime: entity is failed or stopped")
	ErrManagerShutdown    = errors.New("entity runtime: manager has been stopped")
	ErrReset              = errors.New("entity runtime: supervisor reset the entity")
	ErrNoStore            = errors.New("entity runtime: operation requires a store")
	ErrUnknownHandler     = errors.New("entity runtime: no handler registered for that name")
	ErrWrongHandlerKind   = errors.New("entity runtime: handler registered under a different kind")
)

// CommitError wraps a store rejection (version conflict or any other write
// failure) observed while committing an event for EntityID.
type CommitError struct {
	EntityID string
	Version  int
	Cause    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("entity %q: commit at version %d rejected: %v", e.EntityID, e.Version, e.Cause)
}

func (e *CommitError) Unwrap() []error { return []error{ErrCommit, e.Cause} }

// HydrationError wraps a failure encountered while rebuilding an entity's
// state from its snapshot and event log.
type HydrationError struct {
	EntityID string
	Cause    error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("entity %q: hydration failed: %v", e.EntityID, e.Cause)
}

func (e *HydrationError) Unwrap() []error { return []error{ErrHydration, e.Cause} }

// OutOfOrderEventsError is a specialization of HydrationError raised when the
// store returns a non-contiguous run of event versions.
type OutOfOrderEventsError struct {
	EntityID string
	Expected int
	Got      int
}

func (e *OutOfOrderEventsError) Error() string {
	return fmt.Sprintf("entity %q: expected next event version %d, got %d", e.EntityID, e.Expected, e.Got)
}

func (e *OutOfOrderEventsError) Unwrap() []error { return []error{ErrOutOfOrderEvents, ErrHydration} }

// DefinitionMismatchError is raised when a persisted snapshot's
// entityDefName does not match the definition being hydrated.
type DefinitionMismatchError struct {
	EntityID string
	Want     string
	Got      string
}

func (e *DefinitionMismatchError) Error() string {
	return fmt.Sprintf("entity %q: snapshot belongs to definition %q, not %q", e.EntityID, e.Got, e.Want)
}

func (e *DefinitionMismatchError) Unwrap() []error {
	return []error{ErrDefinitionMismatch, ErrHydration}
}

// StoppedEntityError is returned for any interaction attempted against a
// failed or stopped entity instance.
type StoppedEntityError struct {
	EntityID string
	Status   string
	Cause    error // the sticky error that caused the transition, if any
}

func (e *StoppedEntityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("entity %q is %s: %v", e.EntityID, e.Status, e.Cause)
	}
	return fmt.Sprintf("entity %q is %s", e.EntityID, e.Status)
}

func (e *StoppedEntityError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrStoppedEntity, e.Cause}
	}
	return []error{ErrStoppedEntity}
}

// ManagerShutdownError is returned for any reference operation attempted
// after manager.Stop has completed.
type ManagerShutdownError struct {
	EntityID string
}

func (e *ManagerShutdownError) Error() string {
	return fmt.Sprintf("manager is shut down, rejecting operation for %q", e.EntityID)
}

func (e *ManagerShutdownError) Unwrap() error { return ErrManagerShutdown }

// ResetError wraps the original handler error after a supervisor "reset"
// strategy has reinitialized the entity to its latest initial state.
type ResetError struct {
	EntityID string
	Cause    error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("entity %q: reset after error: %v", e.EntityID, e.Cause)
}

func (e *ResetError) Unwrap() []error { return []error{ErrReset, e.Cause} }
