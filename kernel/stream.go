package kernel

import (
	"context"
	"fmt"
	"sync"

	"eve.evalgo.org/entityrt/patch"
	"eve.evalgo.org/entityrt/serde"
)

// StreamExec runs one stream handler invocation as a decoupled producer: the
// handler executes on its own goroutine, handing chunks across an unbuffered
// channel and blocking between chunks until Continue is called. This is the
// "two tasks joined by a bounded channel" mapping from the spec's design
// notes — a live consumer and a detached drain loop both just call
// Next/Continue at their own pace.
type StreamExec struct {
	draft *Draft

	chunkCh  chan interface{}
	resumeCh chan struct{}
	doneCh   chan error

	returnVal interface{}
	waited    bool

	chunksMu sync.Mutex
	chunks   []interface{}
}

// StartStream begins running handler in its own goroutine against a fresh
// draft cloned from state. The caller must eventually call Wait (directly or
// after draining with Next/Continue) to observe the result and release the
// goroutine.
func StartStream(ctx context.Context, state interface{}, handler StreamHandler, args []interface{}) (*StreamExec, error) {
	draftState, err := serde.Clone(state)
	if err != nil {
		return nil, fmt.Errorf("kernel: cloning state for stream draft: %w", err)
	}
	se := &StreamExec{
		draft: newDraft(draftState),
		chunkCh: make(chan interface{}),
		// Buffered by one: Continue() is normally called once, synchronously
		// after Next() returns a chunk, which races with the producer
		// reaching its own "wait for resume" select. Buffering means
		// Continue() never has to block on that race to resolve first.
		resumeCh: make(chan struct{}, 1),
		doneCh:   make(chan error, 1),
	}

	yield := func(ctx context.Context, chunk interface{}) error {
		clonedChunk, err := serde.Clone(chunk)
		if err != nil {
			return fmt.Errorf("kernel: cloning yielded chunk: %w", err)
		}
		select {
		case se.chunkCh <- clonedChunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-se.resumeCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		ret, err := handler(ctx, se.draft, args, yield)
		se.returnVal = ret
		close(se.chunkCh)
		se.doneCh <- err
	}()

	return se, nil
}

// Next blocks until the producer yields a chunk or finishes. ok is false
// once the producer has no more chunks; callers must still call Continue
// after the last delivered chunk (acknowledging receipt) and then Wait.
func (se *StreamExec) Next(ctx context.Context) (chunk interface{}, ok bool, err error) {
	select {
	case v, open := <-se.chunkCh:
		if !open {
			return nil, false, nil
		}
		se.chunksMu.Lock()
		se.chunks = append(se.chunks, v)
		se.chunksMu.Unlock()
		return v, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Chunks returns every chunk delivered so far, in emission order, whether
// observed by a live consumer or by Drain. Package entity calls this after
// Wait to durably log the run's full chunk sequence.
func (se *StreamExec) Chunks() []interface{} {
	se.chunksMu.Lock()
	defer se.chunksMu.Unlock()
	out := make([]interface{}, len(se.chunks))
	copy(out, se.chunks)
	return out
}

// Continue signals the producer to proceed past the chunk it is currently
// blocked on (or to run to completion, if it has none left). Calling it
// after the producer has already finished is a harmless no-op: the buffered
// signal is simply never read.
func (se *StreamExec) Continue() {
	select {
	case se.resumeCh <- struct{}{}:
	default:
		// Already has a buffered, unconsumed signal (e.g. Continue called
		// twice for one chunk); dropping the extra is correct since the
		// producer only ever consumes one per yield.
	}
}

// Drain auto-continues the producer until it finishes, discarding any
// further chunks. It is what the entity layer runs in the background once a
// live consumer has detached from a stream.
func (se *StreamExec) Drain(ctx context.Context) {
	for {
		_, ok, err := se.Next(ctx)
		if !ok || err != nil {
			return
		}
		se.Continue()
	}
}

// Wait blocks until the producer goroutine has finished, then finalizes the
// draft into a (patches, nextState) pair exactly like ApplyCommand does.
// base is the state the stream was started against (kernel.State() at start
// time), used to compute the diff.
func (se *StreamExec) Wait(base interface{}) (CommandResult, error) {
	handlerErr := <-se.doneCh
	se.waited = true

	clonedRet, err := serde.Clone(se.returnVal)
	if err != nil {
		return CommandResult{}, fmt.Errorf("kernel: cloning stream return value: %w", err)
	}

	if handlerErr != nil {
		return CommandResult{ReturnValue: clonedRet}, handlerErr
	}

	p, err := patch.Diff(base, se.draft.Root())
	if err != nil {
		return CommandResult{}, fmt.Errorf("kernel: diffing stream draft: %w", err)
	}

	return CommandResult{ReturnValue: clonedRet, Patches: p, NextState: se.draft.Root()}, nil
}
