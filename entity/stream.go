package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"eve.evalgo.org/entityrt/kernel"
)

// StreamStatus reports where a StreamRun stands.
type StreamStatus string

const (
	StreamRunning  StreamStatus = "running"
	StreamDetached StreamStatus = "detached"
	StreamDone     StreamStatus = "done"
	StreamFailed   StreamStatus = "failed"
)

// StreamRun is one in-flight invocation of a stream handler, identified by
// an ID synthesized as "<entityID>:<handler>:<uuid>" so a manager serving
// many entities can route readStream/streamStatus calls unambiguously. The
// handler itself runs decoupled from the mailbox (see kernel.StreamExec);
// only the eventual commit of its accumulated patch is a mailbox task, so a
// slow consumer never blocks other commands queued for the same entity.
type StreamRun struct {
	ID       string
	EntityID string
	Handler  string

	exec      *kernel.StreamExec
	entity    *Entity
	baseState interface{}

	status StreamStatus

	waitOnce sync.Once
	waitRet  interface{}
	waitErr  error
}

func newStreamID(entityID, handler string) string {
	return fmt.Sprintf("%s:%s:%s", entityID, handler, uuid.NewString())
}

// Next blocks for the stream's next chunk, exactly like kernel.StreamExec.Next.
func (r *StreamRun) Next(ctx context.Context) (chunk interface{}, ok bool, err error) {
	return r.exec.Next(ctx)
}

// Continue resumes the producer past the chunk Next most recently returned.
func (r *StreamRun) Continue() { r.exec.Continue() }

// Status reports the run's current lifecycle state.
func (r *StreamRun) Status() StreamStatus { return r.status }

// Detach stops requiring a live consumer to drive the stream: it runs the
// producer to completion in the background (auto-continuing every chunk)
// and commits its result exactly as Wait would. Safe to call only once per
// run; pair with a later Wait (on any goroutine) to observe the outcome, or
// ignore it entirely for fire-and-forget streams.
func (r *StreamRun) Detach(ctx context.Context) {
	r.status = StreamDetached
	go func() {
		r.exec.Drain(ctx)
		_, _ = r.Wait(ctx)
	}()
}

// Wait blocks until the stream handler has finished producing (directly,
// or because a concurrent Detach drained it), commits its accumulated
// patch through the owning entity's commit protocol, and returns the
// handler's return value. Wait settles its result exactly once (via
// sync.Once); calling it again, or concurrently from both the caller and a
// prior Detach's background goroutine, returns the same cached outcome
// rather than blocking on an already-drained channel.
func (r *StreamRun) Wait(ctx context.Context) (interface{}, error) {
	r.waitOnce.Do(func() {
		result, handlerErr := r.exec.Wait(r.baseState)
		chunks := r.exec.Chunks()

		if handlerErr != nil {
			r.status = StreamFailed
		} else {
			r.status = StreamDone
		}

		commitErr := r.entity.commitStreamResult(ctx, r.ID, chunks, result, handlerErr)
		r.waitRet = result.ReturnValue
		if commitErr != nil {
			r.waitErr = commitErr
		} else {
			r.waitErr = handlerErr
		}
	})
	return r.waitRet, r.waitErr
}
