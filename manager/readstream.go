package manager

import (
	"context"
	"time"

	"eve.evalgo.org/entityrt/entity"
	"eve.evalgo.org/entityrt/rterrors"
	"eve.evalgo.org/entityrt/store"
)

// StreamReader resumes a durable stream log from a given sequence and
// yields each chunk in order, awaiting new chunks via the store's
// subscription support if available, or polling at pollInterval otherwise.
type StreamReader struct {
	m        *Manager
	streamID string
	after    int
}

// ReadStream returns a StreamReader for streamID (the ID a StreamRun was
// started under), resuming from sequence after (0 to read from the start).
// Requires the Manager to have been constructed with a Store.
func (m *Manager) ReadStream(ctx context.Context, streamID string, after int) (*StreamReader, error) {
	if err := m.rejectIfShutdown(); err != nil {
		return nil, err
	}
	if m.st == nil {
		return nil, rterrors.ErrNoStore
	}
	return &StreamReader{m: m, streamID: streamID, after: after}, nil
}

// Next blocks until the next chunk past the reader's current position is
// available, or the stream has ended. ok is false once an end entry has
// been consumed; err is the stream's recorded error, if its end entry
// reports StreamErrored.
func (r *StreamReader) Next(ctx context.Context) (chunk interface{}, seq int, ok bool, err error) {
	var unsubscribe func()
	var wake chan struct{}
	if sub, supports := r.m.st.(store.Subscriber); supports {
		wake = make(chan struct{}, 1)
		unsubscribe, err = sub.SubscribeEvents(ctx, r.streamID, func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		if err != nil {
			unsubscribe = nil
			wake = nil
		} else {
			defer unsubscribe()
		}
	}

	for {
		events, err := r.m.st.GetEvents(ctx, r.streamID, r.after)
		if err != nil {
			return nil, 0, false, err
		}
		if len(events) > 0 {
			ev := events[0]
			logEv, err := entity.DecodeStreamLogEvent(ev.Version, ev.Data)
			if err != nil {
				return nil, 0, false, err
			}
			r.after = ev.Version
			if logEv.Kind == entity.StreamEventEnd {
				if logEv.State == entity.StreamErrored {
					return nil, logEv.Seq, false, &rterrors.HydrationError{EntityID: r.streamID, Cause: errString(logEv.Error)}
				}
				return nil, logEv.Seq, false, nil
			}
			return logEv.Payload, logEv.Seq, true, nil
		}

		if wake != nil {
			select {
			case <-wake:
			case <-ctx.Done():
				return nil, 0, false, ctx.Err()
			}
		} else {
			select {
			case <-time.After(pollInterval):
			case <-ctx.Done():
				return nil, 0, false, ctx.Err()
			}
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

// StreamStatusView reports a stream's tail state, per spec §4.6.
type StreamStatusView struct {
	// Exists is false when no events have been committed under streamID.
	Exists      bool
	State       string // "running", "complete", or "error"
	Seq         int
	ReturnValue interface{}
	Error       string
}

// StreamStatus inspects streamID's durable log tail without consuming it.
func (m *Manager) StreamStatus(ctx context.Context, streamID string) (StreamStatusView, error) {
	if err := m.rejectIfShutdown(); err != nil {
		return StreamStatusView{}, err
	}
	if m.st == nil {
		return StreamStatusView{}, rterrors.ErrNoStore
	}

	events, err := m.st.GetEvents(ctx, streamID, 0)
	if err != nil {
		return StreamStatusView{}, err
	}
	if len(events) == 0 {
		return StreamStatusView{Exists: false}, nil
	}

	last := events[len(events)-1]
	logEv, err := entity.DecodeStreamLogEvent(last.Version, last.Data)
	if err != nil {
		return StreamStatusView{}, err
	}

	if logEv.Kind == entity.StreamEventChunk {
		return StreamStatusView{Exists: true, State: "running", Seq: len(events)}, nil
	}

	switch logEv.State {
	case entity.StreamErrored:
		return StreamStatusView{Exists: true, State: "error", Seq: len(events) - 1, Error: logEv.Error}, nil
	default:
		return StreamStatusView{Exists: true, State: "complete", Seq: len(events) - 1, ReturnValue: logEv.ReturnValue}, nil
	}
}
