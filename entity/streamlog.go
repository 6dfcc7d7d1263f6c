package entity

import (
	"encoding/json"
	"fmt"

	"eve.evalgo.org/entityrt/serde"
)

// streamDefName is the reserved entityDefName durable stream logs are
// committed under, distinguishing them from ordinary entity event logs in
// any store that multiplexes both kinds of log by ID.
const streamDefName = "__stream__"

// StreamEventKind distinguishes a durable stream log entry.
type StreamEventKind string

const (
	StreamEventChunk StreamEventKind = "chunk"
	StreamEventEnd   StreamEventKind = "end"
)

// StreamEndState is the terminal state recorded in a StreamEventEnd entry.
type StreamEndState string

const (
	StreamComplete StreamEndState = "complete"
	StreamErrored  StreamEndState = "error"
)

// StreamLogEvent is one entry of a durable stream log, as read back by
// manager.ReadStream/StreamStatus. Seq is the entry's 1-based position,
// matching the version it was committed under.
type StreamLogEvent struct {
	Kind        StreamEventKind
	Seq         int
	Payload     interface{}
	State       StreamEndState
	ReturnValue interface{}
	Error       string
}

type streamLogRecord struct {
	DefName     string          `json:"entityDefName"`
	Kind        StreamEventKind `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       StreamEndState  `json:"state,omitempty"`
	ReturnValue json.RawMessage `json:"returnValue,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func encodeStreamChunk(payload interface{}) ([]byte, error) {
	raw, err := serde.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("entity: encoding stream chunk: %w", err)
	}
	return json.Marshal(streamLogRecord{DefName: streamDefName, Kind: StreamEventChunk, Payload: raw})
}

func encodeStreamEnd(state StreamEndState, returnValue interface{}, errMsg string) ([]byte, error) {
	rec := streamLogRecord{DefName: streamDefName, Kind: StreamEventEnd, State: state, Error: errMsg}
	if returnValue != nil {
		raw, err := serde.Encode(returnValue)
		if err != nil {
			return nil, fmt.Errorf("entity: encoding stream return value: %w", err)
		}
		rec.ReturnValue = raw
	}
	return json.Marshal(rec)
}

// DecodeStreamLogEvent reverses encodeStreamChunk/encodeStreamEnd. Exported
// for package manager, which reads raw store bytes back for
// ReadStream/StreamStatus.
func DecodeStreamLogEvent(seq int, data []byte) (StreamLogEvent, error) {
	var rec streamLogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StreamLogEvent{}, fmt.Errorf("entity: decoding stream log entry: %w", err)
	}
	ev := StreamLogEvent{Kind: rec.Kind, Seq: seq, State: rec.State, Error: rec.Error}
	if len(rec.Payload) > 0 {
		v, err := serde.Decode(rec.Payload)
		if err != nil {
			return StreamLogEvent{}, fmt.Errorf("entity: decoding stream chunk payload: %w", err)
		}
		ev.Payload = v
	}
	if len(rec.ReturnValue) > 0 {
		v, err := serde.Decode(rec.ReturnValue)
		if err != nil {
			return StreamLogEvent{}, fmt.Errorf("entity: decoding stream return value: %w", err)
		}
		ev.ReturnValue = v
	}
	return ev, nil
}
