// Package protocol translates websocket wire frames to and from the
// gateway's internal types. Binary frames carry raw PCM audio; text
// frames carry JSON control messages and server events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voicegate/voicegate/internal/fault"
)

// EventType identifies server-to-client event variants.
type EventType string

const (
	TypeReady   EventType = "ready"
	TypePartial EventType = "partial"
	TypeFinal   EventType = "final"
	TypeError   EventType = "error"
)

// ActionEndStream is the only control action a client may send.
const ActionEndStream = "end_stream"

var ErrUnsupportedType = errors.New("unsupported control message type")

type envelope struct {
	Type string `json:"type"`
}

// ControlMessage is a parsed client text frame.
type ControlMessage struct {
	Type string `json:"type"`
}

// ParseControl parses a client text frame. Malformed JSON and
// unrecognized message types classify as protocol violations; the
// caller reports them without closing the connection.
func ParseControl(raw []byte) (ControlMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ControlMessage{}, fault.Wrap(fmt.Errorf("invalid control frame: %w", err), fault.KindProtocolViolation)
	}
	switch env.Type {
	case ActionEndStream:
		return ControlMessage{Type: env.Type}, nil
	default:
		return ControlMessage{}, fault.Wrap(fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type), fault.KindProtocolViolation)
	}
}

// ValidateAudioFrame checks a client binary frame. Audio content is
// opaque; only emptiness is rejected.
func ValidateAudioFrame(frame []byte) error {
	if len(frame) == 0 {
		return fault.New(fault.KindProtocolViolation, "empty binary frame")
	}
	return nil
}

// ReadyEvent announces the session to the client on connect.
type ReadyEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// TranscriptEvent carries a partial or final recognition hypothesis.
type TranscriptEvent struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

// ErrorEvent reports a failure to the client in human-readable form.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewReady(sessionID string) ReadyEvent {
	return ReadyEvent{Type: TypeReady, SessionID: sessionID}
}

func NewPartial(text string) TranscriptEvent {
	return TranscriptEvent{Type: TypePartial, Text: text}
}

func NewFinal(text string) TranscriptEvent {
	return TranscriptEvent{Type: TypeFinal, Text: text}
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// TypeOf extracts the event type from an outbound message for metrics.
func TypeOf(msg any) (EventType, bool) {
	switch m := msg.(type) {
	case ReadyEvent:
		return m.Type, true
	case TranscriptEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
