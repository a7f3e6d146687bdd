// Package fault classifies gateway errors into the kinds the wire
// protocol and the HTTP surface report to clients.
package fault

import "errors"

// Kind is a short machine-readable error classification.
type Kind string

const (
	KindUnknown Kind = "unknown"

	// KindProtocolViolation marks a malformed client frame. Recoverable:
	// the connection stays open.
	KindProtocolViolation Kind = "protocol_violation"

	// KindTranscriptionBackend marks a remote ASR failure. Fatal to the
	// current utterance and the connection.
	KindTranscriptionBackend Kind = "transcription_backend_error"

	// KindFinalizationTimeout marks a missing final transcript after
	// end-of-audio was signalled.
	KindFinalizationTimeout Kind = "finalization_timeout"

	KindInactivityTimeout Kind = "inactivity_timeout"
	KindConnectionTimeout Kind = "connection_timeout"

	KindInvalidInput    Kind = "invalid_input"
	KindSynthesisFailed Kind = "synthesis_failed"
)

// Error pairs an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error from a plain message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Wrap attaches a kind to err. A nil err stays nil; an already
// classified err keeps its original kind.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Has reports whether err carries the given kind.
func Has(err error, kind Kind) bool {
	return KindOf(err) == kind
}
