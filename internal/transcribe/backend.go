// Package transcribe owns the streaming transcription session: it
// bridges push-based audio delivery into a pull-based backend stream
// and relays partial/final hypotheses back to the owner in order.
package transcribe

import "context"

// StreamConfig describes the audio the backend will receive.
type StreamConfig struct {
	SampleRateHertz int
	LanguageCode    string
}

// Result is one hypothesis from the backend stream.
type Result struct {
	Text  string
	Final bool
}

// BackendStream is one live recognition stream. Recv returns io.EOF
// when the backend has finished cleanly after CloseSend.
type BackendStream interface {
	Send(audio []byte) error
	CloseSend() error
	Recv() (Result, error)
}

// Backend abstracts the remote streaming speech-recognition service.
type Backend interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (BackendStream, error)
	Name() string
}
