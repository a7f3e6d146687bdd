package synthesis

import (
	"context"

	"github.com/voicegate/voicegate/internal/audio"
)

// MockBackend produces silent WAV audio sized to the text, for local
// development without TTS credentials.
type MockBackend struct {
	SampleRate int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{SampleRate: 16000}
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Synthesize(_ context.Context, text, _ string) ([]byte, string, error) {
	// Roughly 60ms of silence per character, mono PCM16.
	samples := len(text) * b.SampleRate * 60 / 1000
	pcm := make([]byte, samples*2)
	wav, err := audio.EncodeWAVPCM16LE(pcm, b.SampleRate)
	if err != nil {
		return nil, "", err
	}
	return wav, "wav", nil
}
