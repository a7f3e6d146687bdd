package transcribe

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockBackend is a local fallback recognizer used when no cloud
// credentials are configured. It emits a deterministic partial while
// audio streams in and a synthetic final once input ends.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) OpenStream(_ context.Context, _ StreamConfig) (BackendStream, error) {
	return &mockStream{results: make(chan Result, 64)}, nil
}

type mockStream struct {
	mu     sync.Mutex
	chunks int
	bytes  int
	closed bool

	results chan Result
}

func (s *mockStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	s.chunks++
	s.bytes += len(audio)
	if s.chunks%5 == 0 {
		s.push(Result{Text: fmt.Sprintf("listening (%d bytes)", s.bytes)})
	}
	return nil
}

func (s *mockStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.push(Result{Text: fmt.Sprintf("simulated transcript (%d bytes)", s.bytes), Final: true})
	close(s.results)
	return nil
}

func (s *mockStream) Recv() (Result, error) {
	res, ok := <-s.results
	if !ok {
		return Result{}, io.EOF
	}
	return res, nil
}

func (s *mockStream) push(res Result) {
	select {
	case s.results <- res:
	default:
	}
}
