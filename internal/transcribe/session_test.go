package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/fault"
)

type recvStep struct {
	res Result
	err error
}

type fakeStream struct {
	ctx context.Context

	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	closeOnce   sync.Once
	closeSendCh chan struct{}
	steps       chan recvStep
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:         ctx,
		closeSendCh: make(chan struct{}),
		steps:       make(chan recvStep, 16),
	}
}

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.closeOnce.Do(func() { close(f.closeSendCh) })
	return nil
}

func (f *fakeStream) Recv() (Result, error) {
	select {
	case s, ok := <-f.steps:
		if !ok {
			return Result{}, io.EOF
		}
		return s.res, s.err
	case <-f.ctx.Done():
		return Result{}, f.ctx.Err()
	}
}

func (f *fakeStream) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) emitPartial(text string) { f.steps <- recvStep{res: Result{Text: text}} }
func (f *fakeStream) emitFinal(text string)   { f.steps <- recvStep{res: Result{Text: text, Final: true}} }
func (f *fakeStream) emitErr(err error)       { f.steps <- recvStep{err: err} }
func (f *fakeStream) finish()                 { close(f.steps) }

type fakeBackend struct {
	openErr error
	streams chan *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{streams: make(chan *fakeStream, 4)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) OpenStream(ctx context.Context, _ StreamConfig) (BackendStream, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	fs := newFakeStream(ctx)
	b.streams <- fs
	return fs, nil
}

func startSession(t *testing.T, backend Backend, window time.Duration) *Session {
	t.Helper()
	s := NewSession("u1", backend, StreamConfig{SampleRateHertz: 16000, LanguageCode: "en-US"}, window, zerolog.Nop())
	s.Start(context.Background())
	t.Cleanup(s.Cleanup)
	return s
}

func awaitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case err := <-s.Ready():
		if err != nil {
			t.Fatalf("session failed to start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("session never became ready")
	}
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event within deadline")
	}
	return Event{}
}

func TestSessionOpenFailureReportedOnReady(t *testing.T) {
	backend := newFakeBackend()
	backend.openErr = errors.New("credentials missing")
	s := startSession(t, backend, time.Second)

	select {
	case err := <-s.Ready():
		if !fault.Has(err, fault.KindTranscriptionBackend) {
			t.Fatalf("ready error kind = %q, want transcription backend", fault.KindOf(err))
		}
	case <-time.After(time.Second):
		t.Fatalf("ready never reported the open failure")
	}

	if _, ok := <-s.Events(); ok {
		t.Fatalf("events should be closed after an open failure")
	}
}

func TestSessionRelaysEventsInBackendOrder(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, time.Second)
	awaitReady(t, s)
	fs := <-backend.streams

	fs.emitPartial("hel")
	fs.emitPartial("hello")
	fs.emitFinal("hello world")
	fs.finish()

	want := []Event{
		{Type: EventPartial, Text: "hel"},
		{Type: EventPartial, Text: "hello"},
		{Type: EventFinal, Text: "hello world"},
	}
	for i, w := range want {
		ev := nextEvent(t, s)
		if ev.Type != w.Type || ev.Text != w.Text {
			t.Fatalf("event %d = %+v, want %+v", i, ev, w)
		}
	}

	if _, ok := <-s.Events(); ok {
		t.Fatalf("events should close after stream EOF")
	}
}

func TestSessionDrainsBridgeBeforeCloseSend(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, time.Second)
	awaitReady(t, s)
	fs := <-backend.streams

	s.SendAudio([]byte{1})
	s.SendAudio([]byte{2})
	s.SendAudio([]byte{3})
	s.EndStream()

	select {
	case <-fs.closeSendCh:
	case <-time.After(time.Second):
		t.Fatalf("CloseSend never reached the backend")
	}

	sent := fs.sentChunks()
	if len(sent) != 3 {
		t.Fatalf("backend received %d chunks, want 3", len(sent))
	}
	for i, chunk := range sent {
		if chunk[0] != byte(i+1) {
			t.Fatalf("chunk %d = %v, out of order", i, chunk)
		}
	}

	fs.emitFinal("done")
	fs.finish()
	if ev := nextEvent(t, s); ev.Type != EventFinal {
		t.Fatalf("event = %+v, want final", ev)
	}
}

func TestSessionFinalizationTimeout(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, 30*time.Millisecond)
	awaitReady(t, s)
	<-backend.streams

	s.EndStream()

	ev := nextEvent(t, s)
	if ev.Type != EventError {
		t.Fatalf("event = %+v, want error", ev)
	}
	if !fault.Has(ev.Err, fault.KindFinalizationTimeout) {
		t.Fatalf("error kind = %q, want finalization timeout", fault.KindOf(ev.Err))
	}
}

func TestFinalStopsFinalizationTimer(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, 50*time.Millisecond)
	awaitReady(t, s)
	fs := <-backend.streams

	s.EndStream()
	fs.emitFinal("hello")
	fs.finish()

	if ev := nextEvent(t, s); ev.Type != EventFinal || ev.Text != "hello" {
		t.Fatalf("event = %+v, want final hello", ev)
	}

	// Let the finalization window elapse; no timeout error may follow.
	time.Sleep(100 * time.Millisecond)
	select {
	case ev, ok := <-s.Events():
		if ok {
			t.Fatalf("unexpected event after final: %+v", ev)
		}
	default:
		t.Fatalf("events channel should be closed after stream EOF")
	}
}

func TestSessionBackendErrorClassified(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, time.Second)
	awaitReady(t, s)
	fs := <-backend.streams

	fs.emitErr(errors.New("stream reset"))

	ev := nextEvent(t, s)
	if ev.Type != EventError || !fault.Has(ev.Err, fault.KindTranscriptionBackend) {
		t.Fatalf("event = %+v, want backend error", ev)
	}
}

func TestSendAudioBeforeReadyIsDropped(t *testing.T) {
	backend := newFakeBackend()
	s := NewSession("u1", backend, StreamConfig{}, time.Second, zerolog.Nop())
	// Not started: must warn-drop, never panic or queue.
	s.SendAudio([]byte{9})
	if s.bridge.Len() != 0 {
		t.Fatalf("inactive session must not queue audio")
	}
}

func TestSendAudioAfterEndStreamIsDropped(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, time.Second)
	awaitReady(t, s)
	fs := <-backend.streams

	s.EndStream()
	s.SendAudio([]byte{9})

	select {
	case <-fs.closeSendCh:
	case <-time.After(time.Second):
		t.Fatalf("CloseSend never reached the backend")
	}
	if got := fs.sentChunks(); len(got) != 0 {
		t.Fatalf("audio after EndStream must not reach the backend, got %d chunks", len(got))
	}
}

func TestCleanupIdempotent(t *testing.T) {
	backend := newFakeBackend()
	s := startSession(t, backend, time.Second)
	awaitReady(t, s)
	<-backend.streams

	s.Cleanup()
	s.Cleanup()
	s.EndStream() // after cleanup: no-op
	s.Cleanup()
}

func TestDropHookFiresWhenEventsSaturated(t *testing.T) {
	s := NewSession("u1", newFakeBackend(), StreamConfig{}, time.Second, zerolog.Nop())
	var drops int
	s.OnDrop(func() { drops++ })

	// Nothing consumes Events, so emits past the channel capacity are
	// dropped and each drop must be reported.
	overflow := 5
	for i := 0; i < cap(s.events)+overflow; i++ {
		s.emit(Event{Type: EventPartial, Text: "x"})
	}
	if drops != overflow {
		t.Fatalf("drop hook fired %d times, want %d", drops, overflow)
	}
}
