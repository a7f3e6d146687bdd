package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/voicegate/voicegate/internal/logging"
	"github.com/voicegate/voicegate/internal/observability"
	"github.com/voicegate/voicegate/internal/protocol"
	"github.com/voicegate/voicegate/internal/store"
	"github.com/voicegate/voicegate/internal/transcribe"
)

// The default prometheus registry rejects duplicate registration, so
// all tests in the package share one Metrics instance.
var testMetrics = observability.NewMetrics("gatewaytest")

type fakeStream struct {
	ctx       context.Context
	results   chan transcribe.Result
	closeSend chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:       ctx,
		results:   make(chan transcribe.Result, 16),
		closeSend: make(chan struct{}),
	}
}

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(audio))
	copy(buf, audio)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.closeOnce.Do(func() { close(f.closeSend) })
	return nil
}

func (f *fakeStream) Recv() (transcribe.Result, error) {
	select {
	case r, ok := <-f.results:
		if !ok {
			return transcribe.Result{}, io.EOF
		}
		return r, nil
	case <-f.ctx.Done():
		return transcribe.Result{}, io.EOF
	}
}

func (f *fakeStream) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) emitPartial(text string) {
	f.results <- transcribe.Result{Text: text}
}

func (f *fakeStream) emitFinal(text string) {
	f.results <- transcribe.Result{Text: text, Final: true}
}

type fakeBackend struct {
	gate    chan struct{}
	openErr error
	streams chan *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{streams: make(chan *fakeStream, 4)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) OpenStream(ctx context.Context, _ transcribe.StreamConfig) (transcribe.BackendStream, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := newFakeStream(ctx)
	b.streams <- s
	return s, nil
}

func (b *fakeBackend) awaitStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-b.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a backend stream to open")
		return nil
	}
}

func testConfig() Config {
	return Config{
		ConnectionTimeout:    time.Minute,
		InactivityTimeout:    time.Minute,
		FinalizationTimeout:  time.Second,
		MaxPendingAudioBytes: 1 << 20,
		Stream:               transcribe.StreamConfig{SampleRateHertz: 16000, LanguageCode: "en-US"},
	}
}

type harness struct {
	svc      *Service
	sess     *Session
	inbound  chan Frame
	outbound chan any
	done     chan struct{}
}

func startHarness(t *testing.T, cfg Config, backend transcribe.Backend, st store.Store) *harness {
	t.Helper()
	svc := NewService(cfg, backend, st, nil, testMetrics, logging.Nop())
	h := &harness{
		svc:      svc,
		sess:     svc.NewSession(),
		inbound:  make(chan Frame, 64),
		outbound: make(chan any, 64),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.sess.Run(context.Background(), h.inbound, h.outbound)
	}()
	t.Cleanup(func() {
		select {
		case <-h.done:
		default:
			close(h.inbound)
			<-h.done
		}
	})
	return h
}

func (h *harness) next(t *testing.T) any {
	t.Helper()
	select {
	case ev, ok := <-h.outbound:
		if !ok {
			t.Fatal("outbound channel closed while waiting for an event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound event")
		return nil
	}
}

func (h *harness) expectClosed(t *testing.T) {
	t.Helper()
	for {
		select {
		case _, ok := <-h.outbound:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the outbound channel to close")
		}
	}
}

func (h *harness) expectReady(t *testing.T) protocol.ReadyEvent {
	t.Helper()
	ev, ok := h.next(t).(protocol.ReadyEvent)
	if !ok {
		t.Fatal("first event was not a ready event")
	}
	if ev.SessionID != h.sess.ID() {
		t.Fatalf("ready sessionId = %q, want %q", ev.SessionID, h.sess.ID())
	}
	return ev
}

func endStreamFrame() Frame {
	return Frame{Text: []byte(`{"type":"end_stream"}`)}
}

func TestReadyEmittedOnConnect(t *testing.T) {
	h := startHarness(t, testConfig(), newFakeBackend(), nil)
	h.expectReady(t)
	if h.svc.Registry().ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", h.svc.Registry().ActiveCount())
	}
}

func TestBufferThenFlushInOrder(t *testing.T) {
	backend := newFakeBackend()
	backend.gate = make(chan struct{})
	h := startHarness(t, testConfig(), backend, nil)
	h.expectReady(t)

	frames := [][]byte{[]byte("a1"), []byte("b2"), []byte("c3"), []byte("d4"), []byte("e5")}
	for _, f := range frames {
		h.inbound <- Frame{Audio: f}
	}
	h.inbound <- endStreamFrame()

	// Nothing may reach the backend before the stream exists.
	close(backend.gate)
	stream := backend.awaitStream(t)

	// end_stream queued behind the flush closes the send side after
	// the last buffered frame.
	select {
	case <-stream.closeSend:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CloseSend")
	}

	sent := stream.sentChunks()
	if len(sent) != len(frames) {
		t.Fatalf("backend received %d chunks, want %d", len(sent), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(sent[i], frames[i]) {
			t.Fatalf("chunk %d = %q, want %q", i, sent[i], frames[i])
		}
	}

	stream.emitFinal("hello world")
	ev, ok := h.next(t).(protocol.TranscriptEvent)
	if !ok || ev.Type != protocol.TypeFinal || ev.Text != "hello world" {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestPartialFinalRelayThenReady(t *testing.T) {
	backend := newFakeBackend()
	st := store.NewInMemoryStore()
	h := startHarness(t, testConfig(), backend, st)
	h.expectReady(t)

	h.inbound <- Frame{Audio: []byte("audio")}
	stream := backend.awaitStream(t)
	stream.emitPartial("hel")
	stream.emitPartial("hello")
	stream.emitFinal("hello world")

	wants := []struct {
		typ  protocol.EventType
		text string
	}{
		{protocol.TypePartial, "hel"},
		{protocol.TypePartial, "hello"},
		{protocol.TypeFinal, "hello world"},
	}
	for i, want := range wants {
		ev, ok := h.next(t).(protocol.TranscriptEvent)
		if !ok {
			t.Fatalf("event %d was not a transcript event", i)
		}
		if ev.Type != want.typ || ev.Text != want.text {
			t.Fatalf("event %d = {%s %q}, want {%s %q}", i, ev.Type, ev.Text, want.typ, want.text)
		}
	}

	// Final settles the utterance and the connection accepts a new
	// one: the next audio frame opens a fresh backend stream.
	h.inbound <- Frame{Audio: []byte("again")}
	second := backend.awaitStream(t)
	if second == stream {
		t.Fatal("expected a fresh backend stream for the follow-up utterance")
	}

	recs, err := st.SessionTranscript(context.Background(), h.sess.ID(), 0)
	if err != nil {
		t.Fatalf("SessionTranscript: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "hello world" {
		t.Fatalf("persisted transcript %#v, want one record %q", recs, "hello world")
	}
}

func TestFinalizationTimeoutKeepsConnectionOpen(t *testing.T) {
	cfg := testConfig()
	cfg.FinalizationTimeout = 40 * time.Millisecond
	backend := newFakeBackend()
	h := startHarness(t, cfg, backend, nil)
	h.expectReady(t)

	h.inbound <- Frame{Audio: []byte("audio")}
	backend.awaitStream(t)
	h.inbound <- endStreamFrame()

	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected an error event, got %#v", ev)
	}

	h.inbound <- Frame{Audio: []byte("retry")}
	backend.awaitStream(t)
}

func TestInactivityTimeoutClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 40 * time.Millisecond
	h := startHarness(t, cfg, newFakeBackend(), nil)
	h.expectReady(t)

	ev, ok := h.next(t).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected an error event, got %#v", ev)
	}
	h.expectClosed(t)
	<-h.done
	if h.svc.Registry().ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after close, want 0", h.svc.Registry().ActiveCount())
	}
}

func TestMalformedControlFrameIsRecoverable(t *testing.T) {
	backend := newFakeBackend()
	h := startHarness(t, testConfig(), backend, nil)
	h.expectReady(t)

	h.inbound <- Frame{Text: []byte("not json at all")}
	if _, ok := h.next(t).(protocol.ErrorEvent); !ok {
		t.Fatal("expected an error event for the malformed frame")
	}

	h.inbound <- Frame{Audio: []byte("audio")}
	backend.awaitStream(t)
}

func TestBackendOpenFailureClosesWithError(t *testing.T) {
	backend := newFakeBackend()
	backend.openErr = errors.New("upstream unavailable")
	h := startHarness(t, testConfig(), backend, nil)
	h.expectReady(t)

	h.inbound <- Frame{Audio: []byte("audio")}
	if _, ok := h.next(t).(protocol.ErrorEvent); !ok {
		t.Fatal("expected an error event after the backend refused the stream")
	}
	h.expectClosed(t)
}

func TestPendingBufferOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingAudioBytes = 8
	backend := newFakeBackend()
	backend.gate = make(chan struct{})
	defer close(backend.gate)
	h := startHarness(t, cfg, backend, nil)
	h.expectReady(t)

	h.inbound <- Frame{Audio: []byte("12345")}
	h.inbound <- Frame{Audio: []byte("67890")}
	if _, ok := h.next(t).(protocol.ErrorEvent); !ok {
		t.Fatal("expected an error event on buffer overflow")
	}
	h.expectClosed(t)
}

func TestOutboundDropIsCounted(t *testing.T) {
	svc := NewService(testConfig(), newFakeBackend(), nil, nil, testMetrics, logging.Nop())
	s := svc.NewSession()
	defer svc.Registry().Remove(s.ID())

	// No reader on an unbuffered channel, so every send overflows.
	outbound := make(chan any)
	before := testutil.ToFloat64(testMetrics.DroppedEvents.WithLabelValues("gateway"))
	s.send(outbound, protocol.NewReady(s.ID()))
	after := testutil.ToFloat64(testMetrics.DroppedEvents.WithLabelValues("gateway"))
	if after != before+1 {
		t.Fatalf("dropped events counter = %v, want %v", after, before+1)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h := startHarness(t, testConfig(), newFakeBackend(), nil)
	h.expectReady(t)

	close(h.inbound)
	h.expectClosed(t)
	<-h.done
	if h.svc.Registry().ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after disconnect, want 0", h.svc.Registry().ActiveCount())
	}
}
