package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/fault"
)

// EventType classifies events relayed to the session owner.
type EventType string

const (
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
)

// Event is an immutable value emitted by a Session. Err is set only
// for EventError.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Session owns one live stream to the remote ASR backend for one
// utterance. It is not reused: the owner creates a fresh Session for a
// follow-up utterance.
//
// Lifecycle: Start launches the backend stream asynchronously and
// reports readiness (or failure) on Ready. Audio flows through the
// bridge; EndStream closes the bridge for writes and arms the
// finalization timer. Events closes once the stream terminates.
type Session struct {
	id      string
	backend Backend
	cfg     StreamConfig
	window  time.Duration
	log     zerolog.Logger

	bridge *bridge
	events chan Event
	ready  chan error
	cancel context.CancelFunc
	onDrop func()

	mu           sync.Mutex
	started      bool
	active       bool
	ended        bool
	finalSeen    bool
	cleaned      bool
	eventsClosed bool
	finalTimer   *time.Timer
}

// NewSession builds a Session for a single utterance. window bounds
// the wait for a final transcript after EndStream.
func NewSession(id string, backend Backend, cfg StreamConfig, window time.Duration, log zerolog.Logger) *Session {
	return &Session{
		id:      id,
		backend: backend,
		cfg:     cfg,
		window:  window,
		log:     log.With().Str("utteranceId", id).Logger(),
		bridge:  newBridge(),
		events:  make(chan Event, 256),
		ready:   make(chan error, 1),
	}
}

func (s *Session) ID() string { return s.id }

// OnDrop registers a callback invoked whenever an event is lost to a
// saturated events channel. Call before Start.
func (s *Session) OnDrop(fn func()) { s.onDrop = fn }

// Ready yields exactly one value: nil once the backend stream is open,
// or the classified open failure.
func (s *Session) Ready() <-chan error { return s.ready }

// Events yields backend hypotheses in emission order. Closed when the
// stream terminates for any reason.
func (s *Session) Events() <-chan Event { return s.events }

// Active reports whether the backend stream is open and accepting
// audio.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.ended
}

// Start opens the backend stream in its own goroutine. It never
// blocks; completion or failure is reported via Ready and Events.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

func (s *Session) run(ctx context.Context) {
	stream, err := s.backend.OpenStream(ctx, s.cfg)
	if err != nil {
		s.log.Error().Err(err).Str("backend", s.backend.Name()).Msg("open recognition stream failed")
		s.ready <- fault.Wrap(err, fault.KindTranscriptionBackend)
		s.closeEvents()
		return
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.ready <- nil
	s.log.Debug().Str("backend", s.backend.Name()).Msg("recognition stream open")

	go s.pump(ctx, stream)

	for {
		res, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			s.emit(Event{Type: EventError, Err: fault.Wrap(err, fault.KindTranscriptionBackend)})
			break
		}
		if res.Final {
			s.markFinal()
			s.emit(Event{Type: EventFinal, Text: res.Text})
		} else {
			s.emit(Event{Type: EventPartial, Text: res.Text})
		}
	}

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.closeEvents()
}

// pump drains the bridge into the backend stream. It signals
// end-of-stream to the backend only after the bridge is fully drained.
func (s *Session) pump(ctx context.Context, stream BackendStream) {
	for {
		chunk, err := s.bridge.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := stream.CloseSend(); err != nil {
				s.log.Warn().Err(err).Msg("close-send to backend failed")
			}
			return
		}
		if err != nil {
			return
		}
		if err := stream.Send(chunk); err != nil {
			// The recv loop surfaces the stream failure.
			s.log.Warn().Err(err).Msg("send audio to backend failed")
			return
		}
	}
}

// SendAudio appends a chunk to the bridge. Callers are responsible for
// buffering before the session is ready; audio sent to an inactive or
// ended session is dropped with a warning.
func (s *Session) SendAudio(chunk []byte) {
	s.mu.Lock()
	accepting := s.active && !s.ended
	s.mu.Unlock()
	if !accepting {
		s.log.Warn().Int("bytes", len(chunk)).Msg("audio ignored: session not accepting input")
		return
	}
	s.bridge.Push(chunk)
}

// EndStream signals end-of-input and arms the finalization timer. No
// further audio may be pushed; already-queued chunks still drain to
// the backend.
func (s *Session) EndStream() {
	s.mu.Lock()
	if s.ended || s.cleaned {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.finalTimer = time.AfterFunc(s.window, s.onFinalizationTimeout)
	s.mu.Unlock()

	s.bridge.CloseWrite()
}

func (s *Session) onFinalizationTimeout() {
	s.mu.Lock()
	if s.finalSeen || s.cleaned || s.eventsClosed {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.emit(Event{Type: EventError, Err: fault.New(fault.KindFinalizationTimeout, "no final transcript within finalization window")})
	if cancel != nil {
		cancel()
	}
}

// Cleanup cancels the finalization timer, detaches the bridge and
// tears down the backend stream. Safe to call multiple times and after
// failure.
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	s.cleaned = true
	if s.finalTimer != nil {
		s.finalTimer.Stop()
	}
	s.active = false
	cancel := s.cancel
	s.mu.Unlock()

	s.bridge.CloseWrite()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) markFinal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalSeen = true
	if s.finalTimer != nil {
		s.finalTimer.Stop()
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Keep relay non-blocking; a saturated owner loses events
		// rather than stalling the backend stream.
		if s.onDrop != nil {
			s.onDrop()
		}
		s.log.Error().Str("type", string(ev.Type)).Msg("event channel saturated, dropping event")
	}
}

func (s *Session) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}
