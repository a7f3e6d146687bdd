// Package gateway owns the per-connection lifecycle: the state
// machine, the timers, the audio buffer that covers transcription
// session startup, and the relay of transcript events to the client.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/fault"
	"github.com/voicegate/voicegate/internal/logging"
	"github.com/voicegate/voicegate/internal/observability"
	"github.com/voicegate/voicegate/internal/protocol"
	"github.com/voicegate/voicegate/internal/store"
	"github.com/voicegate/voicegate/internal/transcribe"
)

// Frame is one inbound websocket message. Exactly one of Audio or
// Text is set.
type Frame struct {
	Audio []byte
	Text  []byte
}

// TranscriptPublisher pushes transcript events to downstream
// consumers outside the websocket.
type TranscriptPublisher interface {
	PublishPartial(ctx context.Context, sessionID, text string) error
	PublishFinal(ctx context.Context, sessionID, text string) error
}

// Config holds the per-connection behavior knobs.
type Config struct {
	ConnectionTimeout    time.Duration
	InactivityTimeout    time.Duration
	FinalizationTimeout  time.Duration
	MaxPendingAudioBytes int
	Stream               transcribe.StreamConfig
}

// Session drives one client connection. All of its fields are owned
// by the single goroutine running Run; the transcription session's
// goroutines communicate with it only through channels.
type Session struct {
	id        string
	cfg       Config
	backend   transcribe.Backend
	store     store.Store
	publisher TranscriptPublisher
	metrics   *observability.Metrics
	registry  *Registry
	log       zerolog.Logger

	state        State
	ts           *transcribe.Session
	tsReady      <-chan error
	tsEvents     <-chan transcribe.Event
	pending      [][]byte
	pendingBytes int
	pendingEnd   bool

	lifetime   *time.Timer
	inactivity *time.Timer
}

// Run processes the connection until the client disconnects, a
// timeout fires, or a fatal error occurs. It closes outbound on
// return so the transport writer can shut down.
func (s *Session) Run(ctx context.Context, inbound <-chan Frame, outbound chan<- any) {
	defer close(outbound)
	defer s.teardown()

	s.metrics.ActiveSessions.Inc()
	s.metrics.SessionEvents.WithLabelValues("connected").Inc()
	s.log.Info().Msg("connection session started")

	s.lifetime = time.NewTimer(s.cfg.ConnectionTimeout)
	s.inactivity = time.NewTimer(s.cfg.InactivityTimeout)

	s.send(outbound, protocol.NewReady(s.id))
	s.transition(StateReady)

	for s.state != StateClosed {
		select {
		case frame, ok := <-inbound:
			if !ok {
				s.log.Info().Msg("client disconnected")
				s.transition(StateClosed)
				return
			}
			if frame.Text != nil {
				s.handleText(outbound, frame.Text)
			} else {
				s.handleAudio(outbound, frame.Audio)
			}

		case err := <-s.tsReady:
			s.onTranscriptionReady(outbound, err)

		case ev, ok := <-s.tsEvents:
			if !ok {
				s.onTranscriptionGone(outbound)
				continue
			}
			s.onTranscriptEvent(ctx, outbound, ev)

		case <-s.lifetime.C:
			s.fail(outbound, fault.New(fault.KindConnectionTimeout, "connection duration limit reached"))

		case <-s.inactivity.C:
			s.fail(outbound, fault.New(fault.KindInactivityTimeout, "no audio received within the inactivity window"))

		case <-ctx.Done():
			s.log.Info().Msg("server shutting down, closing connection")
			s.transition(StateClosed)
			return
		}
	}
}

// ID returns the connection session id sent to the client in the
// ready event.
func (s *Session) ID() string { return s.id }

func (s *Session) handleAudio(outbound chan<- any, chunk []byte) {
	s.metrics.WSMessages.WithLabelValues("in", "binary").Inc()
	if err := protocol.ValidateAudioFrame(chunk); err != nil {
		s.send(outbound, protocol.NewError(err.Error()))
		return
	}
	s.resetInactivity()

	switch s.state {
	case StateReady:
		if s.pendingEnd {
			s.log.Warn().Msg("audio frame after end_stream, dropping")
			return
		}
		if s.ts == nil {
			s.startTranscription()
		}
		s.buffer(outbound, chunk)
	case StateStreaming:
		s.ts.SendAudio(chunk)
	case StateEnding:
		s.log.Warn().Msg("audio frame after end_stream, dropping")
	default:
		s.log.Warn().Stringer("state", s.state).Msg("audio frame in unexpected state, dropping")
	}
}

func (s *Session) handleText(outbound chan<- any, raw []byte) {
	s.metrics.WSMessages.WithLabelValues("in", "text").Inc()
	msg, err := protocol.ParseControl(raw)
	if err != nil {
		// Malformed frames are recoverable, the connection stays open.
		s.log.Warn().Err(err).Msg("protocol violation")
		s.send(outbound, protocol.NewError(err.Error()))
		return
	}

	switch msg.Type {
	case protocol.ActionEndStream:
		s.handleEndStream()
	default:
		s.send(outbound, protocol.NewError(fmt.Sprintf("unsupported control message %q", msg.Type)))
	}
}

func (s *Session) handleEndStream() {
	switch s.state {
	case StateReady:
		if s.ts == nil {
			s.log.Warn().Msg("end_stream with no audio streamed, ignoring")
			return
		}
		// Session still initializing. Remember the end signal and
		// apply it after the pending audio has been flushed.
		s.pendingEnd = true
	case StateStreaming:
		s.ts.EndStream()
		s.transition(StateEnding)
	case StateEnding:
		s.log.Warn().Msg("duplicate end_stream, ignoring")
	default:
		s.log.Warn().Stringer("state", s.state).Msg("end_stream in unexpected state, ignoring")
	}
}

// startTranscription begins asynchronous creation of the utterance's
// backend stream. There is never more than one transcription session
// per connection in the active-or-initializing state.
func (s *Session) startTranscription() {
	ts := transcribe.NewSession(s.id, s.backend, s.cfg.Stream, s.cfg.FinalizationTimeout,
		logging.Component(s.log, "transcribe"))
	ts.OnDrop(func() {
		s.metrics.DroppedEvents.WithLabelValues("transcribe").Inc()
	})
	ts.Start(context.Background())
	s.ts = ts
	s.tsReady = ts.Ready()
	s.metrics.SessionEvents.WithLabelValues("utterance_started").Inc()
	s.log.Debug().Msg("transcription session initializing")
}

// buffer queues audio that arrived before the transcription session
// became ready. Frames are flushed in arrival order once it is.
func (s *Session) buffer(outbound chan<- any, chunk []byte) {
	if s.pendingBytes+len(chunk) > s.cfg.MaxPendingAudioBytes {
		s.fail(outbound, fault.New(fault.KindTranscriptionBackend,
			"audio buffer overflow while transcription session was starting"))
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.pending = append(s.pending, buf)
	s.pendingBytes += len(buf)
}

func (s *Session) onTranscriptionReady(outbound chan<- any, err error) {
	s.tsReady = nil
	if err != nil {
		s.fail(outbound, err)
		return
	}

	s.metrics.PendingFlushSize.Observe(float64(len(s.pending)))
	for _, chunk := range s.pending {
		s.ts.SendAudio(chunk)
	}
	s.pending = nil
	s.pendingBytes = 0
	s.tsEvents = s.ts.Events()
	s.transition(StateStreaming)

	if s.pendingEnd {
		s.pendingEnd = false
		s.ts.EndStream()
		s.transition(StateEnding)
	}
}

func (s *Session) onTranscriptEvent(ctx context.Context, outbound chan<- any, ev transcribe.Event) {
	switch ev.Type {
	case transcribe.EventPartial:
		s.metrics.TranscriptEvents.WithLabelValues("partial").Inc()
		s.send(outbound, protocol.NewPartial(ev.Text))
		if s.publisher != nil {
			if err := s.publisher.PublishPartial(ctx, s.id, ev.Text); err != nil {
				s.log.Warn().Err(err).Msg("partial transcript publish failed")
			}
		}

	case transcribe.EventFinal:
		s.metrics.TranscriptEvents.WithLabelValues("final").Inc()
		s.send(outbound, protocol.NewFinal(ev.Text))
		s.persistFinal(ctx, ev.Text)
		s.releaseTranscription()
		s.transition(StateReady)

	case transcribe.EventError:
		if fault.Has(ev.Err, fault.KindFinalizationTimeout) {
			// The utterance is abandoned but the connection stays
			// open for a follow-up.
			s.metrics.BackendErrors.WithLabelValues("asr", string(fault.KindFinalizationTimeout)).Inc()
			s.send(outbound, protocol.NewError(ev.Err.Error()))
			s.releaseTranscription()
			s.transition(StateReady)
			return
		}
		s.fail(outbound, ev.Err)
	}
}

// onTranscriptionGone handles the backend stream terminating without
// a final transcript and without a reported error.
func (s *Session) onTranscriptionGone(outbound chan<- any) {
	s.tsEvents = nil
	if s.ts == nil {
		return
	}
	switch s.state {
	case StateEnding:
		s.send(outbound, protocol.NewError("transcription ended without a final transcript"))
		s.releaseTranscription()
		s.transition(StateReady)
	case StateStreaming:
		s.fail(outbound, fault.New(fault.KindTranscriptionBackend, "transcription stream closed unexpectedly"))
	default:
		s.releaseTranscription()
	}
}

func (s *Session) persistFinal(ctx context.Context, text string) {
	if s.store != nil {
		rec := store.UtteranceRecord{SessionID: s.id, Text: text}
		if err := s.store.SaveUtterance(ctx, rec); err != nil {
			s.log.Warn().Err(err).Msg("transcript persist failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinal(ctx, s.id, text); err != nil {
			s.log.Warn().Err(err).Msg("final transcript publish failed")
		}
	}
}

// fail emits a client-visible error event and tears the connection
// down. Every fatal path goes through here so the client always
// learns why before the socket closes.
func (s *Session) fail(outbound chan<- any, err error) {
	kind := fault.KindOf(err)
	s.metrics.BackendErrors.WithLabelValues("gateway", string(kind)).Inc()
	s.log.Error().Err(err).Str("kind", string(kind)).Msg("connection failed")
	s.transition(StateErrored)
	s.send(outbound, protocol.NewError(err.Error()))
	s.transition(StateClosed)
}

func (s *Session) teardown() {
	if s.lifetime != nil {
		s.lifetime.Stop()
	}
	if s.inactivity != nil {
		s.inactivity.Stop()
	}
	s.releaseTranscription()
	if s.state != StateClosed {
		s.state = StateClosed
	}
	if s.registry != nil {
		s.registry.Remove(s.id)
	}
	s.metrics.ActiveSessions.Dec()
	s.metrics.SessionEvents.WithLabelValues("closed").Inc()
	s.log.Info().Msg("connection session closed")
}

// releaseTranscription drops the current transcription session, if
// any. Safe to call repeatedly.
func (s *Session) releaseTranscription() {
	if s.ts == nil {
		return
	}
	s.ts.Cleanup()
	s.ts = nil
	s.tsReady = nil
	s.tsEvents = nil
	s.pending = nil
	s.pendingBytes = 0
	s.pendingEnd = false
}

func (s *Session) resetInactivity() {
	if !s.inactivity.Stop() {
		select {
		case <-s.inactivity.C:
		default:
		}
	}
	s.inactivity.Reset(s.cfg.InactivityTimeout)
}

// send writes to the outbound channel without blocking the state
// machine. A full channel means the client is not draining; the
// message is dropped rather than stalling the connection loop.
func (s *Session) send(outbound chan<- any, msg any) {
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues("out", string(t)).Inc()
	}
	select {
	case outbound <- msg:
	default:
		s.metrics.DroppedEvents.WithLabelValues("gateway").Inc()
		s.log.Error().Msg("outbound channel full, dropping event")
	}
}

func (s *Session) transition(next State) {
	if !s.state.CanTransition(next) {
		s.log.Warn().
			Stringer("from", s.state).
			Stringer("to", next).
			Msg("irregular state transition")
	}
	s.log.Debug().Stringer("from", s.state).Stringer("to", next).Msg("state change")
	s.state = next
}
