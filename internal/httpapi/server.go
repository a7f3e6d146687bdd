// Package httpapi exposes the gateway over HTTP: the websocket audio
// endpoint, the synthesis query surface, transcript retrieval, health
// and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/config"
	"github.com/voicegate/voicegate/internal/gateway"
	"github.com/voicegate/voicegate/internal/observability"
	"github.com/voicegate/voicegate/internal/synthesis"
)

type Server struct {
	cfg       config.Config
	gateway   *gateway.Service
	synth     *synthesis.Adapter
	responder Responder
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
	log       zerolog.Logger
	started   time.Time
}

func New(cfg config.Config, gw *gateway.Service, synth *synthesis.Adapter, responder Responder, metrics *observability.Metrics, log zerolog.Logger) *Server {
	if responder == nil {
		responder = EchoResponder{}
	}
	return &Server{
		cfg:       cfg,
		gateway:   gw,
		synth:     synth,
		responder: responder,
		metrics:   metrics,
		log:       log,
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin
				// unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)
	r.Get("/sessions/{id}/transcript", s.handleTranscript)

	r.Post("/query", s.handleQuery)
	r.Get("/query/test", s.handleQueryTest)
	r.Get("/query/voice-info", s.handleVoiceInfo)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

// handleWS upgrades the connection and runs the session loop. The
// socket has one reader (this goroutine) and one writer goroutine;
// the session state machine talks to both only through channels.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.gateway.NewSession()
	log := s.log.With().Str("session_id", sess.ID()).Logger()

	inbound := make(chan gateway.Frame, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sess.Run(ctx, inbound, outbound)
	}()

	// The session loop owns outbound and closes it on exit. Whatever
	// ends the writer, the transport must come down with it so the
	// reader never sits on a dead session.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer func() {
			cancel()
			_ = conn.Close()
		}()
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
				return
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var frame gateway.Frame
		switch msgType {
		case websocket.BinaryMessage:
			frame = gateway.Frame{Audio: data}
		case websocket.TextMessage:
			frame = gateway.Frame{Text: data}
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- frame:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	log.Debug().Msg("websocket handler finished")
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session id")
		return
	}
	st := s.gateway.Store()
	if st == nil {
		respondError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := st.SessionTranscript(r.Context(), id, limit)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("transcript lookup failed")
		respondError(w, http.StatusInternalServerError, "transcript lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId":  id,
		"utterances": records,
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
