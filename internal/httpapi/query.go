package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voicegate/voicegate/internal/fault"
)

// Responder turns the user's text into the reply text that gets
// spoken back. The default echoes the input; a deployment plugs in
// its own dialogue layer here.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// EchoResponder replies with the input verbatim.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, text string) (string, error) {
	return text, nil
}

type queryRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

type queryMetadata struct {
	HasAudio       bool   `json:"hasAudio"`
	SynthesisError string `json:"synthesisError,omitempty"`
	VoiceID        string `json:"voiceId,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
	LatencyMs      int64  `json:"latencyMs"`
}

type queryResponse struct {
	Success  bool          `json:"success"`
	Text     string        `json:"text"`
	Audio    *string       `json:"audio"`
	Duration *float64      `json:"duration"`
	Metadata queryMetadata `json:"metadata"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "request body must be JSON with a text field")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required and must not be empty")
		return
	}
	if len(req.Text) > s.cfg.MaxQueryTextLen {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("text exceeds the %d character limit", s.cfg.MaxQueryTextLen))
		return
	}

	reply, err := s.responder.Respond(r.Context(), req.Text)
	if err != nil {
		s.log.Error().Err(err).Msg("responder failed")
		respondError(w, http.StatusInternalServerError, "failed to produce a response")
		return
	}

	resp := queryResponse{
		Success: true,
		Text:    reply,
		Metadata: queryMetadata{
			VoiceID: req.VoiceID,
		},
	}

	// A synthesis failure degrades to a text-only response rather
	// than failing the whole request.
	res, err := s.synth.Synthesize(r.Context(), reply, req.VoiceID)
	if err != nil {
		if fault.Has(err, fault.KindInvalidInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Warn().Err(err).Msg("synthesis failed, returning text only")
		resp.Metadata.SynthesisError = err.Error()
	} else {
		uri := dataURI(res.Format, res.AudioPayload)
		resp.Audio = &uri
		resp.Duration = &res.EstimatedDurationSeconds
		resp.Metadata.HasAudio = true
		resp.Metadata.VoiceID = res.VoiceID
		resp.Metadata.Truncated = res.Truncated
	}

	resp.Metadata.LatencyMs = time.Since(start).Milliseconds()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryTest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := s.synth.Synthesize(r.Context(), "Voice gateway synthesis test successful.", "")
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"backend": s.synth.BackendName(),
			"error":   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"backend":    s.synth.BackendName(),
		"format":     res.Format,
		"audioBytes": len(res.AudioPayload),
		"duration":   res.EstimatedDurationSeconds,
		"latencyMs":  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleVoiceInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"backend":        s.synth.BackendName(),
		"defaultVoiceId": s.synth.DefaultVoiceID(),
		"maxTextLength":  s.cfg.MaxSynthesisTextLen,
		"bitrateKbps":    s.cfg.SynthesisBitrateKbps,
	})
}

func dataURI(format string, payload []byte) string {
	mime := "audio/" + format
	if format == "mp3" {
		mime = "audio/mpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
