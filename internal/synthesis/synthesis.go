// Package synthesis wraps a request/response text-to-speech backend:
// validate and truncate the text, make one backend call, estimate the
// audio duration from the payload size.
package synthesis

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/fault"
	"github.com/voicegate/voicegate/internal/observability"
)

// TruncationMarker is appended when input text exceeds the synthesis
// length limit.
const TruncationMarker = "..."

// Backend produces encoded audio for a piece of text. It returns the
// payload and a short format tag such as "mp3" or "wav".
type Backend interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error)
	Name() string
}

// Config holds the adapter knobs.
type Config struct {
	MaxTextLen     int
	DefaultVoiceID string
	BitrateKbps    int
}

// Result is a completed synthesis.
type Result struct {
	AudioPayload             []byte
	Format                   string
	EstimatedDurationSeconds float64
	Truncated                bool
	VoiceID                  string
}

// Adapter is the stateless synthesis front. Safe for concurrent use.
type Adapter struct {
	backend Backend
	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewAdapter(backend Backend, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Adapter {
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 128
	}
	return &Adapter{backend: backend, cfg: cfg, metrics: metrics, log: log}
}

// BackendName reports which backend the adapter speaks to.
func (a *Adapter) BackendName() string { return a.backend.Name() }

// DefaultVoiceID reports the voice used when the caller does not pick one.
func (a *Adapter) DefaultVoiceID() string { return a.cfg.DefaultVoiceID }

// Synthesize validates text, truncates it to the configured limit and
// performs exactly one backend call. Empty input fails before any
// backend traffic.
func (a *Adapter) Synthesize(ctx context.Context, text, voiceID string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fault.New(fault.KindInvalidInput, "synthesis text is empty")
	}
	if voiceID == "" {
		voiceID = a.cfg.DefaultVoiceID
	}

	truncated := false
	if a.cfg.MaxTextLen > 0 && len(text) > a.cfg.MaxTextLen {
		// Cut on a rune boundary so the backend never sees a split
		// multibyte sequence.
		cut := a.cfg.MaxTextLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + TruncationMarker
		truncated = true
		a.log.Debug().Int("limit", a.cfg.MaxTextLen).Msg("synthesis text truncated")
	}

	start := time.Now()
	payload, format, err := a.backend.Synthesize(ctx, text, voiceID)
	elapsed := time.Since(start)
	if err != nil {
		a.observe("failure", elapsed)
		return Result{}, fault.Wrap(err, fault.KindSynthesisFailed)
	}
	if len(payload) == 0 {
		a.observe("failure", elapsed)
		return Result{}, fault.New(fault.KindSynthesisFailed, "backend returned no audio")
	}
	a.observe("success", elapsed)

	return Result{
		AudioPayload:             payload,
		Format:                   format,
		EstimatedDurationSeconds: a.estimateDuration(len(payload)),
		Truncated:                truncated,
		VoiceID:                  voiceID,
	}, nil
}

// estimateDuration derives seconds from the payload size assuming a
// fixed encode bitrate, rounded to one decimal.
func (a *Adapter) estimateDuration(payloadBytes int) float64 {
	bytesPerSecond := float64(a.cfg.BitrateKbps) * 1000 / 8
	return math.Round(float64(payloadBytes)/bytesPerSecond*10) / 10
}

func (a *Adapter) observe(outcome string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.ObserveSynthesis(outcome, d)
	}
}
