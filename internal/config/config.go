package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech gateway.
type Config struct {
	BindAddr         string
	Region           string
	LogLevel         string
	LogFormat        string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool

	// Per-connection timers.
	ConnectionTimeout   time.Duration
	InactivityTimeout   time.Duration
	FinalizationTimeout time.Duration

	// Ceiling on audio buffered while the transcription session starts.
	MaxPendingAudioBytes int

	SampleRateHertz int
	LanguageCode    string

	ASRProvider   string
	SynthProvider string

	ElevenLabsAPIKey  string
	ElevenLabsModelID string

	MaxSynthesisTextLen  int
	MaxQueryTextLen      int
	DefaultVoiceID       string
	SynthesisBitrateKbps int

	KafkaBrokers      []string
	KafkaTopicPartial string
	KafkaTopicFinal   string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("VOICEGATE_BIND_ADDR", ":8080"),
		Region:           stringFromEnv("VOICEGATE_REGION"),
		LogLevel:         envOrDefault("VOICEGATE_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("VOICEGATE_LOG_FORMAT", "json"),
		MetricsNamespace: envOrDefault("VOICEGATE_METRICS_NAMESPACE", "voicegate"),
		ASRProvider:      envOrDefault("VOICEGATE_ASR_PROVIDER", "auto"),
		SynthProvider:    envOrDefault("VOICEGATE_SYNTH_PROVIDER", "auto"),
		ElevenLabsAPIKey: stringFromEnv("ELEVENLABS_API_KEY"),
		// Multilingual quality model; latency is not critical on the
		// request/response synthesis path.
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		DefaultVoiceID:    envOrDefault("VOICEGATE_DEFAULT_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		LanguageCode:      envOrDefault("VOICEGATE_LANGUAGE_CODE", "en-US"),
		KafkaTopicPartial: envOrDefault("VOICEGATE_KAFKA_TOPIC_PARTIAL", "voicegate.transcript.partial"),
		KafkaTopicFinal:   envOrDefault("VOICEGATE_KAFKA_TOPIC_FINAL", "voicegate.transcript.final"),
		DatabaseURL:       stringFromEnv("DATABASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		ConnectionTimeout:    5 * time.Minute,
		InactivityTimeout:    60 * time.Second,
		FinalizationTimeout:  5 * time.Second,
		MaxPendingAudioBytes: 2 << 20,
		SampleRateHertz:      16000,
		MaxSynthesisTextLen:  3000,
		MaxQueryTextLen:      5000,
		SynthesisBitrateKbps: 128,
	}

	if brokers := stringFromEnv("VOICEGATE_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("VOICEGATE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ConnectionTimeout, err = durationFromEnv("VOICEGATE_CONNECTION_TIMEOUT", cfg.ConnectionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.InactivityTimeout, err = durationFromEnv("VOICEGATE_INACTIVITY_TIMEOUT", cfg.InactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FinalizationTimeout, err = durationFromEnv("VOICEGATE_FINALIZATION_TIMEOUT", cfg.FinalizationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxPendingAudioBytes, err = intFromEnv("VOICEGATE_MAX_PENDING_AUDIO_BYTES", cfg.MaxPendingAudioBytes); err != nil {
		return Config{}, err
	}
	if cfg.SampleRateHertz, err = intFromEnv("VOICEGATE_SAMPLE_RATE_HERTZ", cfg.SampleRateHertz); err != nil {
		return Config{}, err
	}
	if cfg.MaxSynthesisTextLen, err = intFromEnv("VOICEGATE_MAX_SYNTHESIS_TEXT_LEN", cfg.MaxSynthesisTextLen); err != nil {
		return Config{}, err
	}
	if cfg.MaxQueryTextLen, err = intFromEnv("VOICEGATE_MAX_QUERY_TEXT_LEN", cfg.MaxQueryTextLen); err != nil {
		return Config{}, err
	}
	if cfg.SynthesisBitrateKbps, err = intFromEnv("VOICEGATE_SYNTHESIS_BITRATE_KBPS", cfg.SynthesisBitrateKbps); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("VOICEGATE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.ConnectionTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("VOICEGATE_CONNECTION_TIMEOUT must be at least 10s")
	}
	if cfg.InactivityTimeout < time.Second {
		return Config{}, fmt.Errorf("VOICEGATE_INACTIVITY_TIMEOUT must be at least 1s")
	}
	if cfg.FinalizationTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOICEGATE_FINALIZATION_TIMEOUT must be at least 100ms")
	}
	if cfg.MaxPendingAudioBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_PENDING_AUDIO_BYTES must be positive")
	}
	if cfg.SampleRateHertz <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SAMPLE_RATE_HERTZ must be positive")
	}
	if cfg.MaxSynthesisTextLen <= 0 || cfg.MaxQueryTextLen <= 0 {
		return Config{}, fmt.Errorf("text length limits must be positive")
	}
	if cfg.MaxSynthesisTextLen > cfg.MaxQueryTextLen {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_SYNTHESIS_TEXT_LEN must not exceed VOICEGATE_MAX_QUERY_TEXT_LEN")
	}
	if cfg.SynthesisBitrateKbps <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SYNTHESIS_BITRATE_KBPS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringFromEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// durationFromEnv accepts Go duration syntax ("90s") or a bare
// millisecond count ("90000") for compatibility with the legacy
// deployment environment.
func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringFromEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
