// Package events publishes transcript events to Kafka for downstream
// consumers (the screening agents, analytics). Publishing is optional:
// with no brokers configured the publisher runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TranscriptEvent is the payload written for both partial and final
// transcripts.
type TranscriptEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Config holds Kafka publisher settings.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
}

// Publisher writes transcript events to separate partial/final topics.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	topicPartial  string
	topicFinal    string
	enabled       bool
	log           zerolog.Logger
}

// New creates a publisher. With no brokers it degrades to log-only
// mode and every publish succeeds without I/O.
func New(cfg Config, log zerolog.Logger) *Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("kafka disabled, transcript events log-only")
		return &Publisher{
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			log:          log,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Msg("kafka publisher initialized")

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
		log:           log,
	}
}

// PublishPartial writes a partial transcript event keyed by session.
func (p *Publisher) PublishPartial(ctx context.Context, sessionID, text string) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, TranscriptEvent{
		EventType: "transcript.partial",
		SessionID: sessionID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishFinal writes a final transcript event keyed by session.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID, text string) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, TranscriptEvent{
		EventType: "transcript.final",
		SessionID: sessionID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic string, event TranscriptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.log.Debug().Str("topic", topic).RawJSON("payload", payload).Msg("publishing transcript event")

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.EventType)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("kafka write failed")
		return err
	}
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			err = e
		}
	}
	return err
}
