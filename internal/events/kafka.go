package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/obiente/translate/livescribe/internal/metrics"
)

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	TopicStatus  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes partial, final and status events to separate topics,
// keyed by session id so a session's events stay on one partition. When
// disabled it only logs.
type KafkaSink struct {
	writerPartial messageWriter
	writerFinal   messageWriter
	writerStatus  messageWriter
	topicPartial  string
	topicFinal    string
	topicStatus   string
	enabled       bool
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

func NewKafkaSink(cfg KafkaConfig, l zerolog.Logger, m *metrics.Metrics) *KafkaSink {
	l = l.With().Str("component", "kafka_sink").Logger()
	s := &KafkaSink{
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		topicStatus:  cfg.TopicStatus,
		log:          l,
		metrics:      m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		l.Info().Msg("kafka disabled, using log-only mode")
		return s
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	s.writerPartial = newWriter(cfg.TopicPartial)
	s.writerFinal = newWriter(cfg.TopicFinal)
	s.writerStatus = newWriter(cfg.TopicStatus)
	s.enabled = true

	l.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic_partial", cfg.TopicPartial).
		Str("topic_final", cfg.TopicFinal).
		Str("topic_status", cfg.TopicStatus).
		Msg("kafka sink initialized")
	return s
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	kind := ev.Kind()
	writer, topic := s.writerStatus, s.topicStatus
	switch kind {
	case "partial":
		writer, topic = s.writerPartial, s.topicPartial
	case "final":
		writer, topic = s.writerFinal, s.topicFinal
	}

	start := time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("topic", topic).
		Str("key", ev.SessionID).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !s.enabled || writer == nil {
		s.metrics.RecordSinkPublish("kafka", nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(kind)},
			{Key: "sessionId", Value: []byte(ev.SessionID)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		s.log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", ev.SessionID).
			Msg("failed to write to kafka")
		s.metrics.RecordSinkPublish("kafka", err, time.Since(start).Seconds())
		return err
	}
	s.metrics.RecordSinkPublish("kafka", nil, time.Since(start).Seconds())
	return nil
}

func (s *KafkaSink) Close() error {
	var errs []error
	for _, w := range []messageWriter{s.writerPartial, s.writerFinal, s.writerStatus} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			s.log.Error().Err(err).Msg("error closing kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
