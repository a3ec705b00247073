package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// KafkaConfig configures the domain event sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Producer is the part of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink forwards bus events to a Kafka topic, keyed by session id so that
// one session's events stay ordered within a partition.
type KafkaSink struct {
	producer Producer
	topic    string
	log      *logger.Logger
}

// NewKafkaSink dials the brokers.
func NewKafkaSink(cfg KafkaConfig, log *logger.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return NewKafkaSinkWithProducer(client, cfg.Topic, log), nil
}

// NewKafkaSinkWithProducer builds a sink over an existing producer.
func NewKafkaSinkWithProducer(p Producer, topic string, log *logger.Logger) *KafkaSink {
	if log == nil {
		log = logger.Get()
	}
	return &KafkaSink{producer: p, topic: topic, log: log}
}

// Record encodes ev as a Kafka record.
func (s *KafkaSink) Record(ev Event) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.SessionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Timestamp: ev.OccurredAt,
	}, nil
}

// Run drains events until the channel closes or ctx is done. Produce errors
// are logged; the sink never stops on a single bad record.
func (s *KafkaSink) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			rec, err := s.Record(ev)
			if err != nil {
				s.log.Error("encode event", zap.String("type", string(ev.Type)), zap.Error(err))
				continue
			}
			produceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.producer.ProduceSync(produceCtx, rec).FirstErr(); err != nil {
				s.log.Error("produce event",
					zap.String("type", string(ev.Type)),
					zap.String("session_id", ev.SessionID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Close releases the producer.
func (s *KafkaSink) Close() {
	s.producer.Close()
}
