package kafka

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Config for the kafka brokers
type Config struct {
	UseTLS  bool         `mapstructure:"use_tls"`
	Brokers []string     `mapstructure:"brokers"`
	Writer  WriterConfig `mapstructure:"writer"`
}

// Enabled reports whether any broker is configured
func (cfg Config) Enabled() bool {
	return len(cfg.Brokers) > 0
}

// WriterConfig structure
type WriterConfig struct {
	QueueCapacity int   `mapstructure:"queue_capacity"`
	BatchSize     int   `mapstructure:"batch_size"`
	BatchBytes    int64 `mapstructure:"batch_bytes"`
	// BatchTimeout in milliseconds
	BatchTimeout int  `mapstructure:"batch_timeout"`
	Async        bool `mapstructure:"async"`
	MaxAttempts  int  `mapstructure:"max_attempts"`
}

// KafkaProducer writes messages to one topic
type KafkaProducer struct {
	topic  string
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer for the given topic
func NewKafkaProducer(cfg WriterConfig, brokers []string, useTLS bool, topic string) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchBytes:   cfg.BatchBytes,
		BatchTimeout: time.Duration(cfg.BatchTimeout) * time.Millisecond,
		Async:        cfg.Async,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Str("section", "kafka").Str("topic", topic).Int("count", len(messages)).Msg("Unable to deliver messages")
			}
		},
	}
	if useTLS {
		writer.Transport = &kafka.Transport{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}
	return &KafkaProducer{topic: topic, writer: writer}
}

// Topic the producer writes to
func (p *KafkaProducer) Topic() string {
	return p.topic
}

// WriteMessages publishes the messages
func (p *KafkaProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes pending messages and closes the writer
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
