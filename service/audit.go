package service

import (
	"context"
	"strconv"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/segmentio/encoding/json"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// MessageWriter publishes kafka messages
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
}

// KafkaAuditSink publishes referral audit events as JSON, keyed by the affected user
type KafkaAuditSink struct {
	writer MessageWriter
}

// NewKafkaAuditSink godoc
func NewKafkaAuditSink(writer MessageWriter) *KafkaAuditSink {
	return &KafkaAuditSink{writer: writer}
}

func (s *KafkaAuditSink) Publish(ctx context.Context, event model.ReferralAuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(strconv.FormatUint(event.AffectedUserID, 10)),
		Value: payload,
		Time:  event.Timestamp,
	})
}
