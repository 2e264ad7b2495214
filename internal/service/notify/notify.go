package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nkiryanov/authcore/internal/logger"
)

// Event types published by auth service
const (
	EventEmailVerificationRequested = "email_verification_requested"
	EventTokenReuseDetected         = "token_reuse_detected"
	EventSessionsRevoked            = "sessions_revoked"
	EventPasswordChanged            = "password_changed"
	EventUserDisabled               = "user_disabled"
)

type Event struct {
	Type       string    `json:"type"`
	UserID     uuid.UUID `json:"userId"`
	Email      string    `json:"email,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Revoked    int64     `json:"revoked,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`

	// Verification token, delivered to user by mail service
	Token string `json:"token,omitempty"`
}

// Publisher delivers auth events to external consumers (mailer, security monitoring)
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publish events to Kafka topic, key is user id so events of one user keep order
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic must not be empty")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}

	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Log events instead of publishing, used when no broker configured
type LogPublisher struct {
	logger logger.Logger
}

func NewLogPublisher(l logger.Logger) *LogPublisher {
	return &LogPublisher{logger: l}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	// Token is a credential, never log it
	p.logger.Info("auth event",
		"type", event.Type,
		"user_id", event.UserID.String(),
		"reason", event.Reason,
		"revoked", event.Revoked,
	)
	return nil
}
