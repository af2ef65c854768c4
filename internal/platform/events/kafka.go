package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes activity entries keyed by entity id so a single order's history stays ordered.
type KafkaPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaWriter builds a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka activity publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka activity publisher: topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

// NewKafkaPublisher wraps writer.
func NewKafkaPublisher(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka activity publisher: writer is required")
	}
	return &KafkaPublisher{writer: writer, now: time.Now}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, entry domain.ActivityEntry) error {
	data, err := json.Marshal(NewMessage(entry))
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	headers := make([]kafka.Header, 0, 4)
	for key, value := range attributes(entry) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(entry.EntityID),
		Value:   data,
		Headers: headers,
		Time:    p.now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish activity: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
