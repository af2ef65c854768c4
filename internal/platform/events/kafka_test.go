package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByEntity(t *testing.T) {
	writer := &recordingWriter{}
	publisher, err := NewKafkaPublisher(writer)
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}

	if err := publisher.Publish(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_1" {
		t.Fatalf("expected key ord_1, got %q", msg.Key)
	}
	var payload Message
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Description != "Cancelled order ORD-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	found := false
	for _, h := range msg.Headers {
		if h.Key == "action" && string(h.Value) == "CANCEL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected action header, got %#v", msg.Headers)
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	publisher, _ := NewKafkaPublisher(&recordingWriter{err: boom})
	err := publisher.Publish(context.Background(), sampleEntry())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewKafkaWriterValidatesInput(t *testing.T) {
	if _, err := NewKafkaWriter(nil, "activity"); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
	if _, err := NewKafkaWriter([]string{"localhost:9092"}, " "); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	writer, err := NewKafkaWriter([]string{" localhost:9092 ", ""}, "activity")
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	if writer.Topic != "activity" {
		t.Fatalf("unexpected topic %q", writer.Topic)
	}
}
