package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

func sampleEntry() domain.ActivityEntry {
	return domain.ActivityEntry{
		ID:          "act_1",
		Action:      domain.ActivityActionCancel,
		Entity:      "order",
		EntityID:    "ord_1",
		Description: "Cancelled order ORD-1",
		ActorID:     "staff_1",
		Metadata:    map[string]any{"restored": float64(3)},
		OccurredAt:  time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

func TestPubSubPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-activity")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic, nil)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer func() {
		_ = publisher.Close()
	}()

	if err := publisher.Publish(ctx, sampleEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "act_1" || payload.Action != "CANCEL" || payload.EntityID != "ord_1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["entityId"]; attr != "ord_1" {
		t.Fatalf("expected entityId attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["description"]; ok {
		t.Fatalf("description attribute should not be present")
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil, nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
