package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// PubSubPublisher publishes activity entries to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	client  *pubsub.Client
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher wraps an existing topic. The topic is stopped on Close; the client, when given, is closed too.
func NewPubSubPublisher(topic *pubsub.Topic, client *pubsub.Client) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub activity publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		client:  client,
		marshal: json.Marshal,
	}, nil
}

// Publish sends entry and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, entry domain.ActivityEntry) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub activity publisher: not initialised")
	}
	data, err := p.marshal(NewMessage(entry))
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes(entry),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish activity: %w", err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
