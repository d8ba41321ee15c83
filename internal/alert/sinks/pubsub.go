package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/adc-ops/grantwatch/internal/alert"
)

// PubSubSink forwards alerts to a Google Cloud Pub/Sub topic. Downstream
// notifier workers (email, SMS) subscribe to the topic; actual delivery to
// staff is their problem, not the engine's.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to the project and wires the topic.
func NewPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub sink requires project id and topic id")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubSink{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// Deliver marshals the event to JSON and publishes it. The kind travels as a
// message attribute so subscribers can filter without decoding payloads.
func (s *PubSubSink) Deliver(ctx context.Context, evt alert.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind": string(evt.Kind),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
