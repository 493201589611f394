package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/logging"
	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// PubSubProvider implements Provider for Google Cloud Pub/Sub.
type PubSubProvider struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubProvider creates a Pub/Sub client and verifies the topic exists.
// It authenticates using Google Cloud's Application Default Credentials.
func NewPubSubProvider(ctx context.Context, projectID, topicID string) (*PubSubProvider, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubProvider{client: client, topic: topic}, nil
}

// Publish sends the notification as a JSON payload and blocks until the
// server acknowledges it, so a reported success means the message is durable.
func (p *PubSubProvider) Publish(ctx context.Context, n Notification) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"record_key": n.RecordKey,
			"event":      n.Event,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	metrics.ObserveNotification()
	return id, nil
}

// Close stops the topic's publish goroutines and closes the client.
func (p *PubSubProvider) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
