// Package queue defines the interface for publishing record notifications.
// This abstraction keeps the harvest loop independent of a specific message
// queue implementation (GCP Pub/Sub in production, a recorder in tests).
package queue

import (
	"context"
	"fmt"
)

// Notification announces one archived judgment record to downstream
// consumers.
type Notification struct {
	RecordKey    string `json:"record_key"`
	DiaryNumber  string `json:"diary_number"`
	CaseNumber   string `json:"case_number"`
	JudgmentDate string `json:"judgment_date"`
	ObjectURI    string `json:"object_uri"`
	FileSize     int64  `json:"file_size"`
	RunID        string `json:"run_id"`
	Event        string `json:"event"`
}

// Validate checks the fields consumers rely on.
func (n Notification) Validate() error {
	if n.RecordKey == "" {
		return fmt.Errorf("notification requires a record key")
	}
	if n.ObjectURI == "" {
		return fmt.Errorf("notification requires an object URI")
	}
	return nil
}

// Provider defines the common interface for a notification publisher.
type Provider interface {
	// Publish sends the notification and returns the broker-assigned
	// message ID once the send is acknowledged.
	Publish(ctx context.Context, n Notification) (string, error)

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOpProvider is a queue provider that performs no operations. It is useful
// for dry runs and for running the harvester without a real message queue.
type NoOpProvider struct{}

// Publish for NoOpProvider does nothing and returns a placeholder ID.
func (n *NoOpProvider) Publish(_ context.Context, _ Notification) (string, error) {
	return "noop-message-id", nil
}

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
