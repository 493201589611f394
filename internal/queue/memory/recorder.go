// Package memory provides an in-memory notification recorder for local runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/courtdata/judgment-harvester/internal/queue"
)

// Recorder keeps every published notification in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []queue.Notification
	closed   bool
}

// NewRecorder constructs an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the notification and returns a sequential ID.
func (r *Recorder) Publish(ctx context.Context, n queue.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish canceled: %w", err)
	}
	if err := n.Validate(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", fmt.Errorf("recorder is closed")
	}
	r.messages = append(r.messages, n)
	return fmt.Sprintf("mem-%d", len(r.messages)), nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []queue.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Notification(nil), r.messages...)
}

// Close marks the recorder closed; further publishes fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
