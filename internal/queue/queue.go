package queue

import (
	"context"
	"time"

	"github.com/poolwarden/poolwarden/internal/pool"
)

// Publisher defines the interface for publishing to the queue.
// Implementation: NATS JetStream.
type Publisher interface {
	// PublishEvent publishes a pool lifecycle event for external observers.
	PublishEvent(ctx context.Context, event pool.Event) error

	// PublishStopped queues a stopped-instance report for the pool to process.
	PublishStopped(ctx context.Context, report StoppedReport) error

	// Close closes the publisher connection.
	Close() error
}

// Consumer defines the interface for consuming stopped reports from the queue.
type Consumer interface {
	// Start begins consuming messages and processing them with the handler.
	Start(ctx context.Context) error

	// Stop gracefully stops the consumer.
	Stop(ctx context.Context) error
}

// StoppedReport is an out-of-band notification that an instance stopped.
// Infrastructure hooks (a container exit watcher, a node drainer) publish
// these so the pool reacts before the next reconciliation cycle.
type StoppedReport struct {
	ReportID   string    `json:"report_id"`
	InstanceID string    `json:"instance_id"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoppedHandler processes stopped reports.
type StoppedHandler func(ctx context.Context, report StoppedReport) error
