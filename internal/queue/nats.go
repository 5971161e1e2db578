package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/internal/pool"
)

// NATSPublisher implements Publisher using NATS JetStream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    *config.QueueConfig
}

// Compile-time checks.
var (
	_ Publisher      = (*NATSPublisher)(nil)
	_ pool.EventSink = (*NATSPublisher)(nil)
)

// NewNATSPublisher creates a new NATS JetStream publisher.
// It connects to NATS, creates the JetStream context, and ensures
// the stream exists with the required configuration.
func NewNATSPublisher(cfg *config.QueueConfig) (*NATSPublisher, error) {
	// Connect to NATS with retry options
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamConfig := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Warm pool lifecycle events and stopped-instance reports",
		Subjects: []string{
			cfg.StreamName + ".events",
			cfg.StreamName + ".stopped",
		},
		Retention:    jetstream.LimitsPolicy,
		MaxConsumers: -1,
		MaxMsgs:      -1,
		MaxBytes:     -1,
		MaxAge:       24 * time.Hour,
		Storage:      jetstream.FileStorage,
		Replicas:     1,
		Discard:      jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &NATSPublisher{
		nc:     nc,
		js:     js,
		stream: stream,
		cfg:    cfg,
	}, nil
}

// PublishEvent publishes a pool lifecycle event to the events subject.
func (p *NATSPublisher) PublishEvent(ctx context.Context, event pool.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.cfg.StreamName + ".events"
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// PublishStopped publishes a stopped-instance report to the stopped subject.
// The report id doubles as the message id for JetStream deduplication.
func (p *NATSPublisher) PublishStopped(ctx context.Context, report StoppedReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal stopped report: %w", err)
	}

	subject := p.cfg.StreamName + ".stopped"
	_, err = p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(report.ReportID),
	)
	if err != nil {
		return fmt.Errorf("failed to publish stopped report: %w", err)
	}

	return nil
}

// Emit publishes a lifecycle event, logging failures. Satisfies the pool's
// event sink, which treats emission as best-effort.
func (p *NATSPublisher) Emit(ctx context.Context, event pool.Event) {
	if err := p.PublishEvent(ctx, event); err != nil {
		log.Printf("Failed to publish pool event %s: %v", event.Type, err)
	}
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NATSConsumer implements Consumer using NATS JetStream pull consumers.
type NATSConsumer struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	handler StoppedHandler
	cfg     *config.QueueConfig

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// Compile-time check that NATSConsumer implements Consumer.
var _ Consumer = (*NATSConsumer)(nil)

// NewNATSConsumer creates a new NATS JetStream consumer for stopped reports.
func NewNATSConsumer(cfg *config.QueueConfig, handler StoppedHandler) (*NATSConsumer, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Get stream handle (must exist - created by publisher)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.StreamName, err)
	}

	return &NATSConsumer{
		nc:      nc,
		js:      js,
		stream:  stream,
		handler: handler,
		cfg:     cfg,
	}, nil
}

// Start begins consuming stopped reports with WorkerCount goroutines.
func (c *NATSConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       "stopped-workers",
		Description:   "Workers that process stopped-instance reports",
		FilterSubject: c.cfg.StreamName + ".stopped",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: c.cfg.WorkerCount * 2,
	}

	cons, err := c.stream.CreateOrUpdateConsumer(ctx, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create stopped consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(cons, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(c.doneCh)
	}()

	log.Printf("NATS consumer started with %d stopped-report workers", c.cfg.WorkerCount)

	return nil
}

func (c *NATSConsumer) runWorker(cons jetstream.Consumer, workerID int) {
	log.Printf("Stopped-report worker %d started", workerID)
	defer log.Printf("Stopped-report worker %d stopped", workerID)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		msgs, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if err != context.DeadlineExceeded {
				log.Printf("Stopped-report worker %d fetch error: %v", workerID, err)
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.processMessage(msg, workerID)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			log.Printf("Stopped-report worker %d messages error: %v", workerID, msgs.Error())
		}
	}
}

func (c *NATSConsumer) processMessage(msg jetstream.Msg, workerID int) {
	var report StoppedReport
	if err := json.Unmarshal(msg.Data(), &report); err != nil {
		log.Printf("Worker %d: failed to unmarshal stopped report: %v", workerID, err)
		msg.Term() // Terminate - don't redeliver malformed messages
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.handler(ctx, report); err != nil {
		log.Printf("Worker %d: stopped report %s failed: %v", workerID, report.ReportID, err)
		msg.Nak() // Negative ack - will be redelivered
		return
	}

	msg.Ack()
	log.Printf("Worker %d processed stopped report %s (instance: %s)",
		workerID, report.ReportID, report.InstanceID)
}

// Stop gracefully stops the consumer.
func (c *NATSConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	select {
	case <-c.doneCh:
		log.Println("All NATS consumer workers stopped")
	case <-ctx.Done():
		log.Println("NATS consumer stop timed out")
	}

	return c.nc.Drain()
}
