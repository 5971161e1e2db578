package queue

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/internal/pool"
)

// skipIfNoNATS skips the test if NATS is not available.
func skipIfNoNATS(t *testing.T) *config.QueueConfig {
	t.Helper()
	if os.Getenv("NATS_TEST") == "" {
		t.Skip("Skipping NATS integration test. Set NATS_TEST=1 to run.")
	}

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	return &config.QueueConfig{
		NATSURL:     url,
		StreamName:  "TEST_POOL_" + time.Now().Format("20060102150405"),
		WorkerCount: 2,
	}
}

func TestNATSPublisher_Connect(t *testing.T) {
	cfg := skipIfNoNATS(t)

	pub, err := NewNATSPublisher(cfg)
	if err != nil {
		t.Fatalf("NewNATSPublisher() error = %v", err)
	}
	defer pub.Close()

	if pub.stream == nil {
		t.Error("Expected stream to be created")
	}
}

func TestNATSPublisher_PublishEvent(t *testing.T) {
	cfg := skipIfNoNATS(t)

	pub, err := NewNATSPublisher(cfg)
	if err != nil {
		t.Fatalf("NewNATSPublisher() error = %v", err)
	}
	defer pub.Close()

	ev := pool.Event{Type: "assigned", InstanceID: "inst-1", Identity: "user-1", At: time.Now()}
	if err := pub.PublishEvent(context.Background(), ev); err != nil {
		t.Errorf("PublishEvent() error = %v", err)
	}
}

func TestNATSConsumer_StoppedRoundtrip(t *testing.T) {
	cfg := skipIfNoNATS(t)

	pub, err := NewNATSPublisher(cfg)
	if err != nil {
		t.Fatalf("NewNATSPublisher() error = %v", err)
	}
	defer pub.Close()

	var handled atomic.Int32
	handler := func(ctx context.Context, report StoppedReport) error {
		if report.InstanceID == "inst-roundtrip" {
			handled.Add(1)
		}
		return nil
	}

	cons, err := NewNATSConsumer(cfg, handler)
	if err != nil {
		t.Fatalf("NewNATSConsumer() error = %v", err)
	}

	ctx := context.Background()
	if err := cons.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cons.Stop(stopCtx)
	}()

	report := StoppedReport{
		ReportID:   "report-roundtrip",
		InstanceID: "inst-roundtrip",
		CreatedAt:  time.Now(),
	}
	if err := pub.PublishStopped(ctx, report); err != nil {
		t.Fatalf("PublishStopped() error = %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for handled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if handled.Load() == 0 {
		t.Error("stopped report never reached the handler")
	}
}
