package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poolwarden/poolwarden/pkg/logging"
)

// mockReporter implements StoppedReporter for testing.
type mockReporter struct {
	reportErr   error
	reportCalls []string
}

func (m *mockReporter) ReportStopped(ctx context.Context, instanceID string) error {
	m.reportCalls = append(m.reportCalls, instanceID)
	return m.reportErr
}

func TestHandlers_StoppedHandler(t *testing.T) {
	reporter := &mockReporter{}
	h := NewHandlers(reporter, logging.Nop())

	report := StoppedReport{
		ReportID:   "report-1",
		InstanceID: "inst-42",
		Reason:     "oom",
		CreatedAt:  time.Now(),
	}

	if err := h.StoppedHandler(context.Background(), report); err != nil {
		t.Fatalf("StoppedHandler() error = %v", err)
	}

	if len(reporter.reportCalls) != 1 || reporter.reportCalls[0] != "inst-42" {
		t.Errorf("report calls = %v, want [inst-42]", reporter.reportCalls)
	}
}

func TestHandlers_StoppedHandler_Error(t *testing.T) {
	wantErr := errors.New("store unavailable")
	reporter := &mockReporter{reportErr: wantErr}
	h := NewHandlers(reporter, logging.Nop())

	report := StoppedReport{ReportID: "report-2", InstanceID: "inst-7"}

	err := h.StoppedHandler(context.Background(), report)
	if !errors.Is(err, wantErr) {
		t.Errorf("StoppedHandler() error = %v, want %v", err, wantErr)
	}
}
