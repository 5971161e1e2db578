package queue

import (
	"context"

	"github.com/poolwarden/poolwarden/pkg/logging"
)

// StoppedReporter applies a stopped-instance report to the pool.
type StoppedReporter interface {
	// ReportStopped removes the instance from the pool. Idempotent.
	ReportStopped(ctx context.Context, instanceID string) error
}

// Handlers processes queue messages against the pool.
type Handlers struct {
	reporter StoppedReporter
	logger   *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(reporter StoppedReporter, logger *logging.Logger) *Handlers {
	return &Handlers{
		reporter: reporter,
		logger:   logger.With("component", "queue-handlers"),
	}
}

// StoppedHandler applies a stopped report by removing the instance. Reports
// for unknown instances succeed silently; the removal is idempotent so
// redeliveries are harmless.
func (h *Handlers) StoppedHandler(ctx context.Context, report StoppedReport) error {
	h.logger.Info("Processing stopped report",
		"reportID", report.ReportID, "instanceID", report.InstanceID, "reason", report.Reason)

	if err := h.reporter.ReportStopped(ctx, report.InstanceID); err != nil {
		h.logger.Error("Stopped report failed", "reportID", report.ReportID, "error", err)
		return err
	}

	return nil
}
