package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/billing/recognition"
	"github.com/ledgerline/ledgerline/internal/billing/scheduler"
	"github.com/ledgerline/ledgerline/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeBillingSchedule expands due recurring templates into invoices.
	TaskTypeBillingSchedule = "billing:schedule"
	// TaskTypeBillingRecognize posts due revenue schedule entries.
	TaskTypeBillingRecognize = "billing:recognize"
)

// BillingPassPayload carries the cutoff for a billing pass. A zero AsOf means
// "now" at execution time, which is what the cron entries enqueue.
type BillingPassPayload struct {
	AsOf time.Time `json:"as_of,omitzero"`
}

// NewBillingScheduleTask constructs a scheduling pass task.
func NewBillingScheduleTask(payload BillingPassPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBillingSchedule, data), nil
}

// NewBillingRecognizeTask constructs a recognition pass task.
func NewBillingRecognizeTask(payload BillingPassPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBillingRecognize, data), nil
}

// SchedulePass runs the scheduling pass across tenants.
type SchedulePass interface {
	RunForAllTenants(ctx context.Context, asOf time.Time) ([]scheduler.PassResult, error)
}

// RecognizePass runs the recognition pass across tenants.
type RecognizePass interface {
	RunForAllTenants(ctx context.Context, asOf time.Time) ([]recognition.PassResult, error)
}

// NewBillingScheduleHandler processes TaskTypeBillingSchedule tasks.
func NewBillingScheduleHandler(pass SchedulePass, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BillingPassPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		results, err := pass.RunForAllTenants(ctx, payload.AsOf)
		if err != nil {
			return err
		}
		var created, failed int
		for _, res := range results {
			created += res.InvoicesCreated
			failed += len(res.Failures)
		}
		metrics.InvoicesGenerated(created)
		metrics.PassFailures("schedule", failed)
		logger.Info("billing schedule pass done",
			"tenants", len(results), "invoices_created", created, "failures", failed)
		return nil
	}
}

// NewBillingRecognizeHandler processes TaskTypeBillingRecognize tasks.
func NewBillingRecognizeHandler(pass RecognizePass, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BillingPassPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		results, err := pass.RunForAllTenants(ctx, payload.AsOf)
		if err != nil {
			return err
		}
		var recognized, failed int
		for _, res := range results {
			recognized += res.Recognized
			failed += len(res.Failures)
		}
		metrics.EntriesRecognized(recognized)
		metrics.PassFailures("recognize", failed)
		logger.Info("billing recognition pass done",
			"tenants", len(results), "recognized", recognized, "failures", failed)
		return nil
	}
}
