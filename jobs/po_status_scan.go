package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlas-retail/atlas-retail/internal/purchasing"
)

// POStatusScanJob heals purchase orders whose status drifted from their line
// counters, for example after out-of-band database fixes.
type POStatusScanJob struct {
	purchasing *purchasing.Service
	logger     *slog.Logger
}

// NewPOStatusScanJob constructs the job.
func NewPOStatusScanJob(purchasingService *purchasing.Service, logger *slog.Logger) *POStatusScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &POStatusScanJob{purchasing: purchasingService, logger: logger}
}

// Handle processes TaskPOStatusScan tasks.
func (j *POStatusScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	changed, err := j.purchasing.ReindexStatuses(ctx)
	if err != nil {
		return err
	}
	j.logger.InfoContext(ctx, "purchase order status scan finished",
		slog.String("job", TaskPOStatusScan),
		slog.Int("updated", changed))
	return nil
}
