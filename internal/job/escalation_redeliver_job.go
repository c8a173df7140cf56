package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/service"
)

const redeliverBatch = 50

// EscalationRedeliverJob retries ticket delivery for escalations that opened
// while the ticketing service was unreachable.
type EscalationRedeliverJob struct {
	escalation *service.EscalationService
}

func NewEscalationRedeliverJob(escalation *service.EscalationService) *EscalationRedeliverJob {
	return &EscalationRedeliverJob{escalation: escalation}
}

func (j *EscalationRedeliverJob) Name() string {
	return "escalation_redeliver"
}

func (j *EscalationRedeliverJob) Run(ctx context.Context) error {
	delivered, err := j.escalation.Redeliver(ctx, redeliverBatch)
	if err != nil {
		return err
	}
	if delivered > 0 {
		logutil.GetLogger(ctx).Info("redelivered escalation tickets", zap.Int("count", delivered))
	}
	return nil
}
