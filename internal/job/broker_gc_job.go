package job

import (
	"context"
	"time"
)

// TaskPruner is the subset of the broker a GC job needs: delete terminal
// task records older than a cutoff, so the tasks table does not grow
// unbounded across a long-running deployment.
type TaskPruner interface {
	PruneTerminal(ctx context.Context, before time.Time) (int64, error)
}

// BrokerGCJob removes succeeded/failed/canceled TaskRecords past maxAge.
type BrokerGCJob struct {
	broker TaskPruner
	maxAge time.Duration
}

func NewBrokerGCJob(broker TaskPruner, maxAge time.Duration) *BrokerGCJob {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &BrokerGCJob{broker: broker, maxAge: maxAge}
}

func (j *BrokerGCJob) Name() string {
	return "broker_gc"
}

func (j *BrokerGCJob) Run(ctx context.Context) error {
	if j.broker == nil {
		return nil
	}
	_, err := j.broker.PruneTerminal(ctx, time.Now().Add(-j.maxAge))
	return err
}
