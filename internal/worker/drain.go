package worker

import (
	"context"
	"errors"
	"time"

	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/queue"
)

// Processor handles one claimed job.
type Processor interface {
	Process(ctx context.Context, job *models.ReconciliationJob) Decision
}

// DrainOptions bounds a drain pass.
type DrainOptions struct {
	Lease        time.Duration // claim lease, default 5m
	Budget       time.Duration // wall-clock limit for one pass, default 30s
	RequeueDelay time.Duration // cooldown for DelayedRequeue, default 60s
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Processed  int           `json:"processed"`
	Completed  int           `json:"completed"`
	Requeued   int           `json:"requeued"`
	Delayed    int           `json:"delayed"`
	Suspended  bool          `json:"suspended"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Drainer claims and processes jobs one at a time.
type Drainer struct {
	queue     queue.Queue
	processor Processor
	opts      DrainOptions
	log       logging.Logger
	now       func() time.Time
}

func NewDrainer(q queue.Queue, processor Processor, opts DrainOptions, logger logging.Logger) *Drainer {
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.Budget <= 0 {
		opts.Budget = 30 * time.Second
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Drainer{queue: q, processor: processor, opts: opts, log: logger.With("Drainer"), now: time.Now}
}

// Drain processes jobs sequentially until the queue is empty or suspended,
// the budget is spent, or ctx ends.
func (d *Drainer) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	start := d.now()
	defer func() { report.Duration = d.now().Sub(start) }()

	for d.now().Sub(start) < d.opts.Budget {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		job, err := d.queue.Claim(ctx, d.opts.Lease)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if errors.Is(err, queue.ErrSuspended) {
			report.Suspended = true
			if st, serr := d.queue.Status(ctx); serr == nil {
				report.Reason, report.StatusCode = st.Reason, st.StatusCode
			}
			break
		}
		if err != nil {
			return report, err
		}

		report.Processed++
		decision := d.processor.Process(ctx, job)
		if err := d.apply(ctx, job, decision, &report); err != nil {
			return report, err
		}
		if decision.Action == Suspend {
			break
		}
	}

	if report.Processed > 0 || report.Suspended {
		d.log.Infof("Drain finished: processed=%d completed=%d requeued=%d delayed=%d suspended=%t",
			report.Processed, report.Completed, report.Requeued, report.Delayed, report.Suspended)
	}
	return report, nil
}

func (d *Drainer) apply(ctx context.Context, job *models.ReconciliationJob, decision Decision, report *DrainReport) error {
	var err error
	switch decision.Action {
	case Requeue:
		report.Requeued++
		err = d.queue.Requeue(ctx, job)
	case DelayedRequeue:
		report.Delayed++
		err = d.queue.RequeueDelayed(ctx, job, d.opts.RequeueDelay)
	case Suspend:
		d.log.Errorf("Suspending queue: %s", decision.Reason)
		report.Suspended = true
		report.Reason, report.StatusCode = decision.Reason, decision.StatusCode
		if err := d.queue.Suspend(ctx, decision.Reason, decision.StatusCode); err != nil {
			return err
		}
		err = d.queue.Requeue(ctx, job)
	default:
		report.Completed++
		err = d.queue.Ack(ctx, job)
	}

	if errors.Is(err, queue.ErrLeaseLost) {
		d.log.Warnf("Lease on job %s for record %s expired before it finished", job.ID, job.RecordID)
		return nil
	}
	return err
}
