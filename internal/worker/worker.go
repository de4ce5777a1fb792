package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/edusphere/backend/pkg/queue"
	"github.com/edusphere/backend/pkg/storage"
)

// Destroyer deletes remote objects.
type Destroyer interface {
	Destroy(ctx context.Context, publicID string, rt storage.ResourceType) error
}

// JobSource is the queue the reaper consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// OrphanReaper deletes remote media whose catalog write failed after upload.
type OrphanReaper struct {
	storage Destroyer
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewOrphanReaper creates an orphan cleanup processor.
func NewOrphanReaper(s Destroyer, q JobSource, logger *zap.Logger) *OrphanReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrphanReaper{storage: s, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one orphan cleanup job. Every object is attempted even if an earlier one fails.
func (p *OrphanReaper) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeOrphanCleanup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.OrphanCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var errs error
	for _, obj := range payload.Objects {
		if err := p.storage.Destroy(ctx, obj.PublicID, storage.ResourceType(obj.ResourceType)); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p.logger.Info("orphaned object deleted", zap.String("job_id", job.ID), zap.String("public_id", obj.PublicID))
	}
	return errs
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *OrphanReaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("orphan reaper stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			// The job is already off the queue; a shutdown must not lose it.
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *OrphanReaper) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
