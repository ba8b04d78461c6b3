package worker

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/models"
)

// Reconciler repairs checkouts whose best-effort writes failed.
type Reconciler interface {
	ReconcileCheckout(ctx context.Context, payload models.JSONB) error
	RetryActivation(ctx context.Context, payload models.JSONB) error
	RetryRefundCascade(ctx context.Context, payload models.JSONB) error
	RetryReleaseEntries(ctx context.Context, payload models.JSONB) error
}

// MembershipExpirer flips lapsed memberships to expired.
type MembershipExpirer interface {
	ExpireLapsedMemberships(ctx context.Context, asOf time.Time) (int64, error)
}

// jobRetention is how long completed and cancelled jobs are kept.
const jobRetention = 30 * 24 * time.Hour

// RegisterReconciliationJobs binds every reconciliation job type to its handler.
func RegisterReconciliationJobs(w *Worker, r Reconciler, members MembershipExpirer) {
	w.RegisterHandler(checkout.JobReconcileCheckout, payloadHandler(r.ReconcileCheckout))
	w.RegisterHandler(checkout.JobActivateMembership, payloadHandler(r.RetryActivation))
	w.RegisterHandler(checkout.JobRefundCascade, payloadHandler(r.RetryRefundCascade))
	w.RegisterHandler(checkout.JobReleaseEntries, payloadHandler(r.RetryReleaseEntries))
	w.RegisterHandler(checkout.JobExpireMemberships, expireMembershipsHandler(members, w.now))

	log.Printf("[worker] Registered reconciliation handlers: %s, %s, %s, %s, %s",
		checkout.JobReconcileCheckout, checkout.JobActivateMembership, checkout.JobRefundCascade,
		checkout.JobReleaseEntries, checkout.JobExpireMemberships)
}

func payloadHandler(fn func(ctx context.Context, payload models.JSONB) error) Handler {
	return func(ctx context.Context, job *models.Job) error {
		return fn(ctx, job.Payload)
	}
}

func expireMembershipsHandler(members MembershipExpirer, now func() time.Time) Handler {
	return func(ctx context.Context, job *models.Job) error {
		n, err := members.ExpireLapsedMemberships(ctx, now())
		if err != nil {
			return err
		}
		log.Printf("[expiry] marked %d memberships expired", n)
		return nil
	}
}

// RunDailyMaintenance enqueues the membership expiry sweep and prunes old jobs
// once immediately and then every interval until ctx is done.
func (w *Worker) RunDailyMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			w.maintain(ctx)
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (w *Worker) maintain(ctx context.Context) {
	job := &models.Job{
		JobType:     checkout.JobExpireMemberships,
		Payload:     models.JSONB{"as_of": models.DateOnly(w.now()).Format(time.DateOnly)},
		Priority:    models.JobPriorityLow,
		MaxAttempts: 3,
	}
	queued, err := w.queue.EnqueueUnlessPending(ctx, job)
	switch {
	case err != nil:
		log.Printf("[worker] Failed to enqueue %s: %v", job.JobType, err)
	case queued:
		log.Printf("[worker] Enqueued job %d (type: %s)", job.ID, job.JobType)
	}

	if n, err := w.queue.CleanupOldJobs(ctx, jobRetention); err != nil {
		log.Printf("[worker] Failed to clean up old jobs: %v", err)
	} else if n > 0 {
		log.Printf("[worker] Removed %d finished jobs", n)
	}
}
