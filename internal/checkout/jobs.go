package checkout

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// Reconciliation job types.
const (
	JobReconcileCheckout  = "reconcile_checkout"
	JobActivateMembership = "activate_membership"
	JobRefundCascade      = "refund_cascade"
	JobReleaseEntries     = "release_entries"
	JobExpireMemberships  = "expire_memberships"
)

const reconcileMaxAttempts = 8

func (s *Service) enqueue(ctx context.Context, jobType string, priority models.JobPriority, payload models.JSONB) {
	if s.jobs == nil {
		log.Printf("[checkout] no job queue configured; %s needs manual reconciliation: %v", jobType, payload)
		return
	}
	job := &models.Job{
		JobType:     jobType,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: reconcileMaxAttempts,
	}
	// the request context may already be cancelled when this runs on a failure path
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.jobs.Enqueue(enqueueCtx, job); err != nil {
		log.Printf("[checkout] CRITICAL: enqueue %s failed, manual reconciliation required: %v (payload %v)", jobType, err, payload)
		return
	}
	log.Printf("[checkout] queued %s job %d", jobType, job.ID)
}

func (s *Service) enqueueReconcile(ctx context.Context, sessionID string, amountCents int64, intent Intent) {
	s.enqueue(ctx, JobReconcileCheckout, models.JobPriorityHigh, models.JSONB{
		"session_id":   sessionID,
		"amount_cents": amountCents,
		"metadata":     intent.Metadata(),
	})
}

func (s *Service) enqueueActivation(ctx context.Context, paymentID int64, g MembershipGrant) {
	s.enqueue(ctx, JobActivateMembership, models.JobPriorityCritical, models.JSONB{
		"payment_id":      paymentID,
		"member_id":       g.MemberID,
		"membership_slug": g.Slug,
		"duration_months": g.Term.String(),
		"start":           models.DateOnly(g.Start).Format(time.DateOnly),
		"customer_id":     g.CustomerID,
	})
}

func (s *Service) enqueueRefundCascade(ctx context.Context, paymentID int64) {
	s.enqueue(ctx, JobRefundCascade, models.JobPriorityHigh, models.JSONB{"payment_id": paymentID})
}
