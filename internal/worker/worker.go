// Package worker runs the Postgres-backed reconciliation queue: a pool of
// processors claims jobs, dispatches them by type, and retries failures with
// exponential backoff until the job's attempts are exhausted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// Handler processes a single job. Handlers must be idempotent: a job can run
// more than once when a worker dies mid-flight or a retry overlaps a manual fix.
type Handler func(ctx context.Context, job *models.Job) error

// Queue is the persistence the worker claims jobs from.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	EnqueueUnlessPending(ctx context.Context, job *models.Job) (bool, error)
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	CancelJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Stats holds in-process worker counters.
type Stats struct {
	WorkerID        string    `json:"worker_id"`
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsSucceeded   int64     `json:"jobs_succeeded"`
	JobsFailed      int64     `json:"jobs_failed"`
	JobsRetried     int64     `json:"jobs_retried"`
	ActiveJobs      int       `json:"active_jobs"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the number of processor goroutines
	MaxConcurrent int
	// PollInterval is the wait between polls when the queue is empty
	PollInterval time.Duration
	// RetryBaseDelay is the delay before the first retry
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier grows the delay per attempt
	RetryBackoffMultiplier float64
	// JobTimeout bounds a single handler run
	JobTimeout time.Duration
	// ShutdownTimeout bounds Stop
	ShutdownTimeout time.Duration
	// HeartbeatInterval is how often stats are logged; zero disables it
	HeartbeatInterval time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           2 * time.Second,
		RetryBaseDelay:         5 * time.Second,
		RetryMaxDelay:          10 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             2 * time.Minute,
		ShutdownTimeout:        30 * time.Second,
		HeartbeatInterval:      5 * time.Minute,
	}
}

// Worker is the reconciliation queue processor.
type Worker struct {
	config   Config
	queue    Queue
	handlers map[string]Handler
	workerID string

	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
	mu      sync.RWMutex

	// activeJobs tracks in-flight job ids so Stop can hand them back to the queue
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.RWMutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	lastProcessedAt time.Time

	now func() time.Time
}

// New creates a Worker; zero config values fall back to DefaultConfig.
func New(config Config, queue Queue) *Worker {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	return &Worker{
		config:     config,
		queue:      queue,
		handlers:   make(map[string]Handler),
		workerID:   "worker-" + uuid.NewString(),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[int64]context.CancelFunc),
		now:        time.Now,
	}
}

// RegisterHandler binds a handler to a job type. Registering twice replaces it.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

func (w *Worker) handler(jobType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// ID returns the identifier written to claimed jobs.
func (w *Worker) ID() string {
	return w.workerID
}

// Start launches the processor pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[worker] Starting with ID: %s, max concurrent: %d", w.workerID, w.config.MaxConcurrent)

	if w.config.HeartbeatInterval > 0 {
		w.wg.Add(1)
		go w.heartbeat(ctx)
	}

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop signals the processors, releases in-flight jobs back to pending and waits
// for the pool to drain.
func (w *Worker) Stop(ctx context.Context) error {
	log.Printf("[worker] Initiating graceful shutdown...")

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[worker] Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Printf("[worker] Shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("worker: shutdown timeout exceeded")
	}
}

func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	processorID := fmt.Sprintf("%s-%d", w.workerID, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
			if err := w.processNext(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					log.Printf("[worker] Processor %s error: %v", processorID, err)
				}
				w.wait(ctx, w.config.PollInterval)
			}
		}
	}
}

// processNext claims and runs one job, sleeping a poll interval when the queue
// is empty.
func (w *Worker) processNext(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.wait(ctx, w.config.PollInterval)
		return nil
	}
	w.processJob(ctx, job)
	return nil
}

// RunOnce claims and runs at most one job synchronously. It returns false when
// the queue had nothing ready.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.processJob(ctx, job)
	return true, nil
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := w.now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	log.Printf("[worker] Processing job %d (type: %s, attempt: %d/%d)",
		job.ID, job.JobType, job.Attempts, job.MaxAttempts)

	h, ok := w.handler(job.JobType)
	if !ok {
		w.handleError(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.JobType), start)
		return
	}

	// the job store writes use the parent context so a handler timeout still
	// records its outcome
	if err := runHandler(jobCtx, h, job); err != nil {
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

func runHandler(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	log.Printf("[worker] Job %d (%s) failed after %v: %v", job.ID, job.JobType, w.now().Sub(start), err)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = w.now()
	w.statsMu.Unlock()

	if job.Attempts < job.MaxAttempts {
		delay := w.retryDelay(job.Attempts)

		w.statsMu.Lock()
		w.jobsRetried++
		w.statsMu.Unlock()

		log.Printf("[worker] Scheduling retry for job %d after %v (attempt %d/%d)",
			job.ID, delay, job.Attempts, job.MaxAttempts)
		if err := w.queue.ScheduleRetry(ctx, job.ID, err.Error(), w.now().Add(delay)); err != nil {
			log.Printf("[worker] Failed to schedule retry for job %d: %v", job.ID, err)
		}
		return
	}

	log.Printf("[worker] CRITICAL: job %d (%s) exhausted all %d attempts, manual reconciliation required (payload %v)",
		job.ID, job.JobType, job.MaxAttempts, job.Payload)
	if err := w.queue.MarkFailed(ctx, job.ID, err.Error()); err != nil {
		log.Printf("[worker] Failed to mark job %d as failed: %v", job.ID, err)
	}
}

// retryDelay is base * multiplier^(attempts-1), capped, with ±20% jitter.
func (w *Worker) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(attempts-1))
	d = math.Min(d, float64(w.config.RetryMaxDelay))
	return time.Duration(d * (0.8 + 0.4*rand.Float64()))
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	log.Printf("[worker] Job %d (%s) completed in %v", job.ID, job.JobType, w.now().Sub(start))

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = w.now()
	w.statsMu.Unlock()

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		log.Printf("[worker] Failed to mark job %d as completed: %v", job.ID, err)
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		ids = append(ids, id)
		cancel()
	}
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			log.Printf("[worker] Failed to release job %d: %v", id, err)
		} else {
			log.Printf("[worker] Released job %d back to pending", id)
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			s := w.GetStats()
			log.Printf("[worker] heartbeat: processed=%d succeeded=%d failed=%d retried=%d active=%d",
				s.JobsProcessed, s.JobsSucceeded, s.JobsFailed, s.JobsRetried, s.ActiveJobs)
		}
	}
}

// GetStats returns the in-process counters.
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	return Stats{
		WorkerID:        w.workerID,
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		ActiveJobs:      active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue validates and queues a job.
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	log.Printf("[worker] Enqueued job %d (type: %s, priority: %s)", job.ID, job.JobType, job.Priority)
	return nil
}

// CancelJob cancels a pending or failed job.
func (w *Worker) CancelJob(ctx context.Context, jobID int64) error {
	if err := w.queue.CancelJob(ctx, jobID); err != nil {
		return err
	}
	log.Printf("[worker] Cancelled job %d", jobID)
	return nil
}

// GetQueueStats returns queue counts by status.
func (w *Worker) GetQueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.queue.GetStats(ctx)
}
