package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/store"
)

// pendingTTL bounds how long a queued strategy suppresses duplicate
// enqueues. It only needs to outlive the expected queue wait.
const pendingTTL = 120 * time.Second

// Queue is the FIFO discovery job queue. Job payloads travel the list;
// job state lives under its own status key so pollers never race the
// consumer.
type Queue struct {
	store     store.Store
	resultTTL time.Duration
}

// NewQueue builds a queue over the given store. resultTTL bounds how long
// finished and failed job records stay readable.
func NewQueue(s store.Store, resultTTL time.Duration) *Queue {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Queue{store: s, resultTTL: resultTTL}
}

// Enqueue creates a queued JobRecord and pushes its ID onto the list.
// When a job for the same strategy is already pending, the existing job is
// returned instead of enqueueing a second one.
func (q *Queue) Enqueue(ctx context.Context, strategy string, limit int, timeout time.Duration) (models.JobRecord, error) {
	rec := models.JobRecord{
		JobID:          uuid.New().String(),
		Strategy:       strategy,
		Limit:          limit,
		State:          models.JobQueued,
		EnqueuedAt:     time.Now().UTC(),
		TimeoutSeconds: int(timeout / time.Second),
	}

	ok, err := q.store.SetNX(ctx, store.PendingKey(strategy), []byte(rec.JobID), pendingTTL)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("jobs: pending guard: %w", err)
	}
	if !ok {
		// A job for this strategy is already in flight; hand back its record.
		existing, err := q.pendingJob(ctx, strategy)
		if err == nil {
			log.Debug().Str("strategy", strategy).Str("job_id", existing.JobID).
				Msg("Enqueue collapsed onto pending job")
			return existing, nil
		}
		// Guard key with no live record: stale, take over.
		if err := q.store.Set(ctx, store.PendingKey(strategy), []byte(rec.JobID), pendingTTL); err != nil {
			return models.JobRecord{}, fmt.Errorf("jobs: pending guard takeover: %w", err)
		}
	}

	return q.push(ctx, rec)
}

// ForceEnqueue always creates a new job, replacing any pending guard. Backs
// the trigger contract, which is deliberately not idempotent.
func (q *Queue) ForceEnqueue(ctx context.Context, strategy string, limit int, timeout time.Duration) (models.JobRecord, error) {
	rec := models.JobRecord{
		JobID:          uuid.New().String(),
		Strategy:       strategy,
		Limit:          limit,
		State:          models.JobQueued,
		EnqueuedAt:     time.Now().UTC(),
		TimeoutSeconds: int(timeout / time.Second),
	}
	if err := q.store.Set(ctx, store.PendingKey(strategy), []byte(rec.JobID), pendingTTL); err != nil {
		return models.JobRecord{}, fmt.Errorf("jobs: pending guard: %w", err)
	}
	return q.push(ctx, rec)
}

func (q *Queue) push(ctx context.Context, rec models.JobRecord) (models.JobRecord, error) {
	if err := store.SetJSON(ctx, q.store, store.StatusKey(rec.JobID), rec, q.resultTTL); err != nil {
		return models.JobRecord{}, fmt.Errorf("jobs: write job record: %w", err)
	}
	if err := q.store.Push(ctx, store.QueueKey, []byte(rec.JobID)); err != nil {
		return models.JobRecord{}, fmt.Errorf("jobs: push job: %w", err)
	}

	log.Info().Str("job_id", rec.JobID).Str("strategy", rec.Strategy).Int("limit", rec.Limit).
		Msg("Discovery job enqueued")
	return rec, nil
}

// pendingJob resolves the guard key to a still-live queued or running record.
func (q *Queue) pendingJob(ctx context.Context, strategy string) (models.JobRecord, error) {
	id, err := q.store.Get(ctx, store.PendingKey(strategy))
	if err != nil {
		return models.JobRecord{}, err
	}
	rec, err := q.Fetch(ctx, string(id))
	if err != nil {
		return models.JobRecord{}, err
	}
	if rec.State != models.JobQueued && rec.State != models.JobRunning {
		return models.JobRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// Fetch reads a job record by ID. Missing jobs return store.ErrNotFound.
func (q *Queue) Fetch(ctx context.Context, jobID string) (models.JobRecord, error) {
	var rec models.JobRecord
	if err := store.GetJSON(ctx, q.store, store.StatusKey(jobID), &rec); err != nil {
		return models.JobRecord{}, err
	}
	return rec, nil
}

// Update persists a job record, clearing the pending guard once the job
// leaves the queued/running states.
func (q *Queue) Update(ctx context.Context, rec models.JobRecord) error {
	if err := store.SetJSON(ctx, q.store, store.StatusKey(rec.JobID), rec, q.resultTTL); err != nil {
		return fmt.Errorf("jobs: update job record: %w", err)
	}
	if rec.State == models.JobFinished || rec.State == models.JobFailed {
		if id, err := q.store.Get(ctx, store.PendingKey(rec.Strategy)); err == nil && string(id) == rec.JobID {
			if err := q.store.Del(ctx, store.PendingKey(rec.Strategy)); err != nil {
				log.Warn().Err(err).Str("strategy", rec.Strategy).Msg("Pending guard cleanup failed")
			}
		}
	}
	return nil
}

// PollReady blocks until a job is available or the context ends. A timeout
// on an empty queue returns store.ErrNotFound; callers loop.
func (q *Queue) PollReady(ctx context.Context, timeout time.Duration) (models.JobRecord, error) {
	_, id, err := q.store.BlockPop(ctx, timeout, store.QueueKey)
	if err != nil {
		return models.JobRecord{}, err
	}
	rec, err := q.Fetch(ctx, string(id))
	if err != nil {
		// Record evaporated (TTL or manual delete): skip, surface as empty.
		log.Warn().Str("job_id", string(id)).Msg("Popped job with no record")
		return models.JobRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.ListLen(ctx, store.QueueKey)
}
