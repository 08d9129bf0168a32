package app

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"practice-quiz-service/internal/domain"
)

// DefaultRetryInterval is the cadence of the background retry pass.
const DefaultRetryInterval = 5 * time.Minute

// RetryQueue is the durable list of result payloads that have not reached
// the sink. Enqueue is fire-and-forget from the caller's perspective; the
// background pass drains the queue under the bounded-attempts policy.
type RetryQueue struct {
	store     RecordStore
	submitter Submitter
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewRetryQueue(store RecordStore, submitter Submitter, log *zap.Logger) *RetryQueue {
	return NewRetryQueueWithClock(store, submitter, log, time.Now)
}

// NewRetryQueueWithClock allows deterministic timestamps in tests.
func NewRetryQueueWithClock(store RecordStore, submitter Submitter, log *zap.Logger, now func() time.Time) *RetryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryQueue{
		store:     store,
		submitter: submitter,
		log:       log,
		now:       now,
		newID:     uuid.NewString,
	}
}

// Enqueue durably appends a payload with zero attempts. No network side
// effect.
func (q *RetryQueue) Enqueue(ctx context.Context, payload domain.ResultPayload) (domain.PendingUpload, error) {
	upload := domain.PendingUpload{
		ID:        q.newID(),
		Payload:   payload,
		Attempts:  0,
		Status:    domain.UploadPending,
		CreatedAt: q.now(),
	}
	if err := q.save(ctx, upload); err != nil {
		return domain.PendingUpload{}, err
	}
	return upload, nil
}

// ListPending returns the queued uploads, oldest first, optionally filtered.
func (q *RetryQueue) ListPending(ctx context.Context, filter func(domain.PendingUpload) bool) ([]domain.PendingUpload, error) {
	records, err := q.store.Scan(ctx, uploadKeyPrefix)
	if err != nil {
		return nil, err
	}
	uploads := make([]domain.PendingUpload, 0, len(records))
	for key, raw := range records {
		var upload domain.PendingUpload
		if err := json.Unmarshal(raw, &upload); err != nil {
			q.log.Warn("corrupt pending upload", zap.String("key", key), zap.Error(err))
			continue
		}
		if filter != nil && !filter(upload) {
			continue
		}
		uploads = append(uploads, upload)
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
	return uploads, nil
}

// MarkSucceeded removes a delivered upload.
func (q *RetryQueue) MarkSucceeded(ctx context.Context, id string) error {
	return q.store.Remove(ctx, uploadKey(id))
}

// MarkFailed records a failed attempt. A permanent failure removes the
// record outright: retrying permanently-invalid input would loop forever.
func (q *RetryQueue) MarkFailed(ctx context.Context, id string, permanent bool) error {
	if permanent {
		return q.store.Remove(ctx, uploadKey(id))
	}
	raw, ok, err := q.store.Get(ctx, uploadKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var upload domain.PendingUpload
	if err := json.Unmarshal(raw, &upload); err != nil {
		return err
	}
	upload.Attempts++
	upload.LastAttempt = q.now()
	upload.Status = domain.UploadFailed
	return q.save(ctx, upload)
}

// Purge removes every upload matching the predicate without attempting
// delivery.
func (q *RetryQueue) Purge(ctx context.Context, predicate func(domain.PendingUpload) bool) (int, error) {
	uploads, err := q.ListPending(ctx, predicate)
	if err != nil {
		return 0, err
	}
	for _, upload := range uploads {
		if err := q.store.Remove(ctx, uploadKey(upload.ID)); err != nil {
			return 0, err
		}
	}
	return len(uploads), nil
}

// Exhausted lists uploads that hit the attempt ceiling, for an operator
// view. Nothing purges these automatically.
func (q *RetryQueue) Exhausted(ctx context.Context) ([]domain.PendingUpload, error) {
	return q.ListPending(ctx, domain.PendingUpload.Exhausted)
}

// RunPass walks the queue once: purges uploads whose category no longer
// requires submission, skips exhausted ones, and attempts one delivery per
// remaining record.
func (q *RetryQueue) RunPass(ctx context.Context) error {
	uploads, err := q.ListPending(ctx, nil)
	if err != nil {
		return err
	}
	for _, upload := range uploads {
		if !upload.Payload.SubmissionRequired() {
			if err := q.store.Remove(ctx, uploadKey(upload.ID)); err != nil {
				return err
			}
			continue
		}
		if upload.Exhausted() {
			// Stop retrying but keep the evidence.
			continue
		}

		outcome := q.submitter.Submit(ctx, upload.Payload)
		switch {
		case outcome.Success:
			if err := q.MarkSucceeded(ctx, upload.ID); err != nil {
				return err
			}
		case outcome.PermanentFailure:
			q.log.Warn("dropping permanently rejected upload",
				zap.String("id", upload.ID),
				zap.String("reason", outcome.ErrorMessage),
			)
			if err := q.MarkFailed(ctx, upload.ID, true); err != nil {
				return err
			}
		default:
			if err := q.MarkFailed(ctx, upload.ID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run executes retry passes on a fixed interval until the context is
// canceled. An idle pass that finds nothing pending is free, so there is no
// further lifecycle to manage.
func (q *RetryQueue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.RunPass(ctx); err != nil {
				q.log.Error("retry pass", zap.Error(err))
			}
		}
	}
}

func (q *RetryQueue) save(ctx context.Context, upload domain.PendingUpload) error {
	raw, err := json.Marshal(upload)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, uploadKey(upload.ID), raw)
}
