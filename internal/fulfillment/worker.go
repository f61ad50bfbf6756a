package fulfillment

import (
	"context"
	"log"
	"time"
)

// Sender is the subset of Client the worker needs.
type Sender interface {
	SendTopup(ctx context.Context, req TopupRequest) (TopupResponse, error)
}

// RetryConfig bounds the worker's re-delivery attempts.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
	Interval          time.Duration
}

// Worker re-sends queued fulfillments until delivered or out of
// attempts. The on-chain payment is never re-submitted; only the
// provider call is retried.
type Worker struct {
	store   Store
	sender  Sender
	retry   RetryConfig
	onDepth func(int)
	now     func() time.Time
}

// NewWorker wires the retry loop. onDepth, when set, receives the
// pending-queue depth after every sweep.
func NewWorker(store Store, sender Sender, retry RetryConfig, onDepth func(int)) *Worker {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 30 * time.Second
	}
	if retry.Interval <= 0 {
		retry.Interval = 15 * time.Second
	}
	return &Worker{store: store, sender: sender, retry: retry, onDepth: onDepth, now: time.Now}
}

// Run sweeps the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.retry.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep retries every due pending record once.
func (w *Worker) Sweep(ctx context.Context) {
	pending, err := w.store.Pending(ctx)
	if err != nil {
		log.Printf("pending queue read error: %v", err)
		return
	}

	now := w.now()
	for _, rec := range pending {
		if rec.Attempts >= w.retry.MaxAttempts {
			continue
		}
		if now.Before(rec.NextAttemptAt) {
			continue
		}
		w.attempt(ctx, rec)
	}

	w.reportDepth(ctx)
}

func (w *Worker) attempt(ctx context.Context, rec Record) {
	_, err := w.sender.SendTopup(ctx, rec.Request)
	if err == nil {
		if err := w.store.Resolve(ctx, rec.TxHash); err != nil {
			log.Printf("pending queue resolve error for %s: %v", rec.TxHash, err)
		}
		log.Printf("queued topup delivered for payment %s", rec.TxHash)
		return
	}

	rec.Attempts++
	rec.LastError = err.Error()
	rec.NextAttemptAt = w.now().Add(w.backoff(rec.Attempts))
	rec.UpdatedAt = w.now().UTC()
	if err := w.store.Save(ctx, rec); err != nil {
		log.Printf("pending queue save error for %s: %v", rec.TxHash, err)
	}
	if rec.Attempts >= w.retry.MaxAttempts {
		log.Printf("queued topup for payment %s exhausted %d attempts: %v", rec.TxHash, rec.Attempts, err)
	}
}

func (w *Worker) backoff(attempts int) time.Duration {
	d := w.retry.InitialBackoff
	for i := 1; i < attempts; i++ {
		if w.retry.BackoffMultiplier > 1 {
			d *= time.Duration(w.retry.BackoffMultiplier)
		}
		if w.retry.MaxBackoff > 0 && d > w.retry.MaxBackoff {
			return w.retry.MaxBackoff
		}
	}
	return d
}

func (w *Worker) reportDepth(ctx context.Context) {
	if w.onDepth == nil {
		return
	}
	pending, err := w.store.Pending(ctx)
	if err != nil {
		return
	}
	w.onDepth(len(pending))
}
