package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/backflow"
	"github.com/sells-group/entity-resolver/internal/directory"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// WorkerConfig controls one worker.
type WorkerConfig struct {
	// BatchSize is the maximum number of items claimed per tick. Default: 50.
	BatchSize int
	// Schedule is the retry ladder. Default: 1m, 5m, 15m.
	Schedule resilience.Schedule
	// StaleAfter is how long an item may stay claimed before the next tick
	// returns it to pending. Zero disables stale-claim recovery.
	StaleAfter time.Duration
	// Breaker configures the directory circuit breaker.
	Breaker resilience.CircuitBreakerConfig
}

// DefaultWorkerConfig returns the worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:  50,
		Schedule:   resilience.DefaultSchedule(),
		StaleAfter: 15 * time.Minute,
		Breaker:    resilience.DefaultCircuitBreakerConfig(),
	}
}

// TickResult summarizes one DrainQueueOnce call.
type TickResult struct {
	Requeued int64 `json:"requeued"`
	Claimed  int   `json:"claimed"`
	Done     int   `json:"done"`
	Retried  int   `json:"retried"`
	Failed   int   `json:"failed"`
	Released int   `json:"released"`
	Promoted int   `json:"promoted"`
	Skipped  bool  `json:"skipped"` // breaker open, nothing claimed
}

// Fields returns the result as zap fields.
func (r TickResult) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("requeued", r.Requeued),
		zap.Int("claimed", r.Claimed),
		zap.Int("done", r.Done),
		zap.Int("retried", r.Retried),
		zap.Int("failed", r.Failed),
		zap.Int("released", r.Released),
		zap.Int("promoted", r.Promoted),
		zap.Bool("skipped", r.Skipped),
	}
}

// Worker drains the queue against the directory. Calls made by the worker
// are not budgeted.
type Worker struct {
	store    Store
	client   directory.Client
	backflow *backflow.Writer
	cfg      WorkerConfig
	breaker  *resilience.CircuitBreaker
	now      func() time.Time
	log      *zap.Logger
}

// NewWorker creates a Worker. Zero config fields take their defaults.
func NewWorker(store Store, client directory.Client, writer *backflow.Writer, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = def.Schedule
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = def.Breaker.Name
	}
	return &Worker{
		store:    store,
		client:   client,
		backflow: writer,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "queue.worker")),
	}
}

// Breaker exposes the worker's circuit breaker.
func (w *Worker) Breaker() *resilience.CircuitBreaker {
	return w.breaker
}

// DrainQueueOnce runs one tick: recover stale claims, claim due items and
// resolve them one at a time. An error is returned only when the claim
// itself fails; the next tick retries. Cancellation stops the tick between
// items and releases whatever was claimed but not processed.
func (w *Worker) DrainQueueOnce(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := w.now()

	if w.cfg.StaleAfter > 0 {
		n, err := w.store.RequeueStale(ctx, now.Add(-w.cfg.StaleAfter))
		if err != nil {
			w.log.Warn("queue: requeue stale failed", zap.Error(err))
		}
		res.Requeued = n
	}

	if w.breaker.State() == resilience.CircuitOpen {
		res.Skipped = true
		w.log.Info("queue: directory circuit open, skipping tick")
		return res, nil
	}

	items, err := w.store.Claim(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return res, eris.Wrap(err, "queue: drain")
	}
	res.Claimed = len(items)
	if len(items) == 0 {
		return res, nil
	}

	session := directory.NewSession(w.client, directory.Unlimited)
	for i, item := range items {
		if ctx.Err() != nil {
			w.release(ctx, items[i:], &res, "shutdown")
			break
		}

		info, lookupErr := resilience.ExecuteVal(ctx, w.breaker, func(ctx context.Context) (*directory.CompanyInfo, error) {
			return session.Lookup(ctx, item.RawName)
		})

		switch {
		case errors.Is(lookupErr, resilience.ErrCircuitOpen):
			w.release(ctx, items[i:], &res, "circuit open")
			return res, nil
		case errors.Is(lookupErr, directory.ErrUnauthorized), errors.Is(lookupErr, directory.ErrUnavailable):
			w.release(ctx, items[i:], &res, "directory unauthorized")
			return res, nil
		case lookupErr != nil && ctx.Err() != nil:
			w.release(ctx, items[i:], &res, "shutdown")
			return res, nil
		}

		w.settle(ctx, item, info, lookupErr, &res)
	}

	return res, nil
}

// settle applies the outcome of one lookup to the item.
func (w *Worker) settle(ctx context.Context, item model.QueueItem, info *directory.CompanyInfo, lookupErr error, res *TickResult) {
	now := w.now()
	if lookupErr == nil && info == nil {
		lookupErr = directory.ErrNotFound
	}
	if lookupErr != nil {
		w.fail(ctx, item, now, lookupErr.Error(), res)
		return
	}
	if model.Decide(info.Confidence) == model.DecisionReject {
		w.fail(ctx, item, now, fmt.Sprintf("match %s below threshold (%.2f)", info.CompanyID, info.Confidence), res)
		return
	}

	written, _, err := w.backflow.Promote(ctx, []backflow.Candidate{{
		Type:       model.LookupCustomerName,
		Raw:        item.RawName,
		CompanyID:  info.CompanyID,
		Confidence: info.Confidence,
		Source:     model.SourceExternalAPI,
	}})
	if err != nil {
		w.fail(ctx, item, now, err.Error(), res)
		return
	}
	if written == 0 {
		w.fail(ctx, item, now, fmt.Sprintf("directory returned unusable id %q", info.CompanyID), res)
		return
	}
	res.Promoted += written

	if err := w.store.MarkDone(context.WithoutCancel(ctx), item.RequestID, now); err != nil {
		w.log.Error("queue: mark done", zap.String("request_id", item.RequestID), zap.Error(err))
		return
	}
	res.Done++
}

// fail consumes one attempt: the item is rescheduled while the ladder has
// steps left and marked failed after that.
func (w *Worker) fail(ctx context.Context, item model.QueueItem, now time.Time, msg string, res *TickResult) {
	ctx = context.WithoutCancel(ctx)
	delay, ok := w.cfg.Schedule.Next(item.Attempts)
	if ok {
		if err := w.store.MarkRetry(ctx, item.RequestID, now.Add(delay), msg); err != nil {
			w.log.Error("queue: mark retry", zap.String("request_id", item.RequestID), zap.Error(err))
			return
		}
		res.Retried++
		w.log.Debug("queue: lookup failed, retry scheduled",
			zap.String("name", item.NormalizedName),
			zap.Int("attempt", item.Attempts+1),
			zap.Duration("delay", delay),
			zap.String("error", msg),
		)
		return
	}

	if err := w.store.MarkFailed(ctx, item.RequestID, now, msg); err != nil {
		w.log.Error("queue: mark failed", zap.String("request_id", item.RequestID), zap.Error(err))
		return
	}
	res.Failed++
	w.log.Warn("queue: giving up on name",
		zap.String("name", item.NormalizedName),
		zap.String("temp_id", item.AssignedTempID),
		zap.Int("attempts", item.Attempts+1),
		zap.String("error", msg),
	)
}

func (w *Worker) release(ctx context.Context, items []model.QueueItem, res *TickResult, reason string) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.RequestID
	}
	if err := w.store.Release(context.WithoutCancel(ctx), ids); err != nil {
		w.log.Error("queue: release", zap.Int("items", len(ids)), zap.Error(err))
		return
	}
	res.Released += len(ids)
	w.log.Info("queue: released claimed items", zap.Int("items", len(ids)), zap.String("reason", reason))
}

// Run calls DrainQueueOnce every interval until ctx is done. Claim errors
// are logged and left to the next tick.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return eris.Errorf("queue: run interval must be positive, got %s", interval)
	}
	w.log.Info("queue: worker started", zap.Duration("interval", interval), zap.Int("batch_size", w.cfg.BatchSize))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := w.DrainQueueOnce(ctx)
		switch {
		case err != nil:
			w.log.Warn("queue: tick failed", zap.Error(err))
		case res.Claimed > 0 || res.Requeued > 0:
			w.log.Info("queue: tick complete", res.Fields()...)
		}

		select {
		case <-ctx.Done():
			w.log.Info("queue: worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
