package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/juanbarco92/delta/core"
	itemsync "github.com/juanbarco92/delta/sync"
)

const (
	JobIDItemSync      = "delta.items.sync"
	ScriptPathItemSync = "delta.items.sync"

	paramUserID = "user_id"

	dedupDrop = "drop"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// NackFor returns the nack options for a failed attempt. Delays double per
// attempt and are capped at MaxDelay; the final attempt is dead-lettered.
func (p RetryPolicy) NackFor(attempt int, reason string) queue.NackOptions {
	delay := p.BaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			break
		}
	}
	return p.normalize(queue.NackOptions{Delay: delay, Requeue: true, Reason: reason}, attempt)
}

func (p RetryPolicy) normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ItemSyncKey is the idempotency key for a user's pending sync. The queue
// drops a second enqueue while the first is still pending.
func ItemSyncKey(userID int64) string {
	return JobIDItemSync + ":" + strconv.FormatInt(userID, 10)
}

func NewItemSyncMessage(userID int64) (*job.ExecutionMessage, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("gojob: user id is required")
	}
	return &job.ExecutionMessage{
		JobID:          JobIDItemSync,
		ScriptPath:     ScriptPathItemSync,
		Parameters:     map[string]any{paramUserID: userID},
		IdempotencyKey: ItemSyncKey(userID),
		DedupPolicy:    job.DeduplicationPolicy(dedupDrop),
	}, nil
}

// UserIDFromMessage reads the user id back out of an item sync message.
// Numbers may arrive as float64 or string after a JSON round trip.
func UserIDFromMessage(msg *job.ExecutionMessage) (int64, error) {
	if msg == nil {
		return 0, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDItemSync {
		return 0, fmt.Errorf("gojob: unexpected job %q", msg.JobID)
	}
	var userID int64
	switch value := msg.Parameters[paramUserID].(type) {
	case int64:
		userID = value
	case int:
		userID = int64(value)
	case float64:
		userID = int64(value)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("gojob: parse user id %q: %w", value, err)
		}
		userID = parsed
	}
	if userID <= 0 {
		return 0, fmt.Errorf("gojob: message has no user id")
	}
	return userID, nil
}

type ItemSyncEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewItemSyncEnqueuer(enqueuer queue.Enqueuer) *ItemSyncEnqueuer {
	return &ItemSyncEnqueuer{enqueuer: enqueuer}
}

func (a *ItemSyncEnqueuer) EnqueueItemSync(ctx context.Context, userID int64) (string, error) {
	if a == nil || a.enqueuer == nil {
		return "", fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewItemSyncMessage(userID)
	if err != nil {
		return "", err
	}
	if err := a.enqueuer.Enqueue(ctx, msg); err != nil {
		return "", err
	}
	return msg.IdempotencyKey, nil
}

type ItemSyncer interface {
	SyncUserItems(ctx context.Context, userID int64) (itemsync.SyncResult, error)
}

type Worker struct {
	dequeuer queue.Dequeuer
	syncer   ItemSyncer
	policy   RetryPolicy
	hook     worker.Hook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		if hook != nil {
			w.hook = hook
		}
	}
}

func NewWorker(dequeuer queue.Dequeuer, syncer ItemSyncer, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("gojob: item syncer is required")
	}
	w := &Worker{
		dequeuer: dequeuer,
		syncer:   syncer,
		policy:   DefaultRetryPolicy(),
		hook:     NewObserverHook(nil),
		now:      time.Now,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles one delivery. Sync failures are nacked and reported
// through the hook; only queue errors are returned.
func (w *Worker) ProcessNext(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	event := worker.Event{Message: msg, Delivery: delivery, StartedAt: w.now()}

	userID, err := UserIDFromMessage(msg)
	if err != nil {
		event.Err = err
		w.hook.OnFailure(ctx, event)
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	key := ItemSyncKey(userID)
	attempt := w.nextAttempt(key)
	event.Attempt = attempt
	w.hook.OnStart(ctx, event)

	_, syncErr := w.syncer.SyncUserItems(ctx, userID)
	event.Duration = w.now().Sub(event.StartedAt)
	if syncErr == nil {
		w.forget(key)
		w.hook.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = syncErr
	opts := w.policy.NackFor(attempt, syncErr.Error())
	if permanent(syncErr) {
		opts = queue.NackOptions{DeadLetter: true, Reason: syncErr.Error()}
	}
	if opts.Requeue {
		event.Delay = opts.Delay
		w.hook.OnRetry(ctx, event)
	} else {
		w.forget(key)
		w.hook.OnFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

// permanent errors will not succeed on retry without operator action.
func permanent(err error) bool {
	return errors.Is(err, core.ErrUserNotFound) ||
		core.IsAuthError(err, core.AuthNoCredential)
}

type ObserverHook struct {
	observer *core.Observer
}

func NewObserverHook(observer *core.Observer) *ObserverHook {
	if observer == nil {
		observer = core.NewObserver("delta.jobs", nil, nil, nil)
	}
	return &ObserverHook{observer: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.observer.Debug(ctx, "job started", eventFields(event))
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observer.Counter(ctx, "succeeded", 1, eventTags(event))
	h.observer.Info(ctx, "job succeeded", eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observer.Counter(ctx, "failed", 1, eventTags(event))
	h.observer.Error(ctx, "job failed", eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.observer.Counter(ctx, "retried", 1, eventTags(event))
	h.observer.Warn(ctx, "job scheduled for retry", eventFields(event))
}

func eventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if message != nil {
		fields["job_id"] = message.JobID
		fields["idempotency_key"] = message.IdempotencyKey
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func eventTags(event worker.Event) map[string]string {
	if event.Message == nil {
		return map[string]string{}
	}
	return map[string]string{"job_id": event.Message.JobID}
}

var _ worker.Hook = (*ObserverHook)(nil)
