package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/internal/testsupport"
	itemsync "github.com/juanbarco92/delta/sync"
)

func TestItemSyncMessageRoundTrip(t *testing.T) {
	msg, err := NewItemSyncMessage(42)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.JobID != JobIDItemSync || msg.IdempotencyKey != "delta.items.sync:42" {
		t.Fatalf("unexpected message %#v", msg)
	}
	userID, err := UserIDFromMessage(msg)
	if err != nil || userID != 42 {
		t.Fatalf("expected user 42, got %d %v", userID, err)
	}

	decoded := &job.ExecutionMessage{JobID: JobIDItemSync, Parameters: map[string]any{"user_id": float64(42)}}
	if userID, err := UserIDFromMessage(decoded); err != nil || userID != 42 {
		t.Fatalf("expected json-decoded user id to parse, got %d %v", userID, err)
	}
	if _, err := UserIDFromMessage(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job to be rejected")
	}
	if _, err := NewItemSyncMessage(0); err == nil {
		t.Fatalf("expected missing user id to fail")
	}
}

func TestItemSyncEnqueuer(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	key, err := NewItemSyncEnqueuer(enqueuer).EnqueueItemSync(context.Background(), 7)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if key != ItemSyncKey(7) {
		t.Fatalf("unexpected key %q", key)
	}
	if enqueuer.last == nil || enqueuer.last.Parameters["user_id"] != int64(7) {
		t.Fatalf("expected mapped go-job message, got %#v", enqueuer.last)
	}

	var unset *ItemSyncEnqueuer
	if _, err := unset.EnqueueItemSync(context.Background(), 7); err == nil {
		t.Fatalf("expected unconfigured enqueuer to fail")
	}
}

func TestRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := policy.NackFor(1, " transient ")
	if !first.Requeue || first.Delay != 4*time.Second || first.Reason != "transient" {
		t.Fatalf("unexpected first nack %#v", first)
	}
	second := policy.NackFor(2, "transient")
	if !second.Requeue || second.Delay != 8*time.Second {
		t.Fatalf("expected doubled delay, got %#v", second)
	}
	last := policy.NackFor(3, "still failing")
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter on max attempts, got %#v", last)
	}
	if last.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", last.Delay)
	}
}

func TestWorkerAcksSuccessfulSync(t *testing.T) {
	msg, _ := NewItemSyncMessage(5)
	delivery := &stubQueueDelivery{msg: msg}
	metrics := &testsupport.MetricsRecorder{}
	hook := NewObserverHook(core.NewObserver("delta.jobs", nil, testsupport.NewLogger(), metrics))

	var synced int64
	syncer := stubSyncer(func(_ context.Context, userID int64) (itemsync.SyncResult, error) {
		synced = userID
		return itemsync.SyncResult{UserID: userID, Synced: 2}, nil
	})
	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, syncer, WithHook(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if synced != 5 || !delivery.acked {
		t.Fatalf("expected user 5 synced and acked, synced=%d acked=%v", synced, delivery.acked)
	}
	if metrics.CounterTotal("delta.jobs.succeeded") != 1 {
		t.Fatalf("expected success counter, got %#v", metrics.Counters())
	}
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	msg, _ := NewItemSyncMessage(5)
	deliveries := []*stubQueueDelivery{{msg: msg}, {msg: msg}}
	syncer := stubSyncer(func(context.Context, int64) (itemsync.SyncResult, error) {
		return itemsync.SyncResult{}, errors.New("marketplace unavailable")
	})
	w, err := NewWorker(
		&stubQueueDequeuer{deliveries: []queue.Delivery{deliveries[0], deliveries[1]}},
		syncer,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, DeadLetterOnMax: true}),
	)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	for range deliveries {
		if err := w.ProcessNext(context.Background()); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if !deliveries[0].nackOpts.Requeue || deliveries[0].nackOpts.Delay != time.Second {
		t.Fatalf("expected first failure to requeue, got %#v", deliveries[0].nackOpts)
	}
	if deliveries[1].nackOpts.Requeue || !deliveries[1].nackOpts.DeadLetter {
		t.Fatalf("expected second failure to dead letter, got %#v", deliveries[1].nackOpts)
	}
}

func TestWorkerDeadLettersMissingCredential(t *testing.T) {
	msg, _ := NewItemSyncMessage(5)
	delivery := &stubQueueDelivery{msg: msg}
	syncer := stubSyncer(func(context.Context, int64) (itemsync.SyncResult, error) {
		return itemsync.SyncResult{}, core.NewAuthError(core.AuthNoCredential, nil)
	})
	w, _ := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}, syncer)
	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue {
		t.Fatalf("expected immediate dead letter, got %#v", delivery.nackOpts)
	}
}

func TestObserverHookLogsRetry(t *testing.T) {
	logger := testsupport.NewLogger()
	hook := NewObserverHook(core.NewObserver("delta.jobs", nil, logger, nil))
	msg, _ := NewItemSyncMessage(9)
	hook.OnRetry(context.Background(), worker.Event{
		Message: msg,
		Attempt: 2,
		Delay:   5 * time.Second,
		Err:     errors.New("retry"),
	})
	records := logger.Records()
	if len(records) != 1 || records[0].Level != "warn" {
		t.Fatalf("expected one warn record, got %#v", records)
	}
	if records[0].Fields["job_id"] != JobIDItemSync || records[0].Fields["attempt"] != 2 {
		t.Fatalf("unexpected fields %#v", records[0].Fields)
	}
}

type stubSyncer func(ctx context.Context, userID int64) (itemsync.SyncResult, error)

func (s stubSyncer) SyncUserItems(ctx context.Context, userID int64) (itemsync.SyncResult, error) {
	return s(ctx, userID)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		return nil, context.Canceled
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
