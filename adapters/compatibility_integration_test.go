package adapters_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/juanbarco92/delta/adapters/gocommand"
	"github.com/juanbarco92/delta/adapters/gojob"
	"github.com/juanbarco92/delta/adapters/gologger"
	promrecorder "github.com/juanbarco92/delta/adapters/prometheus"
	deltacommand "github.com/juanbarco92/delta/command"
	"github.com/juanbarco92/delta/core"
	itemsync "github.com/juanbarco92/delta/sync"
)

func TestEnqueuedItemSyncRunsThroughWorker(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	provider := gologger.NewProvider(&logs, "debug", "text")
	metrics := promrecorder.NewRecorder(nil)

	memQueue := &memoryQueue{}
	bus, err := gocommand.NewBus(gocommand.Handlers{
		EnqueueItemSync: deltacommand.NewEnqueueItemSyncCommand(gojob.NewItemSyncEnqueuer(memQueue)),
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(bus.Close)

	queued, err := gocommand.DispatchWithResult[deltacommand.EnqueueItemSyncMessage, deltacommand.EnqueueResult](
		ctx,
		deltacommand.EnqueueItemSyncMessage{UserID: 12},
	)
	if err != nil {
		t.Fatalf("dispatch enqueue: %v", err)
	}
	if queued.JobID != gojob.ItemSyncKey(12) || len(memQueue.pending) != 1 {
		t.Fatalf("expected one queued job, got %#v (%d pending)", queued, len(memQueue.pending))
	}

	var synced []int64
	syncer := syncerFunc(func(_ context.Context, userID int64) (itemsync.SyncResult, error) {
		synced = append(synced, userID)
		return itemsync.SyncResult{UserID: userID, Synced: 1}, nil
	})
	hook := gojob.NewObserverHook(core.NewObserver("delta.jobs", provider, nil, metrics))
	worker, err := gojob.NewWorker(memQueue, syncer, gojob.WithHook(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(synced) != 1 || synced[0] != 12 {
		t.Fatalf("expected user 12 to be synced, got %v", synced)
	}
	if memQueue.acked != 1 {
		t.Fatalf("expected the delivery to be acked")
	}
	families, err := metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "delta_jobs_succeeded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected success counter to be exported")
	}
	if !strings.Contains(logs.String(), "job succeeded") {
		t.Fatalf("expected worker log output, got:\n%s", logs.String())
	}
}

type syncerFunc func(ctx context.Context, userID int64) (itemsync.SyncResult, error)

func (f syncerFunc) SyncUserItems(ctx context.Context, userID int64) (itemsync.SyncResult, error) {
	return f(ctx, userID)
}

type memoryQueue struct {
	pending []*job.ExecutionMessage
	acked   int
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.pending = append(q.pending, msg)
	return nil
}

func (q *memoryQueue) Dequeue(context.Context) (queue.Delivery, error) {
	if len(q.pending) == 0 {
		return nil, context.Canceled
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return &memoryDelivery{queue: q, msg: next}, nil
}

type memoryDelivery struct {
	queue *memoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.acked++
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		d.queue.pending = append(d.queue.pending, d.msg)
	}
	return nil
}
