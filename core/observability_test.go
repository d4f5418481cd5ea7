package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/internal/testsupport"
)

func TestObserver_RecordsSuccessAndFailure(t *testing.T) {
	metrics := &testsupport.MetricsRecorder{}
	logger := testsupport.NewLogger()
	observer := core.NewObserver("delta.client", nil, logger, metrics)

	observer.ObserveOperation(context.Background(), time.Now(), "request", nil, map[string]any{"method": "GET"})
	observer.ObserveOperation(context.Background(), time.Now(), "request", errors.New("boom"), map[string]any{"method": "GET"})

	if got := metrics.CounterTotal("delta.client.request.total"); got != 2 {
		t.Fatalf("expected two request counters, got %d", got)
	}
	if len(metrics.Histograms()) != 2 {
		t.Fatalf("expected two duration observations, got %d", len(metrics.Histograms()))
	}
	if logger.Count("error", "request failed") != 1 {
		t.Fatalf("expected one failure log, got %#v", logger.Records())
	}
	for _, counter := range metrics.Counters() {
		if counter.Tags["method"] != "GET" {
			t.Fatalf("expected method tag, got %#v", counter.Tags)
		}
	}
}

func TestObserver_NilIsSafe(t *testing.T) {
	var observer *core.Observer
	observer.Warn(context.Background(), "ignored", nil)
	observer.Counter(context.Background(), "ignored", 1, nil)
	observer.ObserveOperation(context.Background(), time.Now(), "noop", nil, nil)
}

func TestObserver_ProviderTakesPrecedence(t *testing.T) {
	fromProvider := testsupport.NewLogger()
	direct := testsupport.NewLogger()
	observer := core.NewObserver("delta.audit", testsupport.Provider{Logger: fromProvider}, direct, nil)
	observer.Info(context.Background(), "hello", map[string]any{"k": "v"})

	if len(fromProvider.Records()) != 1 {
		t.Fatalf("expected provider logger to receive the record")
	}
	if len(direct.Records()) != 0 {
		t.Fatalf("expected direct logger to be bypassed")
	}
}
