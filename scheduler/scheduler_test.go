package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type MockReindexer struct {
	calls             atomic.Int32
	ReindexIfNeededFn func(ctx context.Context) error
}

func (m *MockReindexer) ReindexIfNeeded(ctx context.Context) error {
	m.calls.Add(1)
	if m.ReindexIfNeededFn != nil {
		return m.ReindexIfNeededFn(ctx)
	}
	return nil
}

func TestSchedulerRunsImmediatelyAndOnTick(t *testing.T) {
	job := &MockReindexer{}
	s := New(10*time.Millisecond, job, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for job.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 runs, got %d", job.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Scheduler did not stop after context cancellation")
	}
}

func TestSchedulerKeepsRunningAfterJobError(t *testing.T) {
	job := &MockReindexer{
		ReindexIfNeededFn: func(ctx context.Context) error {
			return errors.New("index locked")
		},
	}
	s := New(5*time.Millisecond, job, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if job.calls.Load() < 2 {
		t.Errorf("Expected the job to be retried after failing, got %d runs", job.calls.Load())
	}
}
