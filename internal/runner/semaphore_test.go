package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/nanoclaw/host/internal/runner"
)

func TestSemaphore_BoundsConcurrentHolders(t *testing.T) {
	sem := runner.NewSemaphore(2)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if sem.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", sem.InUse())
	}

	acquired := make(chan struct{})
	go func() {
		_ = sem.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("expected third acquire to block while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected third acquire to proceed after a release")
	}
}

func TestSemaphore_AcquireRespectsContextCancellation(t *testing.T) {
	sem := runner.NewSemaphore(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestSemaphore_CapacityAndInUse(t *testing.T) {
	sem := runner.NewSemaphore(4)
	if sem.Capacity() != 4 {
		t.Fatalf("expected capacity 4, got %d", sem.Capacity())
	}
	if sem.InUse() != 0 {
		t.Fatalf("expected 0 in use initially, got %d", sem.InUse())
	}
}
