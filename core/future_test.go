package recognition

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture[string]()
	if !f.resolve("first", nil) {
		t.Fatalf("expected the first resolve to take effect")
	}
	if f.resolve("second", errors.New("late")) {
		t.Fatalf("expected the second resolve to be ignored")
	}

	result, err := f.Get(context.Background())
	if err != nil || result != "first" {
		t.Fatalf("expected first, got %q (%v)", result, err)
	}
	select {
	case <-f.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
}

func TestFutureGetHonoursContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFutureCancel(t *testing.T) {
	calls := 0
	f := newFuture[int]()
	f.cancel = func() { calls++ }

	f.Cancel()
	f.resolve(0, errors.New("canceled"))
	f.Cancel()

	if calls != 1 {
		t.Fatalf("expected cancel to run once before resolution, got %d", calls)
	}
}

func TestFailedFuture(t *testing.T) {
	want := errors.New("nope")
	f := failedFuture[int](want)
	if _, err := f.Get(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
