package graph

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetries_TransientRetriedUntilSuccess(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := WithRetries(ctx, 3, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return TransientErr(errors.New("blip"))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestWithRetries_ExhaustedReturnsLastError(t *testing.T) {
	ctx := context.Background()
	errBlip := errors.New("blip")
	calls := 0
	err := WithRetries(ctx, 3, func(ctx context.Context) error {
		calls++
		return TransientErr(errBlip)
	})
	if err == nil || !errors.Is(err, errBlip) {
		t.Fatalf("expected wrapped blip, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestWithRetries_PermanentNotRetried(t *testing.T) {
	ctx := context.Background()
	errPerm := errors.New("permanent")
	calls := 0
	err := WithRetries(ctx, 5, func(ctx context.Context) error {
		calls++
		return errPerm
	})
	if !errors.Is(err, errPerm) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, calls=%d", calls)
	}
}

func TestWithRetries_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetries(ctx, 3, func(ctx context.Context) error {
		calls++
		return TransientErr(errors.New("x"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if calls != 0 {
		t.Errorf("cancelled context should stop before calling fn, calls=%d", calls)
	}
}

func TestTransientMarker(t *testing.T) {
	inner := errors.New("inner")
	err := TransientErr(inner)
	if !IsTransient(err) {
		t.Error("TransientErr should be transient")
	}
	if !errors.Is(err, inner) {
		t.Error("marker should unwrap to inner")
	}
	if IsTransient(inner) {
		t.Error("plain error should not be transient")
	}
}
