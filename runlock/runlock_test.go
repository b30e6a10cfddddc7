package runlock

import (
	"errors"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	l := New()
	release, err := l.Acquire("product-release")
	if err != nil {
		t.Fatal(err)
	}
	if !l.Held("product-release") {
		t.Error("lock should be held")
	}
	release()
	if l.Held("product-release") {
		t.Error("lock should be free after release")
	}
}

func TestSecondAcquireRejected(t *testing.T) {
	l := New()
	release, err := l.Acquire("product-release")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if _, err := l.Acquire("product-release"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
}

func TestDistinctPipelinesIndependent(t *testing.T) {
	l := New()
	r1, err := l.Acquire("product-release")
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	r2, err := l.Acquire("plugin-release")
	if err != nil {
		t.Fatalf("distinct pipeline should acquire: %v", err)
	}
	defer r2()
}

func TestReleaseIdempotent(t *testing.T) {
	l := New()
	release, err := l.Acquire("product-release")
	if err != nil {
		t.Fatal(err)
	}
	release()
	// A new run takes the lock; a stale second release must not free it.
	if _, err := l.Acquire("product-release"); err != nil {
		t.Fatal(err)
	}
	release()
	if !l.Held("product-release") {
		t.Error("stale release must not free the new run's lock")
	}
}
