package release

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/relpipe/relpipe/store"
)

func TestGate_MatchPasses(t *testing.T) {
	ctx := context.Background()
	staging := store.NewMemStore()
	staging.Put(ctx, DefaultMarkerKey, []byte("1.9.3\n"))
	g := &Gate{Staging: staging}
	if err := g.Check(ctx, "1.9.3"); err != nil {
		t.Fatal(err)
	}
}

func TestGate_MismatchHaltsWithZeroSideEffects(t *testing.T) {
	ctx := context.Background()
	staging := store.NewMemStore()
	staging.Put(ctx, DefaultMarkerKey, []byte("1.9.3"))
	before := staging.Snapshot()

	g := &Gate{Staging: staging}
	pairs := [][2]string{
		{"1.9.3", "1.9.4"},
		{"1.9.3", "2.0.0"},
		{"1.9.3", ""},
		{"1.9.3", "1.9.30"},
	}
	for _, p := range pairs {
		staging.Put(ctx, DefaultMarkerKey, []byte(p[0]))
		err := g.Check(ctx, p[1])
		if !errors.Is(err, ErrVersionMismatch) {
			t.Errorf("staged %q requested %q: expected ErrVersionMismatch, got %v", p[0], p[1], err)
		}
		if !strings.Contains(err.Error(), p[0]) {
			t.Errorf("error should name the staged version: %v", err)
		}
	}

	staging.Put(ctx, DefaultMarkerKey, []byte("1.9.3"))
	if got := staging.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Error("gate must not write to the store")
	}
}

func TestGate_MissingMarker(t *testing.T) {
	ctx := context.Background()
	g := &Gate{Staging: store.NewMemStore()}
	err := g.Check(ctx, "1.9.3")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound in chain, got %v", err)
	}
}

func TestGate_CustomMarkerKey(t *testing.T) {
	ctx := context.Background()
	staging := store.NewMemStore()
	staging.Put(ctx, "staging/VERSION", []byte("2.0.1"))
	g := &Gate{Staging: staging, MarkerKey: "staging/VERSION"}
	if err := g.Check(ctx, "2.0.1"); err != nil {
		t.Fatal(err)
	}
}
