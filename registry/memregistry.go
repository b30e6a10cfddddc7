package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relpipe/relpipe/graph"
)

// MemRegistry is an in-memory Registry for tests. It records every call
// in an operation log (so tests can prove ordering, e.g. that an
// existence check ran before any push) and can inject transient push
// failures per tag.
type MemRegistry struct {
	name string

	mu           sync.Mutex
	images       map[string]Image
	ops          []string
	failPushes   map[string]int
	pushAttempts map[string]int
}

// NewMemRegistry returns an empty registry with the given name.
func NewMemRegistry(name string) *MemRegistry {
	return &MemRegistry{
		name:         name,
		images:       make(map[string]Image),
		failPushes:   make(map[string]int),
		pushAttempts: make(map[string]int),
	}
}

func (r *MemRegistry) Name() string { return r.name }

// Seed stores an image under tag without recording an op.
func (r *MemRegistry) Seed(tag string, img Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[tag] = img
}

// FailPushes makes the next n pushes of tag fail with a transient error.
func (r *MemRegistry) FailPushes(tag string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPushes[tag] = n
}

func (r *MemRegistry) HasTag(ctx context.Context, tag string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "has:"+tag)
	_, ok := r.images[tag]
	return ok, nil
}

func (r *MemRegistry) Image(ctx context.Context, tag string) (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "pull:"+tag)
	img, ok := r.images[tag]
	if !ok {
		return Image{}, fmt.Errorf("%s:%s: %w", r.name, tag, ErrTagNotFound)
	}
	return img, nil
}

func (r *MemRegistry) Push(ctx context.Context, tag string, img Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "push:"+tag)
	r.pushAttempts[tag]++
	if n := r.failPushes[tag]; n > 0 {
		r.failPushes[tag] = n - 1
		return graph.TransientErr(fmt.Errorf("%s: push %s: connection reset", r.name, tag))
	}
	r.images[tag] = img
	return nil
}

func (r *MemRegistry) Tags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.images))
	for t := range r.images {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags, nil
}

// Ops returns the recorded operations in call order.
func (r *MemRegistry) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

// PushAttempts returns how many pushes (including failed ones) were made
// for tag.
func (r *MemRegistry) PushAttempts(tag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushAttempts[tag]
}

// Has reports whether tag is stored, without logging an op.
func (r *MemRegistry) Has(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.images[tag]
	return ok
}
