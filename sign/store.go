package sign

import (
	"context"
	"sync"
)

// Store keeps the signatures produced for promoted images, the stand-in
// for signature artifacts pushed next to image tags in a registry.
type Store interface {
	Put(ctx context.Context, sigs ...Signature) error
	// BySubject returns all signatures recorded for a registry/tag pair.
	BySubject(registry, tag string) []Signature
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu   sync.Mutex
	sigs []Signature
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Put(ctx context.Context, sigs ...Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs = append(s.sigs, sigs...)
	return nil
}

func (s *MemStore) BySubject(registry, tag string) []Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Signature
	for _, sig := range s.sigs {
		if sig.Subject.Registry == registry && sig.Subject.Tag == tag {
			out = append(out, sig)
		}
	}
	return out
}

// All returns every recorded signature.
func (s *MemStore) All() []Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Signature, len(s.sigs))
	copy(out, s.sigs)
	return out
}
