package sign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relpipe/relpipe/store"
)

// ObjectStoreSigs persists signatures as JSON objects next to the release
// artifacts, one object per signature, and serves lookups from memory.
// Writes go through to the object store so signatures survive the run.
type ObjectStoreSigs struct {
	backend store.ObjectStore
	prefix  string

	mu   sync.Mutex
	sigs []Signature
}

var _ Store = (*ObjectStoreSigs)(nil)

// NewObjectStoreSigs opens a signature store under prefix, loading any
// signatures from previous runs.
func NewObjectStoreSigs(ctx context.Context, backend store.ObjectStore, prefix string) (*ObjectStoreSigs, error) {
	s := &ObjectStoreSigs{backend: backend, prefix: prefix}
	keys, err := backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := backend.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load signature %s: %w", key, err)
		}
		var sig Signature
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, fmt.Errorf("decode signature %s: %w", key, err)
		}
		s.sigs = append(s.sigs, sig)
	}
	return s, nil
}

func (s *ObjectStoreSigs) key(sig Signature) string {
	digest := strings.ReplaceAll(sig.Digest, ":", "-")
	return fmt.Sprintf("%s/%s/%s/%s-%s.json", s.prefix, sig.Subject.Registry, sig.Subject.Tag, sig.Scheme, digest)
}

func (s *ObjectStoreSigs) Put(ctx context.Context, sigs ...Signature) error {
	for _, sig := range sigs {
		data, err := json.MarshalIndent(sig, "", "  ")
		if err != nil {
			return fmt.Errorf("encode signature: %w", err)
		}
		if err := s.backend.Put(ctx, s.key(sig), data); err != nil {
			return fmt.Errorf("store signature for %s/%s: %w", sig.Subject.Registry, sig.Subject.Tag, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs = append(s.sigs, sigs...)
	return nil
}

func (s *ObjectStoreSigs) BySubject(registry, tag string) []Signature {
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

// FileLog is a TransparencyLog appending JSON lines to an object in an
// object store. The log is append-only: the index of an entry is its line
// number and existing lines are never rewritten.
type FileLog struct {
	backend store.ObjectStore
	key     string

	mu    sync.Mutex
	count int64
}

var _ TransparencyLog = (*FileLog)(nil)

// NewFileLog opens (or creates) the log object at key.
func NewFileLog(ctx context.Context, backend store.ObjectStore, key string) (*FileLog, error) {
	l := &FileLog{backend: backend, key: key}
	data, err := backend.Get(ctx, key)
	if err == nil {
		l.count = int64(len(splitLines(data)))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("open transparency log %s: %w", key, err)
	}
	return l, nil
}

func (l *FileLog) Append(ctx context.Context, entry LogEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line, err := json.Marshal(struct {
		Digest   string    `json:"digest"`
		Identity string    `json:"identity"`
		SignedAt time.Time `json:"signed_at"`
	}{entry.Digest, entry.Identity, entry.SignedAt})
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}
	existing, err := l.backend.Get(ctx, l.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("read transparency log: %w", err)
	}
	updated := append(existing, append(line, '\n')...)
	if err := l.backend.Put(ctx, l.key, updated); err != nil {
		return 0, fmt.Errorf("append transparency log: %w", err)
	}
	idx := l.count
	l.count++
	return idx, nil
}

func splitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
