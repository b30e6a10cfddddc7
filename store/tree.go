package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Tree is an isolated working copy of an object tree, keyed relative to
// the prefix it was fetched from. All merge and re-index work happens on
// a Tree; only Replace writes anything back.
type Tree map[string][]byte

// Fetch loads every object under prefix into a Tree keyed by the path
// relative to prefix.
func Fetch(ctx context.Context, s ObjectStore, prefix string) (Tree, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	tree := make(Tree, len(keys))
	for _, key := range keys {
		data, err := s.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", key, err)
		}
		tree[relativeKey(prefix, key)] = data
	}
	return tree, nil
}

// Merge overlays src onto t and returns a new Tree; src wins on conflict.
// Neither input is modified.
func (t Tree) Merge(src Tree) Tree {
	out := make(Tree, len(t)+len(src))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Keys returns the tree's keys, sorted.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Replace makes the objects under prefix exactly match tree: objects no
// longer present are deleted first, then every tree object is uploaded.
// This is the single irreversible step of a publish; callers must have
// finished all preparation on the tree before calling it.
func Replace(ctx context.Context, s ObjectStore, prefix string, tree Tree) error {
	existing, err := s.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	for _, key := range existing {
		if _, keep := tree[relativeKey(prefix, key)]; keep {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	for _, rel := range tree.Keys() {
		if err := s.Put(ctx, joinKey(prefix, rel), tree[rel]); err != nil {
			return fmt.Errorf("put %q: %w", rel, err)
		}
	}
	return nil
}

// Sync mirrors the tree under prefix from one store to another, with
// Replace semantics on the destination.
func Sync(ctx context.Context, from, to ObjectStore, prefix string) error {
	tree, err := Fetch(ctx, from, prefix)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}
	if err := Replace(ctx, to, prefix, tree); err != nil {
		return fmt.Errorf("replace destination: %w", err)
	}
	return nil
}

func joinKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + "/" + rel
}

func relativeKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")), "/")
}
