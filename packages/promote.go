// Package packages merges a staged package set over the released set,
// re-signs and re-indexes the repository metadata of each package format,
// purges staging-only control files, and atomically replaces the release
// store with the result. All preparation happens on an isolated working
// tree; the replace is the only step that mutates external state, so a
// failure anywhere earlier leaves the release store untouched.
package packages

import (
	"context"
	"fmt"

	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/store"
)

// Indexer rebuilds and signs one package format's repository metadata
// across a merged tree.
type Indexer interface {
	Format() string
	// Reindex rewrites the format's index objects in tree, signing them
	// with key. It must be deterministic for identical pool contents so
	// re-running a publish yields a byte-identical store.
	Reindex(tree store.Tree, key *sign.KeySigner) error
}

// Promoter publishes staged packages into the release store.
type Promoter struct {
	Staging store.ObjectStore
	Release store.ObjectStore

	// StagingPrefix and ReleasePrefix scope the package trees within
	// each store.
	StagingPrefix string
	ReleasePrefix string

	// Key is the imported release signing key. Required: indexes are
	// always signed.
	Key *sign.KeySigner

	Indexers []Indexer

	// Purge lists staging-only control files (version marker, ephemeral
	// repo configs) removed from the merged tree before publishing.
	Purge []string
}

// Run executes the publish. Steps, each a hard precondition for the next:
// fetch both trees and merge (staged wins on conflict), re-index every
// format, purge control files, then replace the release store contents.
func (p *Promoter) Run(ctx context.Context) error {
	if p.Key == nil {
		return fmt.Errorf("publish: release signing key not imported")
	}
	released, err := store.Fetch(ctx, p.Release, p.ReleasePrefix)
	if err != nil {
		return fmt.Errorf("publish: fetch released packages: %w", err)
	}
	staged, err := store.Fetch(ctx, p.Staging, p.StagingPrefix)
	if err != nil {
		return fmt.Errorf("publish: fetch staged packages: %w", err)
	}
	merged := released.Merge(staged)

	for _, idx := range p.Indexers {
		if err := idx.Reindex(merged, p.Key); err != nil {
			return fmt.Errorf("publish: reindex %s: %w", idx.Format(), err)
		}
	}
	for _, key := range p.Purge {
		delete(merged, key)
	}
	if err := store.Replace(ctx, p.Release, p.ReleasePrefix, merged); err != nil {
		return fmt.Errorf("publish: replace release store: %w", err)
	}
	return nil
}
