package packages

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/relpipe/relpipe/registry"
	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/store"
)

// FormatIndexer rebuilds a flat signed index for one package format. The
// index lists every pool object with its sha256 and size, sorted by path,
// and a detached signature is written next to it. Index and signature
// keys are excluded from the listing so repeated runs converge.
type FormatIndexer struct {
	// FormatName names the format in errors ("deb", "rpm").
	FormatName string

	// PoolPrefix is the tree prefix holding the format's packages,
	// e.g. "deb/pool/".
	PoolPrefix string

	// IndexKey is the tree key of the repository index,
	// e.g. "deb/dists/stable/Release".
	IndexKey string
}

func (f *FormatIndexer) Format() string { return f.FormatName }

// sigKey is the detached signature written next to the index.
func (f *FormatIndexer) sigKey() string { return f.IndexKey + ".sig" }

// Reindex implements Indexer.
func (f *FormatIndexer) Reindex(tree store.Tree, key *sign.KeySigner) error {
	if f.PoolPrefix == "" || f.IndexKey == "" {
		return fmt.Errorf("indexer %s: pool prefix and index key required", f.FormatName)
	}
	// tree.Keys is sorted, so the index lines come out path-ordered.
	var lines []string
	for _, k := range tree.Keys() {
		if !strings.HasPrefix(k, f.PoolPrefix) {
			continue
		}
		if k == f.IndexKey || k == f.sigKey() {
			continue
		}
		digest := strings.TrimPrefix(registry.DigestBytes(tree[k]), "sha256:")
		lines = append(lines, fmt.Sprintf("%s %d %s", digest, len(tree[k]), k))
	}
	index := []byte(strings.Join(lines, "\n") + "\n")
	tree[f.IndexKey] = index
	tree[f.sigKey()] = []byte(hex.EncodeToString(key.SignBytes(index)) + "\n")
	return nil
}

// DefaultIndexers covers the two package formats the release store
// carries.
func DefaultIndexers() []Indexer {
	return []Indexer{
		&FormatIndexer{FormatName: "deb", PoolPrefix: "deb/pool/", IndexKey: "deb/dists/stable/Release"},
		&FormatIndexer{FormatName: "rpm", PoolPrefix: "rpm/", IndexKey: "rpm/repodata/repomd.xml"},
	}
}
