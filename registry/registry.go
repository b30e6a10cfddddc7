// Package registry models the container registry surface the release
// flow needs: multi-architecture tagged images, existence checks, and the
// two promotion paths (manifest-list copy and pull/re-tag/push).
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// ErrTagNotFound is returned when a tag does not exist in a registry.
var ErrTagNotFound = errors.New("tag not found")

// Platform identifies one variant referenced by a manifest list.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string { return p.OS + "/" + p.Arch }

// Manifest is one platform-specific image manifest.
type Manifest struct {
	Platform Platform
	Digest   string
}

// Image is a tagged multi-architecture image: a manifest list digest
// fanning out to per-platform manifests.
type Image struct {
	Digest    string
	Manifests []Manifest
}

// Manifest returns the platform manifest for p.
func (i Image) Manifest(p Platform) (Manifest, bool) {
	for _, m := range i.Manifests {
		if m.Platform == p {
			return m, true
		}
	}
	return Manifest{}, false
}

// Registry is the pull/push surface of a container registry.
// Implementations must be safe for concurrent use; promotion fans out
// across tags in parallel.
type Registry interface {
	// Name identifies the registry in errors and unit names.
	Name() string
	HasTag(ctx context.Context, tag string) (bool, error)
	// Image returns the full manifest list for tag, or ErrTagNotFound.
	Image(ctx context.Context, tag string) (Image, error)
	// Push writes the full manifest list under tag.
	Push(ctx context.Context, tag string, img Image) error
	Tags(ctx context.Context) ([]string, error)
}

// Copy copies the complete manifest list for tag from src to dst,
// preserving the list digest and every platform manifest. This is the
// copy-tool path; it refuses images without a manifest list.
func Copy(ctx context.Context, src, dst Registry, tag string) error {
	img, err := src.Image(ctx, tag)
	if err != nil {
		return fmt.Errorf("copy %s from %s: %w", tag, src.Name(), err)
	}
	if len(img.Manifests) == 0 {
		return fmt.Errorf("copy %s from %s: image has no manifest list", tag, src.Name())
	}
	if err := dst.Push(ctx, tag, img); err != nil {
		return fmt.Errorf("copy %s to %s: %w", tag, dst.Name(), err)
	}
	return nil
}

// PullTagPush promotes tag from src to dst by pulling the image, re-tagging
// it locally, and pushing. Used for Windows variants, where the manifest
// copy tool cannot operate; the list digest is recomputed on push rather
// than preserved.
func PullTagPush(ctx context.Context, src, dst Registry, tag string) error {
	img, err := src.Image(ctx, tag)
	if err != nil {
		return fmt.Errorf("pull %s from %s: %w", tag, src.Name(), err)
	}
	retagged := Image{Manifests: img.Manifests}
	retagged.Digest = listDigest(retagged.Manifests)
	if err := dst.Push(ctx, tag, retagged); err != nil {
		return fmt.Errorf("push %s to %s: %w", tag, dst.Name(), err)
	}
	return nil
}

// DigestBytes returns the canonical sha256 digest string for b.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// listDigest derives a manifest list digest from the sorted member
// digests.
func listDigest(manifests []Manifest) string {
	members := make([]string, 0, len(manifests))
	for _, m := range manifests {
		members = append(members, m.Platform.String()+"@"+m.Digest)
	}
	sort.Strings(members)
	h := sha256.New()
	for _, m := range members {
		h.Write([]byte(m))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// NewImage builds a deterministic multi-architecture image for the given
// seed and platforms. Intended for tests and fixture loading.
func NewImage(seed string, platforms ...Platform) Image {
	if len(platforms) == 0 {
		platforms = []Platform{{OS: "linux", Arch: "amd64"}, {OS: "linux", Arch: "arm64"}}
	}
	manifests := make([]Manifest, 0, len(platforms))
	for _, p := range platforms {
		manifests = append(manifests, Manifest{
			Platform: p,
			Digest:   DigestBytes([]byte(seed + "|" + p.String())),
		})
	}
	return Image{Digest: listDigest(manifests), Manifests: manifests}
}
