// Package stages builds the release graph nodes: each constructor
// captures its collaborators and returns a graph.Node, the way a stage
// library wraps a client into a pipeline step. ReleaseGraph assembles the
// standard six-stage promotion graph.
package stages

import (
	"context"
	"fmt"

	"github.com/relpipe/relpipe/graph"
	"github.com/relpipe/relpipe/packages"
	"github.com/relpipe/relpipe/registry"
	"github.com/relpipe/relpipe/release"
	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/store"
)

// Node names of the standard release graph.
const (
	NodeVersionCheck  = "version-check"
	NodePublish       = "publish-packages"
	NodeMirror        = "sync-package-server"
	NodePromoteImages = "promote-images"
	NodeSignImages    = "sign-images"
	NodeSmoke         = "smoke-tests"
)

// DefaultCopyAttempts bounds registry copy retries on transient failure.
const DefaultCopyAttempts = 3

// VersionCheckNode gates the whole release on the staging marker and
// derives the major-version projection. Outputs: version, major.
func VersionCheckNode(gate *release.Gate) *graph.Node {
	return &graph.Node{
		Name: NodeVersionCheck,
		Run: func(ctx context.Context, outs graph.Outputs) (map[string]string, error) {
			version, err := outs.MustGet(graph.InputsNode, "version")
			if err != nil {
				return nil, err
			}
			if err := (release.Inputs{Version: version}).Validate(); err != nil {
				return nil, err
			}
			if err := gate.Check(ctx, version); err != nil {
				return nil, err
			}
			return map[string]string{
				"version": version,
				"major":   release.MajorVersion(version),
			}, nil
		},
	}
}

// PublishNode runs the package publish after the version gate.
func PublishNode(p *packages.Promoter) *graph.Node {
	return &graph.Node{
		Name:  NodePublish,
		Needs: []string{NodeVersionCheck},
		Run: func(ctx context.Context, outs graph.Outputs) (map[string]string, error) {
			if err := p.Run(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}

// MirrorNode syncs the published package tree to the public package
// server after the publish completes.
func MirrorNode(from, to store.ObjectStore, prefix string) *graph.Node {
	return &graph.Node{
		Name:  NodeMirror,
		Needs: []string{NodePublish},
		Run: func(ctx context.Context, outs graph.Outputs) (map[string]string, error) {
			if err := store.Sync(ctx, from, to, prefix); err != nil {
				return nil, fmt.Errorf("mirror packages: %w", err)
			}
			return nil, nil
		},
	}
}

// PromoteImagesNode fans out one unit per (target registry, tag): the
// standard tags via manifest-list copy with bounded retries, the Windows
// variants via pull/re-tag/push. Each unit verifies the staging registry
// actually has the tag before any copy, so a missing source fails with a
// readable error instead of the copy tool's.
func PromoteImagesNode(src registry.Registry, targets []registry.Registry, attempts int) *graph.Node {
	if attempts <= 0 {
		attempts = DefaultCopyAttempts
	}
	return &graph.Node{
		Name:  NodePromoteImages,
		Needs: []string{NodeVersionCheck},
		Units: func(ctx context.Context, outs graph.Outputs) ([]graph.Unit, error) {
			version, err := outs.MustGet(NodeVersionCheck, "version")
			if err != nil {
				return nil, err
			}
			var units []graph.Unit
			for _, dst := range targets {
				for _, tag := range release.Tags(version) {
					units = append(units, promoteUnit(src, dst, tag, attempts, false))
				}
				for _, tag := range release.WindowsTags(version) {
					units = append(units, promoteUnit(src, dst, tag, attempts, true))
				}
			}
			return units, nil
		},
	}
}

func promoteUnit(src, dst registry.Registry, tag string, attempts int, windows bool) graph.Unit {
	return graph.Unit{
		Name: dst.Name() + "/" + tag,
		Run: func(ctx context.Context) error {
			ok, err := src.HasTag(ctx, tag)
			if err != nil {
				return fmt.Errorf("check %s in %s: %w", tag, src.Name(), err)
			}
			if !ok {
				return fmt.Errorf("staging registry %s has no tag %q; was the staged build pushed?", src.Name(), tag)
			}
			return graph.WithRetries(ctx, attempts, func(ctx context.Context) error {
				if windows {
					return registry.PullTagPush(ctx, src, dst, tag)
				}
				return registry.Copy(ctx, src, dst, tag)
			})
		},
	}
}

// SignImagesNode signs the promoted version and version-debug tags in
// every target registry: always keyless (recorded to the transparency
// log), additionally with the static key when one is configured. One
// unit per (registry, tag); any failure is terminal for the release.
func SignImagesNode(key *sign.KeySigner, keyless *sign.KeylessSigner, sigs sign.Store, targets []registry.Registry) *graph.Node {
	return &graph.Node{
		Name:  NodeSignImages,
		Needs: []string{NodePromoteImages},
		Units: func(ctx context.Context, outs graph.Outputs) ([]graph.Unit, error) {
			version, err := outs.MustGet(NodeVersionCheck, "version")
			if err != nil {
				return nil, err
			}
			var units []graph.Unit
			for _, reg := range targets {
				for _, tag := range release.SignedTags(version) {
					units = append(units, signUnit(key, keyless, sigs, reg, tag))
				}
			}
			return units, nil
		},
	}
}

func signUnit(key *sign.KeySigner, keyless *sign.KeylessSigner, sigs sign.Store, reg registry.Registry, tag string) graph.Unit {
	return graph.Unit{
		Name: reg.Name() + "/" + tag,
		Run: func(ctx context.Context) error {
			img, err := reg.Image(ctx, tag)
			if err != nil {
				return fmt.Errorf("load %s from %s: %w", tag, reg.Name(), err)
			}
			subject := sign.Subject{Registry: reg.Name(), Tag: tag}
			if key != nil {
				keySigs, err := key.Sign(ctx, subject, img)
				if err != nil {
					return fmt.Errorf("key sign %s/%s: %w", reg.Name(), tag, err)
				}
				if err := sigs.Put(ctx, keySigs...); err != nil {
					return fmt.Errorf("store key signatures: %w", err)
				}
			}
			keylessSigs, err := keyless.Sign(ctx, subject, img)
			if err != nil {
				return fmt.Errorf("keyless sign %s/%s: %w", reg.Name(), tag, err)
			}
			if err := sigs.Put(ctx, keylessSigs...); err != nil {
				return fmt.Errorf("store keyless signatures: %w", err)
			}
			return nil
		},
	}
}

// Harness runs one smoke suite against a released version.
type Harness interface {
	Name() string
	Run(ctx context.Context, version string) error
}

// HarnessFunc adapts a function to Harness.
type HarnessFunc struct {
	Suite string
	Fn    func(ctx context.Context, version string) error
}

func (h HarnessFunc) Name() string { return h.Suite }
func (h HarnessFunc) Run(ctx context.Context, version string) error {
	return h.Fn(ctx, version)
}

// SmokeNode runs the post-promotion validation suites, one unit per
// harness, gated on both the package publish and the image signing.
func SmokeNode(harnesses ...Harness) *graph.Node {
	return &graph.Node{
		Name:  NodeSmoke,
		Needs: []string{NodePublish, NodeSignImages},
		Units: func(ctx context.Context, outs graph.Outputs) ([]graph.Unit, error) {
			version, err := outs.MustGet(NodeVersionCheck, "version")
			if err != nil {
				return nil, err
			}
			var units []graph.Unit
			for _, h := range harnesses {
				h := h
				units = append(units, graph.Unit{
					Name: h.Name(),
					Run: func(ctx context.Context) error {
						return h.Run(ctx, version)
					},
				})
			}
			return units, nil
		},
	}
}
