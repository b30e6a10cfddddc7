package stages

import (
	"fmt"

	"github.com/relpipe/relpipe/graph"
	"github.com/relpipe/relpipe/packages"
	"github.com/relpipe/relpipe/registry"
	"github.com/relpipe/relpipe/release"
	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/store"
)

// Pipeline holds the collaborators of the standard release graph.
type Pipeline struct {
	Gate     *release.Gate
	Packages *packages.Promoter

	// Mirror is the public package server; MirrorPrefix scopes what is
	// synced to it. Nil disables the sync node.
	Mirror       store.ObjectStore
	MirrorPrefix string

	Source  registry.Registry
	Targets []registry.Registry

	// Key is nil when no long-lived signing key is configured; keyless
	// signing always runs.
	Key        *sign.KeySigner
	Keyless    *sign.KeylessSigner
	Signatures sign.Store

	// Smoke suites; typically one package harness and one image harness.
	Smoke []Harness

	CopyAttempts int
}

// Graph assembles the six-stage release graph:
//
//	version-check ─┬─ publish-packages ── sync-package-server
//	               └─ promote-images ──── sign-images
//	                    publish-packages + sign-images ── smoke-tests
func (p *Pipeline) Graph(name string) (*graph.Graph, error) {
	if p.Gate == nil || p.Packages == nil {
		return nil, fmt.Errorf("release graph: gate and package promoter required")
	}
	if p.Source == nil || len(p.Targets) == 0 {
		return nil, fmt.Errorf("release graph: source and target registries required")
	}
	if p.Keyless == nil || p.Signatures == nil {
		return nil, fmt.Errorf("release graph: keyless signer and signature store required")
	}

	g := graph.New(name)
	nodes := []*graph.Node{
		VersionCheckNode(p.Gate),
		PublishNode(p.Packages),
		PromoteImagesNode(p.Source, p.Targets, p.CopyAttempts),
		SignImagesNode(p.Key, p.Keyless, p.Signatures, p.Targets),
		SmokeNode(p.Smoke...),
	}
	if p.Mirror != nil {
		nodes = append(nodes, MirrorNode(p.Packages.Release, p.Mirror, p.MirrorPrefix))
	}
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
