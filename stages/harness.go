package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/relpipe/relpipe/registry"
	"github.com/relpipe/relpipe/release"
	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/store"
)

// PackagesHarness verifies the published package repository from the
// consumer side: every format index exists, is signed, and lists at least
// one package carrying the released version.
func PackagesHarness(st store.ObjectStore, prefix string, indexKeys []string) Harness {
	return HarnessFunc{
		Suite: "packages",
		Fn: func(ctx context.Context, version string) error {
			for _, key := range indexKeys {
				full := key
				if prefix != "" {
					full = prefix + "/" + key
				}
				index, err := st.Get(ctx, full)
				if err != nil {
					return fmt.Errorf("fetch index %s: %w", full, err)
				}
				if _, err := st.Get(ctx, full+".sig"); err != nil {
					return fmt.Errorf("fetch index signature %s.sig: %w", full, err)
				}
				if !strings.Contains(string(index), version) {
					return fmt.Errorf("index %s does not list version %s", full, version)
				}
			}
			return nil
		},
	}
}

// ImagesHarness verifies promotion from the consumer side: every target
// registry serves the version tag with a complete manifest list, and both
// signed tags have stored signatures.
func ImagesHarness(targets []registry.Registry, sigs sign.Store) Harness {
	return HarnessFunc{
		Suite: "images",
		Fn: func(ctx context.Context, version string) error {
			for _, reg := range targets {
				img, err := reg.Image(ctx, version)
				if err != nil {
					return fmt.Errorf("pull %s from %s: %w", version, reg.Name(), err)
				}
				if len(img.Manifests) == 0 {
					return fmt.Errorf("%s:%s has an empty manifest list", reg.Name(), version)
				}
				for _, tag := range release.SignedTags(version) {
					if len(sigs.BySubject(reg.Name(), tag)) == 0 {
						return fmt.Errorf("no signatures recorded for %s/%s", reg.Name(), tag)
					}
				}
			}
			return nil
		},
	}
}
