package release

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relpipe/relpipe/store"
)

// DefaultMarkerKey is where the staging store records the version of the
// most recently staged build.
const DefaultMarkerKey = "latest-version.txt"

// ErrVersionMismatch is returned when the operator-requested version does
// not match the staged marker. The gate runs before any promotion, so a
// mismatch halts the release with zero external side effects.
var ErrVersionMismatch = errors.New("staged version mismatch")

// Gate verifies the requested version against the staging store marker.
type Gate struct {
	Staging store.ObjectStore

	// MarkerKey defaults to DefaultMarkerKey.
	MarkerKey string
}

// Check reads the staged version marker and compares it, whitespace
// trimmed, against the requested version. It only reads.
func (g *Gate) Check(ctx context.Context, requested string) error {
	key := g.MarkerKey
	if key == "" {
		key = DefaultMarkerKey
	}
	data, err := g.Staging.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read version marker %q: %w", key, err)
	}
	staged := strings.TrimSpace(string(data))
	if staged != requested {
		return fmt.Errorf("%w: staged %q, requested %q", ErrVersionMismatch, staged, requested)
	}
	return nil
}
