// Package release holds the declarative side of a promotion: operator
// inputs, version projections, tag sets, and the staging version gate.
// Everything here is a pure function or a read-only check so the
// branching policy is testable apart from execution.
package release

import (
	"fmt"
	"regexp"
	"strings"
)

var majorRe = regexp.MustCompile(`^\d+\.\d+`)

// MajorVersion returns the major-version projection of v: the leading
// <major>.<minor> prefix when v starts with one, otherwise v unchanged.
// E.g. "1.9.3" -> "1.9", "2.0.0-rc1" -> "2.0", "nightly" -> "nightly".
func MajorVersion(v string) string {
	if m := majorRe.FindString(v); m != "" {
		return m
	}
	return v
}

// LatestLine is the release line whose builds float the "latest" tags
// forward. Other lines never touch "latest", so an old-line patch release
// cannot hijack it.
const LatestLine = "2.0"

// PromoteLatest reports whether the "latest" floating tags should be
// promoted for version v.
func PromoteLatest(v string) bool {
	return MajorVersion(v) == LatestLine
}

var versionRe = regexp.MustCompile(`^\d+(\.\d+)*$`)

// Inputs are the operator-supplied parameters of a release run.
type Inputs struct {
	// Version is the release version: numeric, dot-separated, no prefix.
	Version string

	// TargetImages optionally overrides the image names of the target
	// registries, in declaration order.
	TargetImages []string
}

// Validate checks the inputs before anything runs.
func (in Inputs) Validate() error {
	if in.Version == "" {
		return fmt.Errorf("release version required")
	}
	if strings.HasPrefix(in.Version, "v") {
		return fmt.Errorf("release version %q must not carry a prefix", in.Version)
	}
	if !versionRe.MatchString(in.Version) {
		return fmt.Errorf("release version %q must be numeric dot-separated", in.Version)
	}
	return nil
}

// Map renders the inputs as the named strings seeded into the run graph.
func (in Inputs) Map() map[string]string {
	m := map[string]string{"version": in.Version}
	for i, img := range in.TargetImages {
		m[fmt.Sprintf("target_image_%d", i)] = img
	}
	return m
}
