package release

// Tags returns the manifest-list tags promoted for version v: the exact
// version, its major projection, the debug variant of each, and the
// "latest" pair when v is on the latest line. Order is stable; duplicates
// (a two-component version equal to its own projection) are collapsed.
func Tags(v string) []string {
	major := MajorVersion(v)
	tags := []string{v, v + "-debug"}
	if major != v {
		tags = append(tags, major, major+"-debug")
	}
	if PromoteLatest(v) {
		tags = append(tags, "latest", "latest-debug")
	}
	return tags
}

// SignedTags returns the tags that receive signatures after promotion:
// the exact version and its debug variant.
func SignedTags(v string) []string {
	return []string{v, v + "-debug"}
}

// WindowsTags returns the Windows-variant tags for v. These are promoted
// by pull/re-tag/push rather than manifest-list copy, because the copy
// tool cannot handle Windows registry semantics from a Linux runner.
func WindowsTags(v string) []string {
	major := MajorVersion(v)
	tags := []string{v + "-windows"}
	if major != v {
		tags = append(tags, major+"-windows")
	}
	if PromoteLatest(v) {
		tags = append(tags, "latest-windows")
	}
	return tags
}
