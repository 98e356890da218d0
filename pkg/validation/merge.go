package validation

// MergeErrors copies src into dst. A key already present in dst is
// overwritten, so the validator that runs last wins. Every validation layer
// merges through this function; changing the policy here (for example to
// concatenate messages) changes it everywhere.
func MergeErrors(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}
