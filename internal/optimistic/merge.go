// Package optimistic keeps speculative balance overrides alongside the
// canonical ledger balances and merges the two for display.
package optimistic

// Merge combines canonical balances with pending overrides. For each key the
// larger amount wins; an override with no canonical entry is taken as is.
// Neither input is modified.
func Merge(canonical, overrides map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(canonical)+len(overrides))
	for k, v := range canonical {
		out[k] = v
	}
	for k, v := range overrides {
		if cur, ok := out[k]; !ok || v > cur {
			out[k] = v
		}
	}
	return out
}

// MergeOne applies the Merge rule to a single key.
func MergeOne(canonical uint64, hasCanonical bool, override uint64, hasOverride bool) (uint64, bool) {
	switch {
	case !hasOverride:
		return canonical, hasCanonical
	case !hasCanonical || override > canonical:
		return override, true
	default:
		return canonical, true
	}
}
