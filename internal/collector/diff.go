package collector

import (
	"sort"
)

// ValueDiff partitions the names of two value maps. Every name present in
// either map lands in exactly one of the four lists; each list is sorted.
type ValueDiff struct {
	Added     []string
	Modified  []string
	Removed   []string
	Unchanged []string
}

// DiffValues compares two name to data maps.
func DiffValues(prev, cur map[string]string) ValueDiff {
	var d ValueDiff
	for name, data := range cur {
		old, ok := prev[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old != data:
			d.Modified = append(d.Modified, name)
		default:
			d.Unchanged = append(d.Unchanged, name)
		}
	}
	for name := range prev {
		if _, ok := cur[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	sort.Strings(d.Unchanged)
	return d
}

// DiffSet returns the sorted members only in cur (added) and only in prev (removed).
func DiffSet[V any](prev, cur map[string]V) (added, removed []string) {
	for k := range cur {
		if _, ok := prev[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// unionKeys returns the sorted union of the keys of a and b.
func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}
