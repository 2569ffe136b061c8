// Package reconcile computes the gap between a source archive, its
// destination mirror, and the datacube index. All functions here are pure:
// they take key sets and return key sets, with no I/O.
package reconcile

import (
	"time"
)

// Set is an unordered collection of unique keys.
type Set map[string]struct{}

// NewSet builds a Set from keys.
func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts a key into the set.
func (s Set) Add(key string) {
	s[key] = struct{}{}
}

// Contains reports whether key is in the set.
func (s Set) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the set members in unspecified order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// Difference returns the members of s not present in other.
func (s Set) Difference(other Set) Set {
	diff := make(Set)
	for k := range s {
		if !other.Contains(k) {
			diff.Add(k)
		}
	}
	return diff
}

// Result is the two-way partition of a source/destination comparison.
// Missing keys are in the source but absent from the destination; orphan
// keys are in the destination but absent from the source. The two sets are
// disjoint by construction.
type Result struct {
	Missing Set
	Orphan  Set
}

// Reconcile diffs a source key set against a destination key set.
func Reconcile(source, destination Set) Result {
	return Result{
		Missing: source.Difference(destination),
		Orphan:  destination.Difference(source),
	}
}

// ForceUpdate returns the degenerate result used for full-resync runs:
// everything in the source is reported missing, nothing is orphaned.
func ForceUpdate(source Set) Result {
	missing := make(Set, len(source))
	for k := range source {
		missing.Add(k)
	}
	return Result{Missing: missing, Orphan: make(Set)}
}

// CatalogResult is the partition of a destination/catalog comparison.
type CatalogResult struct {
	MissingODC Set
	OrphanODC  Set
}

// indexLagGrace is how long after indexing a dataset may legitimately be
// absent from the destination inventory snapshot. Inventory reports from
// the provider lag by up to 24 hours, so a dataset indexed concurrently
// with the snapshot is not an orphan yet.
const indexLagGrace = 24 * time.Hour

// ReconcileCatalog diffs the destination key set against the catalog.
// Catalog entries indexed within the last day (relative to asOf) are
// excluded from the orphan side to avoid false positives against a stale
// inventory snapshot.
func ReconcileCatalog(destination Set, catalog map[string]time.Time, asOf time.Time) CatalogResult {
	missing := make(Set)
	for k := range destination {
		if _, ok := catalog[k]; !ok {
			missing.Add(k)
		}
	}

	cutoff := asOf.Add(-indexLagGrace)
	orphan := make(Set)
	for k, indexedAt := range catalog {
		if destination.Contains(k) {
			continue
		}
		if indexedAt.Before(cutoff) {
			orphan.Add(k)
		}
	}

	return CatalogResult{MissingODC: missing, OrphanODC: orphan}
}
