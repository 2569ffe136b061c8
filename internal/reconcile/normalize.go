package reconcile

import (
	"fmt"
	"strings"
)

// DatasetPrefix maps an object key or URI to the comparable dataset prefix
// used for set operations: everything up to and excluding the final path
// segment, with a trailing slash. A bare key (no slash) is returned
// unchanged with a trailing slash.
func DatasetPrefix(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i] + "/"
	}
	return key + "/"
}

// StripBucket removes the s3://bucket/ portion of a URI, leaving the key.
// Keys without a scheme are returned unchanged.
func StripBucket(uri string) string {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return uri
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i+1:]
	}
	return ""
}

// DedupeDoubleSlash collapses keys that name the same object through a
// double-slash path artifact: keys are grouped by their slash-collapsed
// path, so keys naming distinct objects are never merged. Within a group
// the spelling containing the // artifact wins, otherwise the first seen
// is kept. The double-slash preference mirrors a quirk of the upstream
// data source; see the design notes before relying on it.
func DedupeDoubleSlash(keys []string) []string {
	chosen := make(map[string]string, len(keys))
	order := make([]string, 0, len(keys))

	for _, key := range keys {
		collapsed := collapseSlashes(key)
		prev, ok := chosen[collapsed]
		if !ok {
			chosen[collapsed] = key
			order = append(order, collapsed)
			continue
		}
		if !hasDoubleSlash(prev) && hasDoubleSlash(key) {
			chosen[collapsed] = key
		}
	}

	out := make([]string, 0, len(order))
	for _, collapsed := range order {
		out = append(out, chosen[collapsed])
	}
	return out
}

// collapseSlashes folds runs of slashes in the key path down to one,
// leaving the URI scheme separator alone.
func collapseSlashes(key string) string {
	scheme := ""
	if i := strings.Index(key, "://"); i >= 0 {
		scheme, key = key[:i+3], key[i+3:]
	}
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return scheme + key
}

// hasDoubleSlash reports whether the key path contains a // artifact,
// ignoring the URI scheme separator.
func hasDoubleSlash(key string) bool {
	if i := strings.Index(key, "://"); i >= 0 {
		key = key[i+3:]
	}
	return strings.Contains(key, "//")
}

// SplitEqually partitions list into at most n contiguous shards of
// ceil(len/n) items each; the last shard may be shorter. The concatenation
// of the shards reproduces list exactly. n below 1 is an error.
func SplitEqually(list []string, n int) ([][]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of shards must be greater than 0, got %d", n)
	}
	if len(list) == 0 {
		return nil, nil
	}

	size := (len(list) + n - 1) / n
	shards := make([][]string, 0, n)
	for i := 0; i < len(list); i += size {
		end := i + size
		if end > len(list) {
			end = len(list)
		}
		shards = append(shards, list[i:end])
	}
	return shards, nil
}
