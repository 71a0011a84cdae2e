// Package utils holds small stateless helpers shared across store layers:
// fingerprinting for singleflight/coalescing keys and identifier/key pattern
// matching for invalidation. Adapted from the teacher's pkg/utils helpers
// (hash.go's FNV-1a hashing, pattern.go's glob matching), dropping the
// consistent-hash ring structure itself since nothing here shards across
// physical nodes — only the hashing primitive carries over.
package utils

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/scribd/lucid/internal/entity"
)

// FingerprintIdentifier renders a stable string key for id, suitable for a
// singleflight.Group key or a map key distinguishing in-flight fills for
// the same record (spec §4.8's at-most-one-fill guarantee).
func FingerprintIdentifier(id entity.Identifier) string {
	h := fnv.New64a()
	h.Write([]byte(id.TypeTag))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(id.Remote, 10)))
	h.Write([]byte{0})
	h.Write([]byte(id.Local))
	return strconv.FormatUint(h.Sum64(), 16)
}

// FingerprintIdentifiers renders a stable fingerprint for a set of
// identifiers, independent of input order, usable as a coalescing key over
// an identifier set. CacheStore.Search does not use it.
func FingerprintIdentifiers(ids []entity.Identifier) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = FingerprintIdentifier(id)
	}
	sort.Strings(parts)

	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
