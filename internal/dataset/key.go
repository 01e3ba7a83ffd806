package dataset

import (
	"fmt"
	"regexp"
	"strings"
)

// keyPattern is the set of characters a cache key may contain. Keys are used
// verbatim as file-name stems, so anything outside this set is rejected by
// the store.
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Key derives the cache key for one (system, municipality, year) partition.
// The derivation is deterministic and injective: the three components are
// joined with underscores and none of them may itself contain an underscore
// (system is a fixed enum, municipality an IBGE numeric code, year an
// integer), so distinct triples always yield distinct keys.
func Key(system System, municipality string, year int) string {
	return fmt.Sprintf("%s_%s_%d", strings.ToLower(string(system)), municipality, year)
}

// ValidKey reports whether key is safe to use as a file-name stem.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
