// Package scope provides normalization and comparison helpers for OAuth
// permission-scope collections.
//
// Scopes are compared by their normalized (lexicographically sorted) form
// everywhere in authkeeper: session lookup, login deduplication, and
// valid-scope filtering all use the same canonical key. An empty scope
// collection means "no scope restriction", not "no scopes".
package scope

import (
	"sort"
	"strings"
)

// Normalize returns a sorted copy of scopes. The input slice is not
// modified. Duplicates are preserved; two collections with different
// duplicate counts are not equal.
func Normalize(scopes []string) []string {
	normalized := make([]string, len(scopes))
	copy(normalized, scopes)
	sort.Strings(normalized)
	return normalized
}

// Equal reports whether two scope collections are equal after
// normalization. Comparison is element-wise on the sorted sequences, so
// order is irrelevant but duplicates must match positionally.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	na, nb := Normalize(a), Normalize(b)
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical string form of a scope collection: the
// normalized scopes joined with a single space. This is the dedup and
// lookup key used by the OAuth client and the session manager.
func Key(scopes []string) string {
	return strings.Join(Normalize(scopes), " ")
}

// Filter splits scopes into those present in valid and those that are
// not. A nil valid set means no filtering: everything is kept. The
// returned kept slice is normalized.
func Filter(scopes, valid []string) (kept, dropped []string) {
	if valid == nil {
		return Normalize(scopes), nil
	}
	validSet := make(map[string]struct{}, len(valid))
	for _, s := range valid {
		validSet[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := validSet[s]; ok {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	return Normalize(kept), dropped
}
