package authgate

import (
	"strconv"
	"strings"

	"github.com/oarkflow/authgate/utils"
)

// ExtractStoreIDs pulls candidate store IDs out of the request context bag
// using the rule's configured source keys (or the defaults when unset).
// Scalars, numeric strings, and arrays thereof are normalized recursively
// into a sorted set of positive integers.
func ExtractStoreIDs(ctx StoreContext, sources StoreIDSources) []int64 {
	if sources.IsZero() {
		sources = DefaultStoreIDSources()
	}
	set := make(map[int64]struct{})
	collectStoreIDs(ctx.Path, sources.Path, set)
	collectStoreIDs(ctx.Query, sources.Query, set)
	collectStoreIDs(ctx.Body, sources.Body, set)
	return utils.SortedInt64Set(set)
}

func collectStoreIDs(bag map[string]any, keys []string, set map[int64]struct{}) {
	if len(bag) == 0 {
		return
	}
	for _, key := range keys {
		if v, ok := lookupDotted(bag, key); ok {
			normalizeStoreIDs(v, set)
		}
	}
}

// lookupDotted resolves a dotted key like "store.id" through nested
// map[string]any values.
func lookupDotted(bag map[string]any, key string) (any, bool) {
	cur := any(bag)
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalizeStoreIDs flattens v into positive integer store IDs. Unparseable
// or non-positive values are dropped rather than failing the request.
func normalizeStoreIDs(v any, set map[int64]struct{}) {
	switch t := v.(type) {
	case nil:
	case int:
		addStoreID(int64(t), set)
	case int32:
		addStoreID(int64(t), set)
	case int64:
		addStoreID(t, set)
	case float64:
		if t == float64(int64(t)) {
			addStoreID(int64(t), set)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			addStoreID(n, set)
		}
	case []any:
		for _, it := range t {
			normalizeStoreIDs(it, set)
		}
	case []string:
		for _, it := range t {
			normalizeStoreIDs(it, set)
		}
	case []int64:
		for _, it := range t {
			addStoreID(it, set)
		}
	case []int:
		for _, it := range t {
			addStoreID(int64(it), set)
		}
	}
}

func addStoreID(n int64, set map[int64]struct{}) {
	if n > 0 {
		set[n] = struct{}{}
	}
}
