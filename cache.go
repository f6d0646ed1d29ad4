package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache is the shared key-value store decisions, rule lists and permission
// sets are memoized in. The design assumes a network-accessible backend so
// multiple instances share one ruleset version counter; a local backend is
// acceptable for single-instance deployments and tests.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

const (
	cacheKeyPrefix  = "authgate"
	rulesVersionKey = cacheKeyPrefix + ":rules:version"
)

// rulesetVersion reads the current version counter. A missing counter reads
// as zero; cache failures read as version zero too, which only widens keys,
// never loosens a decision.
func rulesetVersion(ctx context.Context, c Cache) int64 {
	raw, ok, err := c.Get(ctx, rulesVersionKey)
	if err != nil || !ok {
		return 0
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		// Redis counters are stored as plain integers by Incr.
		fmt.Sscanf(string(raw), "%d", &v)
	}
	return v
}

// BumpRulesVersion invalidates every versioned cache entry at once. Called
// on every rule create/update/delete/toggle.
func BumpRulesVersion(ctx context.Context, c Cache) (int64, error) {
	return c.Incr(ctx, rulesVersionKey)
}

func ruleListKey(version int64, service, method string) string {
	return fmt.Sprintf("%s:v%d:rules:%s:%s", cacheKeyPrefix, version, service, method)
}

func decisionKey(version int64, service, method, target string, userID int64, storeIDs []int64) string {
	ids := make([]string, len(storeIDs))
	for i, id := range storeIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("%s:v%d:dec:%s:%s:%s:%d:%s",
		cacheKeyPrefix, version, service, method, target, userID, strings.Join(ids, ","))
}

func permsKey(userID, storeID int64) string {
	return fmt.Sprintf("%s:perms:%d:%d", cacheKeyPrefix, userID, storeID)
}

func allStoresKey(userID int64) string {
	return fmt.Sprintf("%s:allstores:%d", cacheKeyPrefix, userID)
}

// cachedJSON reads key into out, reporting whether a live entry was found.
// A corrupt or unreadable entry is treated as a miss.
func cachedJSON(ctx context.Context, c Cache, key string, out any) bool {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// storeJSON writes val under key, ignoring marshal/backend failures: the
// cache is an optimization, the store of record stays authoritative.
func storeJSON(ctx context.Context, c Cache, key string, val any, ttl time.Duration) {
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.Set(ctx, key, raw, ttl)
}
