// Package cache is the read-side cache between the balance flows and the
// server-of-record. Entries carry a per-data-class TTL and persist through
// the local key/value storage, so a restart does not cold-start every read.
//
// There is no size-bounded eviction, only TTL expiry: key cardinality is a
// handful of entries per user, so an LRU would be machinery without a
// problem. All balance-derived classes are invalidated together after every
// write; invalidating them one at a time risks serving a stale balance next
// to a fresh history.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/franciscozunigap/sofinance/internal/kv"
)

// Class identifies a data family with its own TTL.
type Class string

const (
	ClassBalance      Class = "balance"
	ClassHistory      Class = "history"
	ClassMonthlyStats Class = "monthly_stats"
	ClassUserData     Class = "user_data"
	ClassSummaryStats Class = "summary_stats"
)

// EntryVersion is bumped when the persisted entry layout changes; entries
// written by an older layout read as misses.
const EntryVersion = 1

const keyPrefix = "sofinance_cache:"

// TTLTable maps each data class to its time-to-live.
type TTLTable map[Class]time.Duration

// DefaultTTLs returns the production TTL table.
func DefaultTTLs() TTLTable {
	return TTLTable{
		ClassBalance:      5 * time.Minute,
		ClassHistory:      10 * time.Minute,
		ClassMonthlyStats: 30 * time.Minute,
		ClassUserData:     60 * time.Minute,
		ClassSummaryStats: 15 * time.Minute,
	}
}

// Entry is the persisted wrapper around cached data.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expires_at"`
	Version   int             `json:"version"`
}

// Stats is a point-in-time view of cache behavior.
type Stats struct {
	Entries int   `json:"entries"`
	Expired int   `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache stores entries under namespaced keys in local storage.
type Cache struct {
	storage kv.Storage
	ttls    TTLTable
	now     func() time.Time

	mu     sync.Mutex
	hits   int64
	misses int64
}

func New(storage kv.Storage, ttls TTLTable) *Cache {
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	return &Cache{storage: storage, ttls: ttls, now: time.Now}
}

// Key builds the cache key for a class and user, optionally qualified (for
// example a specific month for monthly stats).
func Key(class Class, userID string, qualifiers ...string) string {
	k := fmt.Sprintf("%s_%s", class, userID)
	for _, q := range qualifiers {
		k += "_" + q
	}
	return k
}

// Set stores data under key with the TTL of its class.
func (c *Cache) Set(ctx context.Context, key string, data any, class Class) error {
	ttl, ok := c.ttls[class]
	if !ok {
		return fmt.Errorf("set %s: unknown cache class %q", key, class)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	now := c.now()
	entry := Entry{
		Data:      raw,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
		Version:   EntryVersion,
	}
	stored, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache wrapper %s: %w", key, err)
	}
	return c.storage.SetItem(ctx, keyPrefix+key, string(stored))
}

// Get decodes the entry for key into v. An expired or unreadable entry is a
// miss, and expired entries are evicted on the spot.
func (c *Cache) Get(ctx context.Context, key string, v any) (bool, error) {
	entry, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		c.miss()
		return false, err
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		c.miss()
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	c.hit()
	return true, nil
}

// Has reports whether key holds a live entry, without counting toward
// hit/miss stats.
func (c *Cache) Has(ctx context.Context, key string) bool {
	_, ok, err := c.load(ctx, key)
	return err == nil && ok
}

func (c *Cache) load(ctx context.Context, key string) (Entry, bool, error) {
	stored, ok, err := c.storage.GetItem(ctx, keyPrefix+key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(stored), &entry); err != nil || entry.Version != EntryVersion {
		// Unreadable or stale-layout entry: evict and miss.
		_ = c.storage.RemoveItem(ctx, keyPrefix+key)
		return Entry{}, false, nil
	}
	if c.now().After(entry.ExpiresAt) {
		_ = c.storage.RemoveItem(ctx, keyPrefix+key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.storage.RemoveItem(ctx, keyPrefix+key)
}

// Clear drops every cache entry, leaving other storage (the offline queue)
// untouched.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list cache keys: %w", err)
	}
	return c.storage.MultiRemove(ctx, keys)
}

// ClearExpired evicts every expired entry and returns how many were removed.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	keys, err := c.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list cache keys: %w", err)
	}
	values, err := c.storage.MultiGet(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("load cache entries: %w", err)
	}
	now := c.now()
	var expired []string
	for k, stored := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(stored), &entry); err != nil || entry.Version != EntryVersion || now.After(entry.ExpiresAt) {
			expired = append(expired, k)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := c.storage.MultiRemove(ctx, expired); err != nil {
		return 0, fmt.Errorf("evict expired entries: %w", err)
	}
	return len(expired), nil
}

// InvalidateBalance removes every balance-derived entry for a user: current
// balance, history, monthly stats and summary stats. Always called as a
// unit after a successful write.
func (c *Cache) InvalidateBalance(ctx context.Context, userID string) error {
	classes := []Class{ClassBalance, ClassHistory, ClassMonthlyStats, ClassSummaryStats}
	var doomed []string
	for _, class := range classes {
		exact := keyPrefix + Key(class, userID)
		keys, err := c.storage.Keys(ctx, exact)
		if err != nil {
			return fmt.Errorf("list %s keys: %w", class, err)
		}
		// The prefix listing also matches longer user ids; keep only the
		// exact key and its qualified variants.
		for _, k := range keys {
			if k == exact || strings.HasPrefix(k, exact+"_") {
				doomed = append(doomed, k)
			}
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return c.storage.MultiRemove(ctx, doomed)
}

// GetStats counts live and expired entries and reports hit/miss totals.
func (c *Cache) GetStats(ctx context.Context) (Stats, error) {
	keys, err := c.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("list cache keys: %w", err)
	}
	values, err := c.storage.MultiGet(ctx, keys)
	if err != nil {
		return Stats{}, fmt.Errorf("load cache entries: %w", err)
	}
	now := c.now()
	stats := Stats{Entries: len(values)}
	for _, stored := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(stored), &entry); err != nil || now.After(entry.ExpiresAt) {
			stats.Expired++
		}
	}
	c.mu.Lock()
	stats.Hits = c.hits
	stats.Misses = c.misses
	c.mu.Unlock()
	return stats, nil
}

func (c *Cache) hit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
