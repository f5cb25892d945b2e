// Package ttlcache implements the relay's method+params response cache.
// Eviction is lazy on read and unbounded in cardinality, which is
// acceptable because the key space is bounded by the configured set of
// cache-eligible methods.
package ttlcache

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type entry struct {
	expires time.Time
	value   []byte
}

// Cache is a single writer-locked map keyed by (method, canonical params).
// Get may mutate on expiry, so it takes the same lock Put does.
type Cache struct {
	mu sync.Mutex
	m  map[string]entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{m: make(map[string]entry)}
}

// Key builds the cache key for a method call. params is serialized to a
// canonical textual form first (sorted object keys, no insignificant
// whitespace) so two structurally-identical param values produce the same
// key regardless of original key order.
func Key(method string, params []byte) string {
	return method + "\x00" + canonicalize(params)
}

// canonicalize re-encodes arbitrary JSON with map keys sorted and no
// whitespace. The sort is done explicitly by encodeCanonical's recursion
// rather than left to encoding/json's map marshaling, so the output is
// deterministic for any structurally-identical input.
func canonicalize(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not valid JSON (shouldn't happen for already-parsed params);
		// fall back to the raw bytes so the cache still behaves, just
		// without canonicalization guarantees.
		return string(raw)
	}
	var buf bytes.Buffer
	encodeCanonical(&buf, v)
	return buf.String()
}

func encodeCanonical(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			encodeCanonical(buf, val[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonical(buf, e)
		}
		buf.WriteByte(']')
	default:
		b, _ := json.Marshal(val)
		buf.Write(b)
	}
}

// Get returns the cached value for key, evicting it first if expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.m, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value under key with the given TTL, overwriting any existing
// entry.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{expires: time.Now().Add(ttl), value: value}
}
