/*
Package store implements the concurrent key→value map at the heart of
redkv: a sharded, reader/writer-locked mapping from binary keys to binary
values with optional per-entry absolute expiration.

The Store is deliberately not a single global-lock map. Keys are hashed
with xxhash into one of a fixed number of shards, each guarded by its own
sync.RWMutex, so keys that land in different shards never contend with
each other; keys that share a shard share its lock. Within a
shard the usual discipline applies: any number of concurrent readers, or
one exclusive writer. Read-modify-write operations (SetIfAbsent,
UpdateCounter) hold the shard's write lock for their entire span so they
are linearizable per key, matching the invariant the wire-level commands
that call them require.

Expiration is deliberately not a priority queue keyed on absolute expiry:
that would add bookkeeping cost to every write regardless of whether the
key ever expires. Instead expiry is checked passively whenever a key is
read (see Get below) and is also reclaimed by a background sampler (see
expiry.go) so unread expired keys do not accumulate forever.
*/
package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Entry is the value half of the store's mapping: a binary payload and an
// optional absolute expiration instant. HasExpiry false means the entry
// is immortal.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
	HasExpiry bool
}

func (e Entry) expired(now time.Time) bool {
	return e.HasExpiry && !e.ExpiresAt.After(now)
}

// Options configures a Store at construction time.
type Options struct {
	// Shards is the number of independent lock domains the key space is
	// split across. Rounded up to the next power of two; defaults to 32.
	Shards int
}

// Store is the concurrent key→Entry map shared by every connection
// handler. All exported methods are safe for concurrent use.
type Store struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// New builds a Store ready for use.
func New(opts Options) *Store {
	n := opts.Shards
	if n <= 0 {
		n = 32
	}
	n = nextPowerOfTwo(n)

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]Entry)}
	}
	return &Store{shards: shards, mask: uint64(n - 1)}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *Store) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return s.shards[h&s.mask]
}

// Get returns the value stored at key and true, or (nil, false) if the
// key is absent or its expiry has passed. An encountered expired entry is
// opportunistically removed (passive expiration).
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	entry, ok := sh.data[key]
	now := time.Now()
	if !ok {
		sh.mu.RUnlock()
		return nil, false
	}
	if !entry.expired(now) {
		value := entry.Value
		sh.mu.RUnlock()
		return value, true
	}
	sh.mu.RUnlock()

	// Entry looked expired under a read lock; promote to a write lock to
	// remove it, re-checking in case a concurrent writer already changed it.
	sh.mu.Lock()
	entry, ok = sh.data[key]
	if ok && entry.expired(time.Now()) {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
	return nil, false
}

// Set installs value at key, replacing any prior value and clearing any
// prior expiry.
func (s *Store) Set(key string, value []byte) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = Entry{Value: value}
	sh.mu.Unlock()
}

// SetIfAbsent installs value at key only if key is not currently present
// (a present-but-expired key counts as absent). Reports whether it set
// the value.
func (s *Store) SetIfAbsent(key string, value []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if entry, ok := sh.data[key]; ok && !entry.expired(time.Now()) {
		return false
	}
	sh.data[key] = Entry{Value: value}
	return true
}

// SetWithTTL installs value at key with an expiry ttl in the future.
// Callers (the SETEX command) are responsible for rejecting non-positive
// ttl before calling this.
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = Entry{Value: value, ExpiresAt: time.Now().Add(ttl), HasExpiry: true}
	sh.mu.Unlock()
}

// DeleteMany removes each of keys if present (expired entries count as
// absent) and returns the count actually removed.
func (s *Store) DeleteMany(keys []string) int {
	removed := 0
	now := time.Now()
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if entry, ok := sh.data[key]; ok {
			if !entry.expired(now) {
				removed++
			}
			delete(sh.data, key)
		}
		sh.mu.Unlock()
	}
	return removed
}

// GetMany returns, for each key in order, its value and whether it was
// present (honoring expiry), matching the semantics MGET needs.
func (s *Store) GetMany(keys []string) ([][]byte, []bool) {
	values := make([][]byte, len(keys))
	found := make([]bool, len(keys))
	for i, key := range keys {
		values[i], found[i] = s.Get(key)
	}
	return values, found
}

// SetMany installs every key/value pair in order, each clearing its own
// prior expiry, matching MSET (applied in order, not transactional).
func (s *Store) SetMany(keys []string, values [][]byte) {
	for i, key := range keys {
		s.Set(key, values[i])
	}
}

// SetExpiry attaches an absolute expiry ttl in the future to an existing,
// non-expired key. If ttl is non-positive the key is deleted instead (the
// EXPIRE command's "negative seconds deletes" rule). Returns whether a
// live key existed to act on.
func (s *Store) SetExpiry(key string, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.data[key]
	if !ok || entry.expired(time.Now()) {
		delete(sh.data, key)
		return false
	}
	if ttl <= 0 {
		delete(sh.data, key)
		return true
	}
	entry.HasExpiry = true
	entry.ExpiresAt = time.Now().Add(ttl)
	sh.data[key] = entry
	return true
}

// ClearExpiry removes any expiry from key, making it immortal. Returns
// true only if a live key existed and actually had an expiry to clear.
func (s *Store) ClearExpiry(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.data[key]
	if !ok || entry.expired(time.Now()) {
		return false
	}
	if !entry.HasExpiry {
		return false
	}
	entry.HasExpiry = false
	entry.ExpiresAt = time.Time{}
	sh.data[key] = entry
	return true
}

// TTLSeconds reports -2 if key is absent, -1 if key exists with no
// expiry, or the whole seconds remaining (rounded down, floored at 0)
// otherwise.
func (s *Store) TTLSeconds(key string) int64 {
	sh := s.shardFor(key)

	sh.mu.RLock()
	entry, ok := sh.data[key]
	now := time.Now()
	if !ok || entry.expired(now) {
		sh.mu.RUnlock()
		return -2
	}
	if !entry.HasExpiry {
		sh.mu.RUnlock()
		return -1
	}
	remaining := entry.ExpiresAt.Sub(now)
	sh.mu.RUnlock()

	if remaining < 0 {
		remaining = 0
	}
	return int64(remaining / time.Second)
}

// UpdateCounter applies delta to the integer value stored at key (absent
// counts as zero), storing and returning the new value. parseErr is
// returned if the stored bytes are not a canonical signed 64-bit decimal;
// overflowErr is returned if applying delta would overflow int64. Neither
// error mutates the entry.
func (s *Store) UpdateCounter(key string, delta int64) (newValue int64, parseErr, overflowErr bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var current int64
	if entry, ok := sh.data[key]; ok && !entry.expired(time.Now()) {
		v, ok := ParseCanonicalInt64(entry.Value)
		if !ok {
			return 0, true, false
		}
		current = v
	}

	sum, ok := addInt64(current, delta)
	if !ok {
		return 0, false, true
	}

	sh.data[key] = Entry{Value: []byte(formatInt64(sum))}
	return sum, false, false
}

// KeysMatching scans every live (non-expired) entry and returns the keys
// whose bytes match pattern under the glob rules in pattern.go. Expired
// entries encountered during the scan are not deleted here — that's left
// to Get and the active sweeper, since KeysMatching only takes each
// shard's read lock for the span of that shard's scan, not the whole
// store, and deleting under a read lock would require the same
// lock-upgrade dance Get does for every expired entry it happens to see.
func (s *Store) KeysMatching(pattern []byte) [][]byte {
	var out [][]byte
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, entry := range sh.data {
			if entry.expired(now) {
				continue
			}
			if Match(pattern, []byte(key)) {
				out = append(out, []byte(key))
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of live, non-expired keys across all shards.
// Like KeysMatching this is an O(n) scan.
func (s *Store) Len() int {
	count := 0
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, entry := range sh.data {
			if !entry.expired(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count
}

// Flush removes every key, expired or not.
func (s *Store) Flush() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.data = make(map[string]Entry)
		sh.mu.Unlock()
	}
}

// Sweep is the active-expiration hook: it samples up to sampleSize
// entries at random from the store (shards are chosen uniformly, then one
// random entry within the chosen shard), deleting any that have expired,
// and returns how many it removed. It holds each touched shard's write
// lock only long enough to inspect and possibly delete that one entry.
func (s *Store) Sweep(sampleSize int) int {
	removed := 0
	now := time.Now()
	for i := 0; i < sampleSize; i++ {
		sh := s.shards[rand.Intn(len(s.shards))]
		if sh.sampleAndExpireOne(now) {
			removed++
		}
	}
	return removed
}

func (sh *shard) sampleAndExpireOne(now time.Time) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if len(sh.data) == 0 {
		return false
	}
	// Go picks a random starting point for every map iteration, so the
	// first key seen is a cheap random sample (not an exactly uniform
	// one); taking it avoids scanning the whole shard.
	for key, entry := range sh.data {
		if entry.expired(now) {
			delete(sh.data, key)
			return true
		}
		return false
	}
	return false
}
