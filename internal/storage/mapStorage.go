package storage

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/lunakv/internal/glob"
)

// MapStorage is a thread-safe key-value storage guarded by a single RWMutex.
// Reads take the shared lock, every mutation takes the exclusive lock for exactly one
// logical operation
type MapStorage struct {
	data    map[string]*Entity // key - value
	expires map[string]int64   // key - expires time nanoseconds
	mu      sync.RWMutex

	expiredPassive atomic.Uint64
	expiredActive  atomic.Uint64
}

// NewMapStorage creates a new instance of MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{
		data:    make(map[string]*Entity),
		expires: make(map[string]int64),
	}
}

// lookupLocked returns the live entity stored at key, reclaiming it first if it has expired.
// The caller must hold the write lock
func (m *MapStorage) lookupLocked(key string, now int64) (*Entity, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if isExpired(m.expires[key], now) {
		m.removeLocked(key)
		m.expiredPassive.Add(1)
		return nil, false
	}
	return e, true
}

func (m *MapStorage) removeLocked(key string) {
	delete(m.data, key)
	delete(m.expires, key)
}

// evict takes the write lock and reclaims key if it is still expired
func (m *MapStorage) evict(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// checking again, can be changed while waiting for the lock
	m.lookupLocked(key, time.Now().UnixNano())
}

// view runs fn under the read lock against the live entity stored at key.
// TypeNone accepts any type. found is false when the key is absent or expired
func (m *MapStorage) view(key string, t DataType, fn func(e *Entity)) (found bool, err error) {
	m.mu.RLock()
	e, ok := m.data[key]
	if !ok {
		m.mu.RUnlock()
		return false, nil
	}

	if isExpired(m.expires[key], time.Now().UnixNano()) {
		m.mu.RUnlock()
		m.evict(key)
		return false, nil
	}

	if t != TypeNone && e.Type != t {
		m.mu.RUnlock()
		return true, ErrWrongType
	}

	fn(e)
	m.mu.RUnlock()
	return true, nil
}

// update runs fn under the write lock against the entity of type t stored at key.
// With create set an absent key starts as an empty value of type t, otherwise fn is skipped.
// A collection emptied by fn is deleted, a failed fn leaves nothing behind
func (m *MapStorage) update(key string, t DataType, create bool, fn func(e *Entity) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key, time.Now().UnixNano())
	if ok && e.Type != t {
		return ErrWrongType
	}

	if !ok {
		if !create {
			return nil
		}
		e = newEntity(t)
	}

	if err := fn(e); err != nil {
		return err
	}

	if e.empty() {
		if ok {
			m.removeLocked(key)
		}
		return nil
	}

	if !ok {
		m.data[key] = e
	}
	return nil
}

// Get returns the value and true if the key is found. Otherwise, "", false
func (m *MapStorage) Get(key string) (string, bool, error) {
	var val string
	found, err := m.view(key, TypeString, func(e *Entity) {
		val = e.str()
	})
	if err != nil {
		return "", false, err
	}
	return val, found, nil
}

// Set writes the value based on the options. Returns true if recording has been performed
func (m *MapStorage) Set(key, value string, options SetOptions) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, written := m.setLocked(key, value, options)
	return written
}

// GetSet writes the value like Set and returns the previous string value.
// A previous value of another type fails the whole operation with ErrWrongType
func (m *MapStorage) GetSet(key, value string, options SetOptions) (string, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.lookupLocked(key, time.Now().UnixNano())
	if ok && prev.Type != TypeString {
		return "", false, false, ErrWrongType
	}

	var old string
	if ok {
		old = prev.str()
	}

	_, written := m.setLocked(key, value, options)
	return old, ok, written, nil
}

// setLocked applies SET semantics. The caller must hold the write lock
func (m *MapStorage) setLocked(key, value string, options SetOptions) (existed, written bool) {
	now := time.Now()

	_, exists := m.lookupLocked(key, now.UnixNano())

	if options.NX && exists {
		return exists, false
	}

	if options.XX && !exists {
		return exists, false
	}

	var deadline int64
	switch {
	case !options.ExpireAt.IsZero():
		deadline = options.ExpireAt.UnixNano()
	case options.TTL > 0:
		deadline = now.Add(options.TTL).UnixNano()
	}

	// an absolute deadline already in the past leaves the key deleted
	if deadline != 0 && deadline <= now.UnixNano() {
		m.removeLocked(key)
		return exists, true
	}

	m.data[key] = &Entity{Type: TypeString, Value: value}

	switch {
	case options.KeepTTL:
		// if KEEPTTL is set, we do nothing to m.expires (retain existing)
		// however, if the key is new (freshly created), KEEPTTL behaves like no TTL
		if !exists {
			delete(m.expires, key)
		}
	case deadline == 0:
		// no TTL provided (and not KEEPTTL), so we remove any existing expiration (persist)
		delete(m.expires, key)
	default:
		m.expires[key] = deadline
	}

	return exists, true
}

// GetDel returns the string value at key and deletes the key
func (m *MapStorage) GetDel(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key, time.Now().UnixNano())
	if !ok {
		return "", false, nil
	}
	if e.Type != TypeString {
		return "", false, ErrWrongType
	}

	m.removeLocked(key)
	return e.str(), true, nil
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (m *MapStorage) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookupLocked(key, time.Now().UnixNano()); !ok {
		return false
	}
	m.removeLocked(key)
	return true
}

// Exists reports whether a live key is present
func (m *MapStorage) Exists(key string) bool {
	found, _ := m.view(key, TypeNone, func(*Entity) {})
	return found
}

// Type returns the type of the value stored at key
func (m *MapStorage) Type(key string) DataType {
	t := TypeNone
	m.view(key, TypeNone, func(e *Entity) { //nolint:errcheck
		t = e.Type
	})
	return t
}

// Keys returns all live keys matching pattern
func (m *MapStorage) Keys(pattern string) ([]string, error) {
	if err := glob.Validate(pattern); err != nil {
		return nil, err
	}
	return m.appendKeys(make([]string, 0), pattern, time.Now().UnixNano()), nil
}

// appendKeys scans the whole map under the read lock. Expired keys are skipped, not reclaimed
func (m *MapStorage) appendKeys(dst []string, pattern string, now int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matchAll := pattern == "*"
	for key := range m.data {
		if isExpired(m.expires[key], now) {
			continue
		}
		if matchAll || glob.Match(pattern, key) {
			dst = append(dst, key)
		}
	}
	return dst
}

// Len returns the number of stored keys
func (m *MapStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Flush removes every key
func (m *MapStorage) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*Entity)
	m.expires = make(map[string]int64)
}

// Expiry returns the remaining lifetime and status as expiryStatus
func (m *MapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	m.mu.RLock()

	_, ok := m.data[key]
	exp, hasExp := m.expires[key]

	m.mu.RUnlock()

	// key does not exist
	if !ok {
		return 0, ExpNotFound
	}

	// key without TTL
	if !hasExp {
		return 0, ExpNoTimeout
	}

	now := time.Now().UnixNano()

	if isExpired(exp, now) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok = m.lookupLocked(key, time.Now().UnixNano()); !ok {
			return 0, ExpNotFound
		}

		// replaced while waiting for the lock
		exp, hasExp = m.expires[key]
		if !hasExp {
			return 0, ExpNoTimeout
		}
		return time.Duration(exp - time.Now().UnixNano()), ExpActive
	}

	return time.Duration(exp - now), ExpActive
}

// Expire sets a relative TTL on an existing key. A non-positive ttl deletes the key.
// Returns false if the key does not exist
func (m *MapStorage) Expire(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if _, ok := m.lookupLocked(key, now.UnixNano()); !ok {
		return false
	}

	if ttl <= 0 {
		m.removeLocked(key)
		return true
	}

	m.expires[key] = now.Add(ttl).UnixNano()
	return true
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (m *MapStorage) Persist(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookupLocked(key, time.Now().UnixNano()); !ok {
		return 0
	}

	if _, hasExp := m.expires[key]; !hasExp {
		return 0
	}

	delete(m.expires, key)
	return 1
}

// IncrBy adds delta to the integer stored at key. The read-modify-write happens in a single
// exclusive section; an absent key counts as 0 and the TTL of an existing key is retained
func (m *MapStorage) IncrBy(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	e, ok := m.lookupLocked(key, time.Now().UnixNano())
	if ok {
		if e.Type != TypeString {
			return 0, ErrWrongType
		}
		n, err := parseInt(e.str())
		if err != nil {
			return 0, err
		}
		current = n
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}

	current += delta
	val := strconv.FormatInt(current, 10)
	if ok {
		e.Value = val
	} else {
		m.data[key] = &Entity{Type: TypeString, Value: val}
	}
	return current, nil
}

// parseInt accepts only the canonical base-10 form produced by FormatInt
func parseInt(s string) (int64, error) {
	if s == "" || s[0] == '+' {
		return 0, ErrNotInteger
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

// Append appends value to the string at key, creating it if absent, and returns the new length
func (m *MapStorage) Append(key, value string) (int64, error) {
	var n int64
	err := m.update(key, TypeString, true, func(e *Entity) error {
		s := e.str() + value
		e.Value = s
		n = int64(len(s))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// StrLen returns the length of the string at key, 0 when absent
func (m *MapStorage) StrLen(key string) (int64, error) {
	var n int64
	_, err := m.view(key, TypeString, func(e *Entity) {
		n = int64(len(e.str()))
	})
	return n, err
}

// DeleteExpired randomly selects a limit of keys with a TTL and deletes them if expired
func (m *MapStorage) DeleteExpired(limit int) (checked, expired int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.expires) == 0 || limit <= 0 {
		return 0, 0
	}

	now := time.Now().UnixNano()

	// go map iteration is randomized by design
	for key, expTime := range m.expires {
		checked++
		if isExpired(expTime, now) {
			m.removeLocked(key)
			expired++
		}

		if checked >= limit {
			break
		}
	}

	m.expiredActive.Add(uint64(expired))
	return checked, expired
}

// Stats returns keyspace counters
func (m *MapStorage) Stats() Stats {
	m.mu.RLock()
	keys, expires := len(m.data), len(m.expires)
	m.mu.RUnlock()

	return Stats{
		Keys:           keys,
		Expires:        expires,
		ExpiredPassive: m.expiredPassive.Load(),
		ExpiredActive:  m.expiredActive.Load(),
	}
}
