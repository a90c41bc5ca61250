package storage

import (
	"errors"
	"math/bits"
	"sync"
	"time"

	"github.com/eternalApril/lunakv/internal/glob"
	"github.com/spaolacci/murmur3"
)

// ShardedMapStorage is a thread-safe key-value storage,
// divided into segments (shards) to reduce contention for locking.
// Every key lives in exactly one shard, so per-key atomicity is the shard's
type ShardedMapStorage struct {
	shards    []*MapStorage
	shardMask uint32
}

// NewShardedMapStorage creates a new instance of ShardedMapStorage.
// The requestedShards parameter must be a power of two for efficient allocation.
// The maximum allowed number of shards is 64.
func NewShardedMapStorage(requestedShards uint) (*ShardedMapStorage, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > 64 {
		return nil, errors.New("requested shards must be less or equal than 64")
	}

	s := &ShardedMapStorage{
		shards:    make([]*MapStorage, requestedShards),
		shardMask: uint32(requestedShards - 1),
	}

	for i := range s.shards {
		s.shards[i] = NewMapStorage()
	}

	return s, nil
}

// getShardIndex returns index of shard by key
func (s *ShardedMapStorage) getShardIndex(key string) uint32 {
	return murmur3.Sum32([]byte(key)) & s.shardMask
}

func (s *ShardedMapStorage) shard(key string) *MapStorage {
	return s.shards[s.getShardIndex(key)]
}

// Get returns the value and true if the key is found. Otherwise, "", false.
func (s *ShardedMapStorage) Get(key string) (string, bool, error) {
	return s.shard(key).Get(key)
}

// Set writes the value based on the options. Returns true if recording has been performed.
func (s *ShardedMapStorage) Set(key, value string, options SetOptions) bool {
	return s.shard(key).Set(key, value, options)
}

// GetSet writes like Set and returns the previous string value
func (s *ShardedMapStorage) GetSet(key, value string, options SetOptions) (string, bool, bool, error) {
	return s.shard(key).GetSet(key, value, options)
}

// GetDel returns the string value at key and deletes the key
func (s *ShardedMapStorage) GetDel(key string) (string, bool, error) {
	return s.shard(key).GetDel(key)
}

// Delete deletes the key. Returns true if the key existed and was deleted.
func (s *ShardedMapStorage) Delete(key string) bool {
	return s.shard(key).Delete(key)
}

// Exists reports whether a live key is present
func (s *ShardedMapStorage) Exists(key string) bool {
	return s.shard(key).Exists(key)
}

// Type returns the type of the value stored at key
func (s *ShardedMapStorage) Type(key string) DataType {
	return s.shard(key).Type(key)
}

// Keys scans shards one after another. Each shard is consistent on its own,
// the result as a whole is not a point-in-time snapshot
func (s *ShardedMapStorage) Keys(pattern string) ([]string, error) {
	if err := glob.Validate(pattern); err != nil {
		return nil, err
	}

	now := time.Now().UnixNano()
	keys := make([]string, 0)
	for _, shard := range s.shards {
		keys = shard.appendKeys(keys, pattern, now)
	}
	return keys, nil
}

// Len returns the number of stored keys across all shards
func (s *ShardedMapStorage) Len() int {
	n := 0
	for _, shard := range s.shards {
		n += shard.Len()
	}
	return n
}

// Flush removes every key
func (s *ShardedMapStorage) Flush() {
	for _, shard := range s.shards {
		shard.Flush()
	}
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (s *ShardedMapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	return s.shard(key).Expiry(key)
}

// Expire sets a relative TTL on an existing key
func (s *ShardedMapStorage) Expire(key string, ttl time.Duration) bool {
	return s.shard(key).Expire(key, ttl)
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (s *ShardedMapStorage) Persist(key string) int64 {
	return s.shard(key).Persist(key)
}

// IncrBy adds delta to the integer stored at key
func (s *ShardedMapStorage) IncrBy(key string, delta int64) (int64, error) {
	return s.shard(key).IncrBy(key, delta)
}

func (s *ShardedMapStorage) Append(key, value string) (int64, error) {
	return s.shard(key).Append(key, value)
}

func (s *ShardedMapStorage) StrLen(key string) (int64, error) {
	return s.shard(key).StrLen(key)
}

func (s *ShardedMapStorage) LPush(key string, values []string) (int64, error) {
	return s.shard(key).LPush(key, values)
}

func (s *ShardedMapStorage) RPush(key string, values []string) (int64, error) {
	return s.shard(key).RPush(key, values)
}

func (s *ShardedMapStorage) LPop(key string, count int) ([]string, error) {
	return s.shard(key).LPop(key, count)
}

func (s *ShardedMapStorage) RPop(key string, count int) ([]string, error) {
	return s.shard(key).RPop(key, count)
}

func (s *ShardedMapStorage) LRange(key string, start, stop int64) ([]string, error) {
	return s.shard(key).LRange(key, start, stop)
}

func (s *ShardedMapStorage) LLen(key string) (int64, error) {
	return s.shard(key).LLen(key)
}

func (s *ShardedMapStorage) LIndex(key string, index int64) (string, bool, error) {
	return s.shard(key).LIndex(key, index)
}

func (s *ShardedMapStorage) SAdd(key string, members []string) (int64, error) {
	return s.shard(key).SAdd(key, members)
}

func (s *ShardedMapStorage) SRem(key string, members []string) (int64, error) {
	return s.shard(key).SRem(key, members)
}

func (s *ShardedMapStorage) SIsMember(key, member string) (bool, error) {
	return s.shard(key).SIsMember(key, member)
}

func (s *ShardedMapStorage) SCard(key string) (int64, error) {
	return s.shard(key).SCard(key)
}

func (s *ShardedMapStorage) SMembers(key string) ([]string, error) {
	return s.shard(key).SMembers(key)
}

// HSet sets the specified fields to their respective values in the hash stored at key
func (s *ShardedMapStorage) HSet(key string, fields map[string]string) (int64, error) {
	return s.shard(key).HSet(key, fields)
}

// HGet returns the value associated with field in the hash stored at key
func (s *ShardedMapStorage) HGet(key, field string) (string, bool, error) {
	return s.shard(key).HGet(key, field)
}

// HDel calculate index shard and delegates all the logic of the work to the MapStorage
func (s *ShardedMapStorage) HDel(key string, fields []string) (int64, error) {
	return s.shard(key).HDel(key, fields)
}

// HGetAll returns all fields and values of the hash stored at key
func (s *ShardedMapStorage) HGetAll(key string) (map[string]string, error) {
	return s.shard(key).HGetAll(key)
}

// HExists returns if field is an existing field in the hash stored at key
func (s *ShardedMapStorage) HExists(key, field string) (bool, error) {
	return s.shard(key).HExists(key, field)
}

// HLen returns the number of fields contained in the hash stored at key
func (s *ShardedMapStorage) HLen(key string) (int64, error) {
	return s.shard(key).HLen(key)
}

// HKeys returns all field names in the hash stored at key
func (s *ShardedMapStorage) HKeys(key string) ([]string, error) {
	return s.shard(key).HKeys(key)
}

// HVals returns all values in the hash stored at key
func (s *ShardedMapStorage) HVals(key string) ([]string, error) {
	return s.shard(key).HVals(key)
}

// DeleteExpired samples limit keys from each shard in parallel and deletes the expired ones
func (s *ShardedMapStorage) DeleteExpired(limit int) (checked, expired int) {
	var wg sync.WaitGroup
	var mu sync.Mutex // protects checked and expired

	wg.Add(len(s.shards))

	for _, shard := range s.shards {
		go func(m *MapStorage) {
			defer wg.Done()
			c, e := m.DeleteExpired(limit)

			mu.Lock()
			checked += c
			expired += e
			mu.Unlock()
		}(shard)
	}

	wg.Wait()

	return checked, expired
}

// Stats sums the counters of every shard
func (s *ShardedMapStorage) Stats() Stats {
	var total Stats
	for _, shard := range s.shards {
		st := shard.Stats()
		total.Keys += st.Keys
		total.Expires += st.Expires
		total.ExpiredPassive += st.ExpiredPassive
		total.ExpiredActive += st.ExpiredActive
	}
	return total
}
