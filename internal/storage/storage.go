package storage

import (
	"errors"
	"time"
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

var (
	// ErrWrongType is returned when an operation is applied to a key holding another type
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
	// ErrNotInteger is returned when a string value cannot be parsed as a 64-bit integer
	ErrNotInteger = errors.New("value is not an integer or out of range")
	// ErrOverflow is returned when an increment would leave the int64 range
	ErrOverflow = errors.New("increment or decrement would overflow")
)

type SetOptions struct {
	TTL      time.Duration // key lifetime
	ExpireAt time.Time     // absolute expiration, wins over TTL when non-zero
	KeepTTL  bool          // if true, retain the existing TTL (ignore TTL field)
	NX       bool          // only set if the key does not exist
	XX       bool          // only set if the key already exists
}

// Stats is a point-in-time view of keyspace counters
type Stats struct {
	Keys           int    // live and not yet reclaimed keys
	Expires        int    // keys carrying a TTL
	ExpiredPassive uint64 // keys reclaimed on access
	ExpiredActive  uint64 // keys reclaimed by DeleteExpired
}

// Storage is a common interface for working with key-value storages.
// Every method is atomic with respect to the others for the same key
type Storage interface {
	// Get returns the value and true if the key is found. Otherwise, "", false
	Get(key string) (string, bool, error)

	// Set writes the value based on the options. Returns true if recording has been performed
	Set(key, value string, options SetOptions) bool

	// GetSet writes like Set and also returns the previous string value
	GetSet(key, value string, options SetOptions) (old string, hadOld bool, written bool, err error)

	// GetDel returns the string value and deletes the key
	GetDel(key string) (string, bool, error)

	// Delete deletes the key. Returns true if the key existed and was deleted
	Delete(key string) bool

	// Exists reports whether a live key is present
	Exists(key string) bool

	// Type returns the type of the value stored at key, TypeNone when absent
	Type(key string) DataType

	// Keys returns every live key matching the glob pattern. O(N) over the keyspace
	Keys(pattern string) ([]string, error)

	// Len returns the number of keys, including expired ones not reclaimed yet
	Len() int

	// Flush removes every key
	Flush()

	// Expiry returns the remaining lifetime and status as ExpiryStatus
	Expiry(key string) (time.Duration, ExpiryStatus)

	// Expire sets a relative TTL on an existing key. A non-positive ttl deletes it
	Expire(key string, ttl time.Duration) bool

	// Persist removes the expiration date of the key, making it eternal.
	// Returns 1 if successful, 0 if the key was not found or had no TTL
	Persist(key string) int64

	// IncrBy adds delta to the integer stored at key, absent keys count as 0
	IncrBy(key string, delta int64) (int64, error)

	// Append appends to the string at key and returns the new length
	Append(key, value string) (int64, error)

	// StrLen returns the length of the string at key
	StrLen(key string) (int64, error)

	LPush(key string, values []string) (int64, error)
	RPush(key string, values []string) (int64, error)
	LPop(key string, count int) ([]string, error)
	RPop(key string, count int) ([]string, error)
	LRange(key string, start, stop int64) ([]string, error)
	LLen(key string) (int64, error)
	LIndex(key string, index int64) (string, bool, error)

	SAdd(key string, members []string) (int64, error)
	SRem(key string, members []string) (int64, error)
	SIsMember(key, member string) (bool, error)
	SCard(key string) (int64, error)
	SMembers(key string) ([]string, error)

	// HSet sets the specified fields to their respective values in the hash stored at key.
	// Returns the number of fields that were added
	HSet(key string, fields map[string]string) (int64, error)

	// HGet returns the value associated with field in the hash stored at key
	HGet(key, field string) (string, bool, error)
	HDel(key string, fields []string) (int64, error)
	HGetAll(key string) (map[string]string, error)
	HExists(key, field string) (bool, error)
	HLen(key string) (int64, error)
	HKeys(key string) ([]string, error)
	HVals(key string) ([]string, error)

	// DeleteExpired samples up to limit keys carrying a TTL and deletes the expired ones
	DeleteExpired(limit int) (checked, expired int)

	// Stats returns keyspace counters
	Stats() Stats
}

var (
	_ Storage = (*MapStorage)(nil)
	_ Storage = (*ShardedMapStorage)(nil)
)
