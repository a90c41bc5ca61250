package storage

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShardedMapStorage(t *testing.T) {
	tests := []struct {
		name        string
		shards      uint
		expectError bool
	}{
		{"Valid 1 shard", 1, false},
		{"Valid 2 shards", 2, false},
		{"Valid 64 shards", 64, false},
		{"Invalid 0 shards", 0, true},
		{"Invalid 3 shards (not power of 2)", 3, true},
		{"Invalid 63 shards (not power of 2)", 63, true},
		{"Invalid 128 shards (too many)", 128, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewShardedMapStorage(tt.shards)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %d shards, got nil", tt.shards)
				}
				if s != nil {
					t.Errorf("expected nil struct for error case, got %v", s)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error for %d shards: %v", tt.shards, err)
				}
				if uint(len(s.shards)) != tt.shards {
					t.Errorf("expected %d shards created, got %d", tt.shards, len(s.shards))
				}
				if s.shardMask != uint32(tt.shards-1) {
					t.Errorf("mask mismatch")
				}
			}
		})
	}
}

func TestShardedMapStorage_Distribution(t *testing.T) {
	shardsCount := uint(16)
	s, _ := NewShardedMapStorage(shardsCount) //nolint:errcheck

	keysPopulated := make(map[int]int)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		s.Set(key, "val", SetOptions{})

		shardIdx := s.getShardIndex(key)

		if _, ok, _ := s.shards[shardIdx].Get(key); !ok {
			t.Errorf("Key %s hashed to shard %d but not found there", key, shardIdx)
		}
		keysPopulated[int(shardIdx)]++
	}

	if len(keysPopulated) < int(shardsCount) {
		t.Logf("Warning: Not all shards were used with 100 keys. Used: %d/%d.", len(keysPopulated), shardsCount)
	}
}

func TestShardedMapStorage_Concurrent(t *testing.T) {
	s, _ := NewShardedMapStorage(16) //nolint:errcheck
	var wg sync.WaitGroup

	workers := 100
	ops := 10000

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

			for j := 0; j < ops; j++ {
				key := fmt.Sprintf("key-%d", r.Intn(100))

				switch r.Intn(4) {
				case 0:
					s.Set(key, fmt.Sprintf("val-%d", j), SetOptions{})
				case 1:
					s.Get(key) //nolint:errcheck
				case 2:
					s.Delete(key)
				case 3:
					s.Keys("key-1*") //nolint:errcheck
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestShardedMapStorage_KeysAndStats(t *testing.T) {
	s, err := NewShardedMapStorage(8)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		s.Set("user:"+strconv.Itoa(i), "v", SetOptions{})
	}
	s.Set("session:1", "v", SetOptions{TTL: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	keys, err := s.Keys("user:*")
	require.NoError(t, err)
	assert.Len(t, keys, 50)

	keys, err = s.Keys("session:*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	checked, expired := s.DeleteExpired(10)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, expired)

	st := s.Stats()
	assert.Equal(t, 50, st.Keys)
	assert.Equal(t, 0, st.Expires)
	assert.Equal(t, uint64(1), st.ExpiredActive)
	assert.Equal(t, 50, s.Len())

	s.Flush()
	assert.Equal(t, 0, s.Len())
}

func TestShardedMapStorage_ConcurrentIncr(t *testing.T) {
	s, _ := NewShardedMapStorage(4) //nolint:errcheck
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.IncrBy("hits", 1) //nolint:errcheck
		}()
	}
	wg.Wait()

	v, _, err := s.Get("hits")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(n), v)
}

func FuzzShardedMapStorage(f *testing.F) {
	f.Add("key1", "val1")
	f.Add("special", "!@#$%^&*()")

	s, _ := NewShardedMapStorage(8) //nolint:errcheck

	f.Fuzz(func(t *testing.T, key string, val string) {
		s.Set(key, val, SetOptions{})

		v, ok, err := s.Get(key)
		if err != nil || !ok || v != val {
			t.Errorf("Get failed after Set: key=%q, val=%q", key, val)
		}
	})
}
