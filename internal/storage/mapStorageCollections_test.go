package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_PushPopOrder(t *testing.T) {
	s := NewMapStorage()

	n, err := s.RPush("l", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.LPush("l", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	all, err := s.LRange("l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "a", "b"}, all)

	popped, err := s.LPop("l", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, popped)

	popped, err = s.RPop("l", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, popped)

	n, err = s.LLen("l")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestList_PopLastElementDeletesKey(t *testing.T) {
	s := NewMapStorage()
	s.RPush("l", []string{"only"}) //nolint:errcheck

	popped, err := s.LPop("l", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, popped)
	assert.False(t, s.Exists("l"))

	popped, err = s.RPop("l", 1)
	require.NoError(t, err)
	assert.Nil(t, popped, "pop on an absent key reports nil")
}

func TestList_Range(t *testing.T) {
	s := NewMapStorage()
	s.RPush("l", []string{"a", "b", "c", "d", "e"}) //nolint:errcheck

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"full", 0, -1, []string{"a", "b", "c", "d", "e"}},
		{"head", 0, 1, []string{"a", "b"}},
		{"tail negative", -2, -1, []string{"d", "e"}},
		{"stop beyond length", 3, 100, []string{"d", "e"}},
		{"start beyond length", 10, 20, []string{}},
		{"inverted", 3, 1, []string{}},
		{"start far negative", -100, 0, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LRange("l", tt.start, tt.stop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := s.LRange("missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestList_Index(t *testing.T) {
	s := NewMapStorage()
	s.RPush("l", []string{"a", "b", "c"}) //nolint:errcheck

	v, ok, err := s.LIndex("l", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = s.LIndex("l", -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok, err = s.LIndex("l", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_RangeReturnsCopy(t *testing.T) {
	s := NewMapStorage()
	s.RPush("l", []string{"a", "b"}) //nolint:errcheck

	got, err := s.LRange("l", 0, -1)
	require.NoError(t, err)
	got[0] = "mutated"

	again, err := s.LRange("l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, again)
}

func TestSet_Operations(t *testing.T) {
	s := NewMapStorage()

	n, err := s.SAdd("s", []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.SAdd("s", []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := s.SIsMember("s", "c")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SIsMember("s", "z")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = s.SCard("s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	members, err := s.SMembers("s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	n, err = s.SRem("s", []string{"a", "z"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.SRem("s", []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, s.Exists("s"), "empty set is deleted")

	n, err = s.SRem("s", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHash_Operations(t *testing.T) {
	s := NewMapStorage()

	n, err := s.HSet("h", map[string]string{"f1": "v1", "f2": "v2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.HSet("h", map[string]string{"f1": "updated", "f3": "v3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only new fields are counted")

	v, ok, err := s.HGet("h", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "updated", v)

	_, ok, err = s.HGet("h", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HExists("h", "f2")
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := s.HGetAll("h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "updated", "f2": "v2", "f3": "v3"}, all)

	keys, err := s.HKeys("h")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2", "f3"}, keys)

	vals, err := s.HVals("h")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"updated", "v2", "v3"}, vals)

	n, err = s.HLen("h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.HDel("h", []string{"f1", "f2", "f3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.False(t, s.Exists("h"), "empty hash is deleted")

	all, err = s.HGetAll("h")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCollections_KeepTTLOnMutation(t *testing.T) {
	s := NewMapStorage()
	s.RPush("l", []string{"a"}) //nolint:errcheck
	require.True(t, s.Expire("l", time.Hour))

	s.RPush("l", []string{"b"}) //nolint:errcheck

	_, status := s.Expiry("l")
	assert.Equal(t, ExpActive, status)
}

func TestCollections_TypeReported(t *testing.T) {
	s := NewMapStorage()
	s.Set("str", "v", SetOptions{})
	s.RPush("list", []string{"a"})              //nolint:errcheck
	s.SAdd("set", []string{"a"})                //nolint:errcheck
	s.HSet("hash", map[string]string{"f": "v"}) //nolint:errcheck

	assert.Equal(t, "string", s.Type("str").String())
	assert.Equal(t, "list", s.Type("list").String())
	assert.Equal(t, "set", s.Type("set").String())
	assert.Equal(t, "hash", s.Type("hash").String())
	assert.Equal(t, "none", s.Type("missing").String())
}
