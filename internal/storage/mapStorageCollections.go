package storage

// LPush inserts values at the head of the list, one after another, and returns the new length
func (m *MapStorage) LPush(key string, values []string) (int64, error) {
	var n int64
	err := m.update(key, TypeList, true, func(e *Entity) error {
		old := e.list()
		l := make([]string, len(values)+len(old))
		for i, v := range values {
			l[len(values)-1-i] = v
		}
		copy(l[len(values):], old)
		e.Value = l
		n = int64(len(l))
		return nil
	})
	return n, err
}

// RPush appends values to the tail of the list and returns the new length
func (m *MapStorage) RPush(key string, values []string) (int64, error) {
	var n int64
	err := m.update(key, TypeList, true, func(e *Entity) error {
		l := append(e.list(), values...)
		e.Value = l
		n = int64(len(l))
		return nil
	})
	return n, err
}

// LPop removes and returns up to count elements from the head. A nil result means the key is absent
func (m *MapStorage) LPop(key string, count int) ([]string, error) {
	var out []string
	err := m.update(key, TypeList, false, func(e *Entity) error {
		l := e.list()
		n := min(count, len(l))
		out = make([]string, n)
		copy(out, l[:n])
		clear(l[:n])
		e.Value = l[n:]
		return nil
	})
	return out, err
}

// RPop removes and returns up to count elements from the tail, last element first
func (m *MapStorage) RPop(key string, count int) ([]string, error) {
	var out []string
	err := m.update(key, TypeList, false, func(e *Entity) error {
		l := e.list()
		n := min(count, len(l))
		out = make([]string, n)
		for i := 0; i < n; i++ {
			out[i] = l[len(l)-1-i]
		}
		clear(l[len(l)-n:])
		e.Value = l[:len(l)-n]
		return nil
	})
	return out, err
}

// LRange returns the elements between start and stop inclusive. Negative indexes count from the tail
func (m *MapStorage) LRange(key string, start, stop int64) ([]string, error) {
	out := []string{}
	_, err := m.view(key, TypeList, func(e *Entity) {
		l := e.list()
		from, to, ok := normalizeRange(start, stop, int64(len(l)))
		if !ok {
			return
		}
		out = make([]string, to-from+1)
		copy(out, l[from:to+1])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeRange clamps a Redis-style inclusive range to [0, length)
func normalizeRange(start, stop, length int64) (int64, int64, bool) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}

// LLen returns the length of the list, 0 when absent
func (m *MapStorage) LLen(key string) (int64, error) {
	var n int64
	_, err := m.view(key, TypeList, func(e *Entity) {
		n = int64(len(e.list()))
	})
	return n, err
}

// LIndex returns the element at index. Negative indexes count from the tail
func (m *MapStorage) LIndex(key string, index int64) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	_, err := m.view(key, TypeList, func(e *Entity) {
		l := e.list()
		if index < 0 {
			index += int64(len(l))
		}
		if index >= 0 && index < int64(len(l)) {
			val, ok = l[index], true
		}
	})
	return val, ok, err
}

// SAdd adds members to the set and returns how many were not already present
func (m *MapStorage) SAdd(key string, members []string) (int64, error) {
	var added int64
	err := m.update(key, TypeSet, true, func(e *Entity) error {
		s := e.set()
		for _, member := range members {
			if _, ok := s[member]; !ok {
				s[member] = struct{}{}
				added++
			}
		}
		return nil
	})
	return added, err
}

// SRem removes members from the set and returns how many were present
func (m *MapStorage) SRem(key string, members []string) (int64, error) {
	var removed int64
	err := m.update(key, TypeSet, false, func(e *Entity) error {
		s := e.set()
		for _, member := range members {
			if _, ok := s[member]; ok {
				delete(s, member)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// SIsMember reports whether member belongs to the set
func (m *MapStorage) SIsMember(key, member string) (bool, error) {
	var ok bool
	_, err := m.view(key, TypeSet, func(e *Entity) {
		_, ok = e.set()[member]
	})
	return ok, err
}

// SCard returns the cardinality of the set
func (m *MapStorage) SCard(key string) (int64, error) {
	var n int64
	_, err := m.view(key, TypeSet, func(e *Entity) {
		n = int64(len(e.set()))
	})
	return n, err
}

// SMembers returns all members in no particular order
func (m *MapStorage) SMembers(key string) ([]string, error) {
	out := []string{}
	_, err := m.view(key, TypeSet, func(e *Entity) {
		s := e.set()
		out = make([]string, 0, len(s))
		for member := range s {
			out = append(out, member)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HSet sets the specified fields to their respective values in the hash stored at key
func (m *MapStorage) HSet(key string, fields map[string]string) (int64, error) {
	var added int64
	err := m.update(key, TypeHash, true, func(e *Entity) error {
		h := e.hash()
		for field, value := range fields {
			if _, ok := h[field]; !ok {
				added++
			}
			h[field] = value
		}
		return nil
	})
	return added, err
}

// HGet returns the value associated with field in the hash stored at key
func (m *MapStorage) HGet(key, field string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	_, err := m.view(key, TypeHash, func(e *Entity) {
		val, ok = e.hash()[field]
	})
	return val, ok, err
}

// HDel removes fields from the hash and returns how many existed
func (m *MapStorage) HDel(key string, fields []string) (int64, error) {
	var removed int64
	err := m.update(key, TypeHash, false, func(e *Entity) error {
		h := e.hash()
		for _, field := range fields {
			if _, ok := h[field]; ok {
				delete(h, field)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// HGetAll returns a copy of all fields and values of the hash stored at key
func (m *MapStorage) HGetAll(key string) (map[string]string, error) {
	out := map[string]string{}
	_, err := m.view(key, TypeHash, func(e *Entity) {
		h := e.hash()
		out = make(map[string]string, len(h))
		for field, value := range h {
			out[field] = value
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HExists returns if field is an existing field in the hash stored at key
func (m *MapStorage) HExists(key, field string) (bool, error) {
	_, ok, err := m.HGet(key, field)
	return ok, err
}

// HLen returns the number of fields contained in the hash stored at key
func (m *MapStorage) HLen(key string) (int64, error) {
	var n int64
	_, err := m.view(key, TypeHash, func(e *Entity) {
		n = int64(len(e.hash()))
	})
	return n, err
}

// HKeys returns all field names in the hash stored at key
func (m *MapStorage) HKeys(key string) ([]string, error) {
	out := []string{}
	_, err := m.view(key, TypeHash, func(e *Entity) {
		h := e.hash()
		out = make([]string, 0, len(h))
		for field := range h {
			out = append(out, field)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HVals returns all values in the hash stored at key
func (m *MapStorage) HVals(key string) ([]string, error) {
	out := []string{}
	_, err := m.view(key, TypeHash, func(e *Entity) {
		h := e.hash()
		out = make([]string, 0, len(h))
		for _, value := range h {
			out = append(out, value)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
