package storage

type DataType byte

const (
	TypeNone DataType = iota
	TypeString
	TypeList
	TypeSet
	TypeHash
)

// String returns the name reported by the TYPE command
func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	default:
		return "none"
	}
}

// Entity generic container for value.
// Value holds string, []string, map[string]struct{} or map[string]string depending on Type
type Entity struct {
	Type  DataType
	Value interface{}
}

func newEntity(t DataType) *Entity {
	e := &Entity{Type: t}
	switch t {
	case TypeString:
		e.Value = ""
	case TypeList:
		e.Value = []string{}
	case TypeSet:
		e.Value = make(map[string]struct{})
	case TypeHash:
		e.Value = make(map[string]string)
	}
	return e
}

// empty reports whether a collection has lost its last element
func (e *Entity) empty() bool {
	switch v := e.Value.(type) {
	case []string:
		return len(v) == 0
	case map[string]struct{}:
		return len(v) == 0
	case map[string]string:
		return len(v) == 0
	}
	return false
}

func (e *Entity) str() string      { return e.Value.(string) }
func (e *Entity) list() []string   { return e.Value.([]string) }
func (e *Entity) set() map[string]struct{} {
	return e.Value.(map[string]struct{})
}
func (e *Entity) hash() map[string]string { return e.Value.(map[string]string) }

// isExpired is the single passive-expiration predicate.
// expireAt is Unix nanoseconds, 0 means the key never expires
func isExpired(expireAt, now int64) bool {
	return expireAt != 0 && now >= expireAt
}
