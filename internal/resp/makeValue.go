package resp

// MakeSimpleString construct SimpleString Value from string
func MakeSimpleString(s string) Value {
	return Value{
		Type:   TypeSimpleString,
		String: []byte(s),
	}
}

// MakeOK is the +OK status reply
func MakeOK() Value {
	return MakeSimpleString("OK")
}

// MakeError construct Error Value from string
func MakeError(s string) Value {
	return Value{
		Type:   TypeError,
		String: []byte(s),
	}
}

// MakeBulkString construct BulkString Value from string
func MakeBulkString(s string) Value {
	return Value{
		Type:   TypeBulkString,
		String: []byte(s),
	}
}

// MakeNilBulkString construct nil BulkSting Value
func MakeNilBulkString() Value {
	return Value{
		Type:   TypeBulkString,
		IsNull: true,
	}
}

// MakeInteger construct Integer Value from int64
func MakeInteger(n int64) Value {
	return Value{
		Type:    TypeInteger,
		Integer: n,
	}
}

// MakeArray creates a standard RESP array containing the provided elements
func MakeArray(values []Value) Value {
	return Value{
		Type:  TypeArray,
		Array: values,
	}
}

// MakeNullArray construct nil Array Value
func MakeNullArray() Value {
	return Value{
		Type:   TypeArray,
		IsNull: true,
	}
}

// MakeBulkArray wraps every string into a BulkString
func MakeBulkArray(items []string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = MakeBulkString(s)
	}
	return MakeArray(vals)
}
