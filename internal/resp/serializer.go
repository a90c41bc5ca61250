package resp

import (
	"bytes"
)

// SerializeCommand encodes a command as a RESP array of bulk strings, the form clients send
func SerializeCommand(cmd string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	elements := make([]string, 1+len(args))
	elements[0] = cmd
	copy(elements[1:], args)

	if err := enc.Write(MakeBulkArray(elements)); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
