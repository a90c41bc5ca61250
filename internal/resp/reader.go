package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	maxBulkLen    = 512 << 20
	maxArrayLen   = 1 << 20
	maxInlineArgs = 1 << 10
)

var (
	ErrInvalidEnding = errors.New("invalid line ending")
	ErrProtocol      = errors.New("protocol error")
)

// Decoder reads RESP2 values. Lines that do not start with a type byte are parsed as
// inline commands and returned as an array of bulk strings
type Decoder struct {
	rd *bufio.Reader
}

func NewDecoder(rd io.Reader) *Decoder {
	return &Decoder{rd: bufio.NewReader(rd)}
}

// Buffered returns the number of bytes that can be read without touching the stream
func (d *Decoder) Buffered() int {
	return d.rd.Buffered()
}

// Read decodes the next value from the stream
func (d *Decoder) Read() (Value, error) {
	first, err := d.rd.Peek(1)
	if err != nil {
		return Value{}, err
	}

	switch first[0] {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return d.readValue()
	}

	return d.readInline()
}

func (d *Decoder) readValue() (Value, error) {
	_type, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}

	val := Value{
		Type: _type,
	}

	switch val.Type {
	case TypeSimpleString, TypeError:
		str, err := d.readLine()
		if err != nil {
			return Value{}, err
		}

		val.String = str
		return val, nil
	case TypeInteger:
		num, err := d.readInteger()
		if err != nil {
			return Value{}, err
		}

		val.Integer = num
		return val, nil
	case TypeBulkString:
		return d.readBulk()
	case TypeArray:
		return d.readArray()
	}

	return Value{}, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, _type)
}

// readLine reads up to CRLF and returns the line without it
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.rd.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrInvalidEnding
	}

	return line[:len(line)-2], nil
}

func (d *Decoder) readInteger() (int64, error) {
	line, err := d.readLine()
	if err != nil {
		return 0, err
	}

	// Command with integer cant be empty
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrProtocol)
	}

	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line)
	}

	return num, nil
}

func (d *Decoder) readBulk() (Value, error) {
	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilBulkString(), nil
	}
	if n < 0 || n > maxBulkLen {
		return Value{}, fmt.Errorf("%w: invalid bulk length %d", ErrProtocol, n)
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(d.rd, buf); err != nil {
		return Value{}, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Value{}, ErrInvalidEnding
	}

	return Value{Type: TypeBulkString, String: buf[:n]}, nil
}

func (d *Decoder) readArray() (Value, error) {
	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNullArray(), nil
	}
	if n < 0 || n > maxArrayLen {
		return Value{}, fmt.Errorf("%w: invalid multibulk length %d", ErrProtocol, n)
	}

	// the header alone is not trusted for the allocation size
	items := make([]Value, 0, min(n, 64))
	for i := int64(0); i < n; i++ {
		item, err := d.readValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}

	return MakeArray(items), nil
}

// readInline parses a space separated command line, as typed in telnet
func (d *Decoder) readInline() (Value, error) {
	line, err := d.rd.ReadBytes('\n')
	if err != nil {
		return Value{}, err
	}
	line = bytes.TrimRight(line, "\r\n")

	fields := bytes.Fields(line)
	if len(fields) > maxInlineArgs {
		return Value{}, fmt.Errorf("%w: too many inline arguments", ErrProtocol)
	}

	items := make([]Value, len(fields))
	for i, f := range fields {
		items[i] = Value{Type: TypeBulkString, String: f}
	}

	return MakeArray(items), nil
}
