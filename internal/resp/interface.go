package resp

// Reader yields decoded values from a stream
type Reader interface {
	Read() (Value, error)
	Buffered() int
}

// Writer buffers encoded values until Flush
type Writer interface {
	Write(v Value) error
	Flush() error
}

var (
	_ Reader = (*Decoder)(nil)
	_ Writer = (*Encoder)(nil)
)
