package server

import (
	"net"
	"sync"
	"time"

	"github.com/eternalApril/lunakv/internal/resp"
)

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for reading and writing RESP-encoded data.
// The writer is shared by the command loop and the pub/sub delivery goroutine
type Peer struct {
	conn   net.Conn
	reader resp.Reader
	writer resp.Writer
	mu     sync.Mutex
}

// NewPeer initializes a new client peer from a network connection
func NewPeer(conn net.Conn) *Peer {
	return &Peer{
		conn:   conn,
		reader: resp.NewDecoder(conn),
		writer: resp.NewEncoder(conn),
	}
}

// Send encodes a RESP value into the output buffer.
// This method is thread-safe and can be called from multiple goroutines
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// Locked runs fn with exclusive access to the writer, so several values leave back to back
func (p *Peer) Locked(fn func(w resp.Writer) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.writer)
}

// ReadCommand reads and decodes the next RESP value from the client's input stream
func (p *Peer) ReadCommand() (resp.Value, error) {
	return p.reader.Read()
}

// SetReadDeadline bounds the next ReadCommand, zero clears the deadline
func (p *Peer) SetReadDeadline(t time.Time) error {
	return p.conn.SetReadDeadline(t)
}

// Close terminates the underlying network connection
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Flush sends all buffered data to the client
func (p *Peer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Flush()
}

// InputBuffered returns the number of bytes that can be read from the current buffer
func (p *Peer) InputBuffered() int {
	return p.reader.Buffered()
}

// RemoteAddr returns the client address
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}
