package pubsub

import (
	"crypto/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind tells a direct channel delivery apart from a pattern match
type Kind uint8

const (
	KindMessage Kind = iota
	KindPMessage
)

// Message is one delivery queued for a subscriber
type Message struct {
	Kind    Kind
	Pattern string // set for KindPMessage only
	Channel string
	Payload string
}

// Subscriber is the broker-side handle of one session. Its subscription sets are
// guarded by the owning Broker lock
type Subscriber struct {
	id     string
	outbox chan Message

	channels map[string]struct{}
	patterns map[string]struct{}
	closed   bool

	dropped atomic.Uint64
}

// NewSubscriber creates a subscriber whose outbox holds up to size undelivered messages
func NewSubscriber(size int) *Subscriber {
	if size <= 0 {
		size = 1
	}
	return &Subscriber{
		id:       NewID(),
		outbox:   make(chan Message, size),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// NewID returns a lowercase ULID
func NewID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return strings.ToLower(id.String())
}

func (s *Subscriber) ID() string { return s.id }

// Messages is drained by the session. It is closed once the subscriber is removed from the broker
func (s *Subscriber) Messages() <-chan Message { return s.outbox }

// Dropped counts messages discarded because the outbox was full
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// offer enqueues without blocking, a full outbox drops the newest message
func (s *Subscriber) offer(m Message) bool {
	select {
	case s.outbox <- m:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) count() int {
	return len(s.channels) + len(s.patterns)
}
