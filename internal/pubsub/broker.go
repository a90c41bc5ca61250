// Package pubsub fans published messages out to the sessions subscribed to a channel
// or to a pattern matching it.
//
// A Broker owns its own lock and never touches the keyspace. Publish runs under the
// read lock while subscription changes take the write lock, so every subscribe or
// unsubscribe is ordered strictly before or after a given publish. Delivery hands the
// message to the subscriber outbox and never waits for the consumer.
package pubsub

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/eternalApril/lunakv/internal/glob"
)

// Stats is a point-in-time view of broker counters
type Stats struct {
	Channels  int
	Patterns  int
	Published uint64
	Delivered uint64
	Dropped   uint64
}

type Broker struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
	patterns map[string]map[*Subscriber]struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{
		channels: make(map[string]map[*Subscriber]struct{}),
		patterns: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers sub on channel and returns the number of its subscriptions.
// Subscribing twice is a no-op
func (b *Broker) Subscribe(sub *Subscriber, channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return 0
	}
	if _, ok := sub.channels[channel]; !ok {
		sub.channels[channel] = struct{}{}
		attach(b.channels, channel, sub)
	}
	return sub.count()
}

// Unsubscribe removes sub from channel. It reports whether sub was subscribed and
// the number of subscriptions left
func (b *Broker) Unsubscribe(sub *Subscriber, channel string) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := sub.channels[channel]
	if ok {
		delete(sub.channels, channel)
		detach(b.channels, channel, sub)
	}
	return ok, sub.count()
}

// UnsubscribeAll removes sub from every channel and returns them in sorted order
func (b *Broker) UnsubscribeAll(sub *Subscriber) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropChannelsLocked(sub)
}

// PSubscribe registers sub on a glob pattern and returns the number of its subscriptions
func (b *Broker) PSubscribe(sub *Subscriber, pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return 0
	}
	if _, ok := sub.patterns[pattern]; !ok {
		sub.patterns[pattern] = struct{}{}
		attach(b.patterns, pattern, sub)
	}
	return sub.count()
}

func (b *Broker) PUnsubscribe(sub *Subscriber, pattern string) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := sub.patterns[pattern]
	if ok {
		delete(sub.patterns, pattern)
		detach(b.patterns, pattern, sub)
	}
	return ok, sub.count()
}

func (b *Broker) PUnsubscribeAll(sub *Subscriber) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropPatternsLocked(sub)
}

// Remove drops every subscription of sub and closes its outbox.
// It must be called when the owning session terminates
func (b *Broker) Remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	b.dropChannelsLocked(sub)
	b.dropPatternsLocked(sub)

	// no publisher can hold the read lock here, so nobody sends on the outbox anymore
	sub.closed = true
	close(sub.outbox)
}

// Subscriptions returns the number of channels and patterns sub is registered on
func (b *Broker) Subscriptions(sub *Subscriber) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sub.count()
}

// Publish delivers payload to every subscriber registered at call time and returns
// how many deliveries were accepted. A subscriber matching through several patterns
// receives one copy per pattern
func (b *Broker) Publish(channel, payload string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)

	var accepted, dropped int
	deliver := func(sub *Subscriber, m Message) {
		if sub.offer(m) {
			accepted++
		} else {
			dropped++
		}
	}

	for sub := range b.channels[channel] {
		deliver(sub, Message{Kind: KindMessage, Channel: channel, Payload: payload})
	}

	for pattern, subs := range b.patterns {
		if !glob.Match(pattern, channel) {
			continue
		}
		for sub := range subs {
			deliver(sub, Message{Kind: KindPMessage, Pattern: pattern, Channel: channel, Payload: payload})
		}
	}

	b.delivered.Add(uint64(accepted))
	b.dropped.Add(uint64(dropped))
	return accepted
}

// Channels lists the active channels matching pattern, every channel when pattern is empty
func (b *Broker) Channels(pattern string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		if pattern == "" || glob.Match(pattern, ch) {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

// NumSub returns the number of direct subscribers of each channel, in argument order
func (b *Broker) NumSub(channels ...string) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]int, len(channels))
	for i, ch := range channels {
		out[i] = len(b.channels[ch])
	}
	return out
}

// NumPat returns the number of distinct patterns with at least one subscriber
func (b *Broker) NumPat() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.patterns)
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	channels, patterns := len(b.channels), len(b.patterns)
	b.mu.RUnlock()

	return Stats{
		Channels:  channels,
		Patterns:  patterns,
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Broker) dropChannelsLocked(sub *Subscriber) []string {
	out := make([]string, 0, len(sub.channels))
	for ch := range sub.channels {
		detach(b.channels, ch, sub)
		out = append(out, ch)
	}
	sub.channels = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func (b *Broker) dropPatternsLocked(sub *Subscriber) []string {
	out := make([]string, 0, len(sub.patterns))
	for p := range sub.patterns {
		detach(b.patterns, p, sub)
		out = append(out, p)
	}
	sub.patterns = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func attach(index map[string]map[*Subscriber]struct{}, name string, sub *Subscriber) {
	subs, ok := index[name]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		index[name] = subs
	}
	subs[sub] = struct{}{}
}

// detach removes sub and forgets the name once nobody listens to it
func detach(index map[string]map[*Subscriber]struct{}, name string, sub *Subscriber) {
	subs, ok := index[name]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(index, name)
	}
}
