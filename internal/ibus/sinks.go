package ibus

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// WriterSink writes each packet as a line of hex to W.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) AcceptPackets(packets []Packet) error {
	for _, p := range packets {
		if _, err := fmt.Fprintln(s.W, p.Hex()); err != nil {
			return err
		}
	}
	return nil
}

// Broadcaster is a Sink that fans batches out to any number of subscribers.
// Sends never block: a subscriber that is not ready misses the batch, and
// the miss is counted in Dropped.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan []Packet
	closed      bool
	dropped     uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]chan []Packet)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. buffer is the channel capacity in
// batches.
func (b *Broadcaster) Subscribe(buffer int) (string, <-chan []Packet) {
	id := randomID()
	ch := make(chan []Packet, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *Broadcaster) AcceptPackets(packets []Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- packets:
		default:
			b.dropped++
		}
	}
	return nil
}

// Dropped returns how many batches were not delivered to a subscriber whose
// channel was full.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel. Later subscribers receive a closed
// channel.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}
