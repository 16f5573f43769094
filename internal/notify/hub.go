// Package notify fans run events out to any number of stream subscribers.
// Publishers never block: a subscriber that falls behind misses messages.
package notify

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pedflow/internal/timeutil"
)

// Topics published during a run.
const (
	TopicGeometry = "geometry" // engine linestrings for the live map
	TopicProgress = "progress" // sampled engine output lines
	TopicStatus   = "status"   // run lifecycle events (JSON)
)

// subscriberBuffer is the per-subscriber queue length.
const subscriberBuffer = 256

// Message is one published event.
type Message struct {
	Seq     uint64    `json:"seq"`
	Topic   string    `json:"topic"`
	Payload string    `json:"payload"`
	Time    time.Time `json:"time"`
}

type subscriber struct {
	ch     chan Message
	topics map[string]bool // empty means every topic
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// Hub is an in-process publish/subscribe fan-out.
type Hub struct {
	clock timeutil.Clock

	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool
	seq         uint64

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty hub. A nil clock means the real clock.
func NewHub(clock timeutil.Clock) *Hub {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{clock: clock, subscribers: make(map[string]*subscriber)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a subscriber for the given topics, or for every topic
// when none are given. The returned channel is closed by Unsubscribe or
// Close.
func (h *Hub) Subscribe(topics ...string) (string, <-chan Message) {
	sub := &subscriber{ch: make(chan Message, subscriberBuffer), topics: make(map[string]bool, len(topics))}
	for _, t := range topics {
		if t != "" {
			sub.topics[t] = true
		}
	}
	id := randomID()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return id, sub.ch
	}
	h.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers payload to every subscriber of topic. Subscribers whose
// queue is full skip the message.
func (h *Hub) Publish(topic, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	msg := Message{Seq: h.seq, Topic: topic, Payload: payload, Time: h.clock.Now()}
	h.published.Add(1)
	for _, sub := range h.subscribers {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// if the channel is full skip so as not to block the publisher
			h.dropped.Add(1)
		}
	}
}

// PublishJSON publishes v encoded as JSON.
func (h *Hub) PublishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	h.Publish(topic, string(b))
	return nil
}

// Stats reports hub counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subscribers)
	h.mu.Unlock()
	return Stats{Subscribers: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}
