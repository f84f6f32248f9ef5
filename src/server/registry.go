package server

import (
	"sort"
	"sync"

	"trading-hub/src/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry is the set of live connections plus the topic index. Both views
// change under one lock, so a connection is in a topic's subscriber set
// exactly when that topic is in the connection's own set, and topics never
// have empty subscriber sets.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	topics map[string]map[string]*Connection

	sendBuffer int
	clock      clockwork.Clock
}

// -----------------------------------------------------------------------------

func NewRegistry(sendBuffer int, clock clockwork.Clock) *Registry {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		conns:      make(map[string]*Connection),
		topics:     make(map[string]map[string]*Connection),
		sendBuffer: sendBuffer,
		clock:      clock,
	}
}

// -----------------------------------------------------------------------------

// Accept registers a new connection with a fresh id, alive and with no topics.
func (r *Registry) Accept(remoteAddr string) *Connection {
	c := newConnection(uuid.NewString(), remoteAddr, r.sendBuffer, r.clock.Now())

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	return c
}

// -----------------------------------------------------------------------------

// Remove drops the connection and all of its subscriptions. It returns the
// removed connection and false when id was unknown.
func (r *Registry) Remove(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}

	for topic := range c.topics {
		r.detach(topic, id)
	}
	c.topics = make(map[string]struct{})
	delete(r.conns, id)
	return c, true
}

// -----------------------------------------------------------------------------

// Subscribe adds topics to the connection and returns the normalized list
// that now applies. Unknown ids get nil.
func (r *Registry) Subscribe(id string, topics []string) []string {
	applied := normalizeTopics(topics)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}

	for _, topic := range applied {
		c.topics[topic] = struct{}{}
		subs, ok := r.topics[topic]
		if !ok {
			subs = make(map[string]*Connection)
			r.topics[topic] = subs
		}
		subs[id] = c
	}
	return applied
}

// -----------------------------------------------------------------------------

// Unsubscribe removes topics from the connection. Topics it was not
// subscribed to are ignored but still echoed back.
func (r *Registry) Unsubscribe(id string, topics []string) []string {
	applied := normalizeTopics(topics)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}

	for _, topic := range applied {
		if _, subscribed := c.topics[topic]; !subscribed {
			continue
		}
		delete(c.topics, topic)
		r.detach(topic, id)
	}
	return applied
}

// detach must be called with mu held.
func (r *Registry) detach(topic, id string) {
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// SubscribersOf returns the ids subscribed to topic, sorted.
func (r *Registry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topics[topic]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// subscribersOfAny returns each connection subscribed to at least one of
// topics exactly once.
func (r *Registry) subscribersOfAny(topics []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(topics) == 1 {
		subs := r.topics[topics[0]]
		out := make([]*Connection, 0, len(subs))
		for _, c := range subs {
			out = append(out, c)
		}
		return out
	}

	seen := make(map[string]struct{})
	var out []*Connection
	for _, topic := range topics {
		for id, c := range r.topics[topic] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// TopicsOf returns the connection's topics, sorted. Unknown ids get nil.
func (r *Registry) TopicsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	return sortedKeys(c.topics)
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns the live connections at the time of the call.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TopicCount returns the number of subscribers of topic.
func (r *Registry) TopicCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// TopicCounts returns subscriber counts for every non-empty topic.
func (r *Registry) TopicCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.topics))
	for topic, subs := range r.topics {
		out[topic] = len(subs)
	}
	return out
}

// ConnectionInfos describes every live connection, ordered by connect time.
func (r *Registry) ConnectionInfos() []models.MConnectionInfo {
	r.mu.RLock()
	out := make([]models.MConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, models.MConnectionInfo{
			ID:           c.id,
			RemoteAddr:   c.remoteAddr,
			Alive:        c.Alive(),
			Topics:       sortedKeys(c.topics),
			ConnectedAt:  c.connectedAt,
			LastActivity: c.LastActivity(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
