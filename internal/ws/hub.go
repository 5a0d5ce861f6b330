package ws

import (
	"sync"
	"sync/atomic"
)

// AllTopics subscribes a client to every project.
const AllTopics = "*"

// SubscriberBuffer is how many messages may wait for one subscriber before
// it is considered too slow and disconnected.
const SubscriberBuffer = 32

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans failure-record events out to subscribers keyed by project name.
// Each subscriber is drained by its own goroutine, so a stalled client never
// holds up Broadcast or the other subscribers.
type Hub struct {
	clients   map[string]map[Subscriber]*member
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	stopCh    chan struct{}
	once      sync.Once
	dropped   atomic.Uint64
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

type member struct {
	client Subscriber
	queue  chan []byte
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*member),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		stopCh:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.add(sub.topic, sub.client)
		case sub := <-h.unreg:
			h.remove(sub.topic, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllTopics {
				h.deliver(AllTopics, msg.payload)
			}
		case <-h.stopCh:
			for topic, members := range h.clients {
				for _, m := range members {
					close(m.queue)
					m.client.Close()
				}
				delete(h.clients, topic)
			}
			return
		}
	}
}

func (h *Hub) add(topic string, client Subscriber) {
	members, ok := h.clients[topic]
	if !ok {
		members = make(map[Subscriber]*member)
		h.clients[topic] = members
	}
	if _, exists := members[client]; exists {
		return
	}
	m := &member{client: client, queue: make(chan []byte, SubscriberBuffer)}
	members[client] = m
	go h.pump(topic, m)
}

// pump writes queued messages to one subscriber until its queue is closed.
func (h *Hub) pump(topic string, m *member) {
	for payload := range m.queue {
		if err := m.client.Send(payload); err != nil {
			m.client.Close()
			h.Unregister(topic, m.client)
			for range m.queue {
			}
			return
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	for _, m := range h.clients[topic] {
		select {
		case m.queue <- payload:
		default:
			h.dropped.Add(1)
			m.client.Close()
			h.remove(topic, m.client)
		}
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	members, ok := h.clients[topic]
	if !ok {
		return
	}
	if m, ok := members[client]; ok {
		close(m.queue)
		delete(members, client)
	}
	if len(members) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a project stream. Use AllTopics for every project.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.stopCh:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.stopCh:
	}
}

// Broadcast queues payload for the project's subscribers and for AllTopics.
// It never blocks: when the hub is backed up the message is dropped.
func (h *Hub) Broadcast(topic string, payload []byte) {
	select {
	case <-h.stopCh:
		return
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many messages were discarded, either because the hub
// was backed up or because a subscriber fell too far behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.stopCh)
	})
}
