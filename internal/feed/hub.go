// Package feed implements the change-feed of the remote store: a Hub that fans out
// child-level events to every device subscribed to a document, and Diff, which turns
// two versions of a document into those events.
//
// Devices watching a live round receive a participant's new score the moment it is
// written, without re-reading the whole round.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/trentd187/scorecard-sync/internal/store"
)

// Client is one subscriber of one document.
type Client struct {
	Topic string           // "collection/key" of the watched document
	Send  chan store.Event // Buffered; the Hub writes here, the subscriber reads
	done  chan struct{}    // Closed together with Send once the client is unregistered
}

// Message is an event on its way to every client of a topic.
type Message struct {
	Topic string
	Event store.Event
}

// Hub manages all active subscriptions, grouped by topic.
// It runs in its own goroutine and processes registration, unregistration and
// broadcast through channels, so the clients map is only written by Run.
type Hub struct {
	clients map[string]map[*Client]bool
	buffer  int

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a Hub whose subscribers each buffer up to buffer events.
// A subscriber that falls further behind is dropped.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		buffer:     buffer,
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It must be started in a goroutine and returns when
// ctx is cancelled, closing every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for _, clients := range h.clients {
			for client := range clients {
				closeClient(client)
			}
		}
		h.clients = map[string]map[*Client]bool{}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients[msg.Topic]))
			for client := range h.clients[msg.Topic] {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- msg.Event:
				default:
					// Too slow: drop it rather than stall every other subscriber.
					// The closed channel tells the subscriber to resynchronize.
					glog.Warningf("[feed] dropping slow subscriber of %s", client.Topic)
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.Topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			closeClient(client)
			if len(clients) == 0 {
				delete(h.clients, client.Topic)
			}
		}
	}
}

func closeClient(client *Client) {
	close(client.Send)
	close(client.done)
}

// Publish queues events for every subscriber of topic. Events without an ID get a
// ULID, so ids sort in publish order.
func (h *Hub) Publish(topic string, events ...store.Event) {
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = ulid.Make().String()
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		select {
		case h.broadcast <- &Message{Topic: topic, Event: ev}:
		case <-h.done:
			return
		}
	}
}

// Subscribers returns how many clients currently watch topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Subscribe registers a client for collection/key. The subscription ends when it is
// closed, when ctx is done, or when the hub drops it.
func (h *Hub) Subscribe(ctx context.Context, collection, key string) (store.Subscription, error) {
	client := &Client{
		Topic: store.Topic(collection, key),
		Send:  make(chan store.Event, h.buffer),
		done:  make(chan struct{}),
	}
	select {
	case h.register <- client:
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sub := &subscription{hub: h, client: client}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-client.done:
		}
	}()
	return sub, nil
}

type subscription struct {
	hub    *Hub
	client *Client
	once   sync.Once
}

func (s *subscription) Events() <-chan store.Event {
	return s.client.Send
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s.client:
		case <-s.client.done:
		case <-s.hub.done:
		}
	})
	return nil
}
