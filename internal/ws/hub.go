package ws

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// TopicAll receives every deployment event.
const TopicAll = "all"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Event describes a change in the deployment state of a CSAR file.
type Event struct {
	Type       string    `json:"type"`
	CsarFileID int64     `json:"csar_file_id"`
	ServerID   int64     `json:"server_id"`
	Location   string    `json:"location,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Event types.
const (
	EventDeployed       = "deployed"
	EventUndeployed     = "undeployed"
	EventDeployFailed   = "deploy_failed"
	EventUndeployFailed = "undeploy_failed"
)

// CsarFileTopic names the stream for a single CSAR file.
func CsarFileTopic(id int64) string {
	return "csarfile:" + strconv.FormatInt(id, 10)
}

// ServerTopic names the stream for a single OpenTOSCA server.
func ServerTopic(id int64) string {
	return "server:" + strconv.FormatInt(id, 10)
}

// Hub manages stream subscriptions by topic.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	stop      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		stop:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for topic, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, topic)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]struct{})
			}
			h.clients[sub.topic][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.topic]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.topic)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.topic]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.topic)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.stop:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.stop:
	}
}

// Broadcast sends payload to all clients of a topic.
func (h *Hub) Broadcast(topic string, payload []byte) {
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
	case <-h.stop:
	}
}

// Publish fans an event out to the global, CSAR file and server topics.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.Broadcast(TopicAll, payload)
	if evt.CsarFileID > 0 {
		h.Broadcast(CsarFileTopic(evt.CsarFileID), payload)
	}
	if evt.ServerID > 0 {
		h.Broadcast(ServerTopic(evt.ServerID), payload)
	}
}

// Subscribers reports how many clients listen on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Close disconnects every client and stops the hub loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}
