package training

import (
	"sync"
	"sync/atomic"

	"github.com/2beens/posecoach/internal/telemetry/metrics"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultSubscriberQueueSize = 32

type MessageType string

const (
	MessageTypeScore  MessageType = "score"
	MessageTypeAction MessageType = "action"
)

// ScoreUpdate is pushed while frames are being scored.
type ScoreUpdate struct {
	Step     int    `json:"step"`
	Total    int    `json:"total"`
	PoseName string `json:"pose_name"`
	Score    int    `json:"score"`
	Live     int    `json:"live"`
	Locked   bool   `json:"locked"`
}

type Message struct {
	Type     MessageType  `json:"type"`
	Score    *ScoreUpdate `json:"score,omitempty"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
}

type Subscriber struct {
	ID      string
	send    chan []byte
	dropped atomic.Int64
}

// Messages is closed when the subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans messages out to websocket subscribers. A slow subscriber never
// blocks the publisher, its messages are dropped once the queue is full.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueSize   int
	metrics     *metrics.Manager
	closed      bool
}

func NewHub(queueSize int, metrics *metrics.Manager) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		metrics:     metrics,
	}
}

// Subscribe returns nil once the hub is closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	sub := &Subscriber{
		ID:   uuid.NewString(),
		send: make(chan []byte, h.queueSize),
	}
	h.subscribers[sub.ID] = sub
	if h.metrics != nil {
		h.metrics.GaugeWSSubscribers.Inc()
	}
	log.Debugf("hub: subscriber %s added, %d total", sub.ID, len(h.subscribers))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	close(sub.send)
	if h.metrics != nil {
		h.metrics.GaugeWSSubscribers.Dec()
	}
	log.Debugf("hub: subscriber %s removed, dropped %d messages", sub.ID, sub.Dropped())
}

// Publish encodes msg once and queues it for every subscriber.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.subscribers) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("hub: marshal %s message: %s", msg.Type, err)
		return
	}

	for _, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			sub.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.CounterSnapshotsDropped.Inc()
			}
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close removes all subscribers, closing their message channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, sub := range h.subscribers {
		h.removeLocked(sub)
	}
}
