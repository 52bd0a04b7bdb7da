package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const (
	// Buffer size for each subscriber's message channel
	SubscriberBuffer = 256
	// Buffer size for hub broadcast queue
	HubBroadcastBuffer = 2048
)

// Message types published by the launcher.
const (
	TypeState    = "state"
	TypeProgress = "progress"
	TypePipeline = "pipeline"
	TypeLog      = "log"
)

type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// NewMessage encodes v as JSON into a Message of the given type.
func NewMessage(typ string, v any) Message {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{Type: TypeLog, Msg: fmt.Sprintf("failed to encode %s message: %v", typ, err)}
	}
	return Message{Type: typ, Msg: string(data)}
}

// Line renders a message as a single "type: payload" line.
func (m Message) Line() string {
	return fmt.Sprintf("%s: %s", m.Type, m.Msg)
}

type subscriber struct {
	ch     chan Message
	name   string
	closed bool
}

// Hub fans out launcher events to in-process subscribers without ever
// blocking publishers. Slow subscribers lose messages.
type Hub struct {
	mu                sync.Mutex
	subs              map[*subscriber]struct{}
	broadcast         chan Message
	shutdown          chan struct{}
	shutdownOnce      sync.Once
	done              chan struct{}
	totalMessages     int64
	droppedBroadcasts int64
	droppedSubMsgs    int64
}

func NewHub() *Hub {
	h := &Hub{
		subs:      make(map[*subscriber]struct{}),
		broadcast: make(chan Message, HubBroadcastBuffer),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.runBroadcastLoop()
	return h
}

// Subscribe registers a named subscriber and returns its channel together
// with a function that unsubscribes and closes the channel.
func (h *Hub) Subscribe(name string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, SubscriberBuffer), name: name}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	log.Debugf("stream subscriber %s added (total: %d)", name, count)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.remove(sub) })
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	log.Debugf("stream subscriber %s removed (total: %d)", sub.name, len(h.subs))
}

// Broadcast enqueues a message for fan-out without blocking callers.
func (h *Hub) Broadcast(msg Message) {
	if h == nil {
		return
	}
	select {
	case <-h.shutdown:
		return
	default:
	}
	select {
	case h.broadcast <- msg:
	default:
		atomic.AddInt64(&h.droppedBroadcasts, 1)
	}
}

func (h *Hub) runBroadcastLoop() {
	defer close(h.done)
	for {
		select {
		case msg := <-h.broadcast:
			h.fanOut(msg)
		case <-h.shutdown:
			// Deliver what is already queued before closing subscribers.
			for {
				select {
				case msg := <-h.broadcast:
					h.fanOut(msg)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
			atomic.AddInt64(&h.totalMessages, 1)
		default:
			atomic.AddInt64(&h.droppedSubMsgs, 1)
		}
	}
}

// Stats returns counters describing hub activity.
func (h *Hub) Stats() map[string]int64 {
	h.mu.Lock()
	active := int64(len(h.subs))
	h.mu.Unlock()
	return map[string]int64{
		"subscribers":        active,
		"total_messages":     atomic.LoadInt64(&h.totalMessages),
		"dropped_broadcasts": atomic.LoadInt64(&h.droppedBroadcasts),
		"dropped_subscriber": atomic.LoadInt64(&h.droppedSubMsgs),
	}
}

// Shutdown flushes queued messages and closes every subscriber channel.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
		<-h.done
		h.mu.Lock()
		for sub := range h.subs {
			delete(h.subs, sub)
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		h.mu.Unlock()
		log.Debug("stream hub shutdown complete")
	})
}
