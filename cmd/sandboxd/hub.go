package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sandboxd/pkg/api"
)

// statusHub fans runtime status transitions out to websocket subscribers,
// keeping a bounded replay buffer per session so late subscribers see how the
// sandbox got to its current state.
type statusHub struct {
	mu      sync.Mutex
	buffers map[string]*statusBuffer
	limit   int
	seq     int64
}

type statusBuffer struct {
	mu     sync.Mutex
	events []api.StatusEvent
	subs   map[chan api.StatusEvent]struct{}
	limit  int
}

func newStatusHub(limit int) *statusHub {
	if limit <= 0 {
		limit = 64
	}
	return &statusHub{
		buffers: map[string]*statusBuffer{},
		limit:   limit,
	}
}

func (h *statusHub) nextSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return h.seq
}

func (h *statusHub) bufferFor(sid string) *statusBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.buffers[sid]
	if !ok {
		buf = &statusBuffer{
			events: make([]api.StatusEvent, 0, h.limit),
			subs:   map[chan api.StatusEvent]struct{}{},
			limit:  h.limit,
		}
		h.buffers[sid] = buf
	}
	return buf
}

func (h *statusHub) publish(evt api.StatusEvent) {
	buf := h.bufferFor(evt.SID)
	buf.mu.Lock()
	if len(buf.events) >= buf.limit {
		copy(buf.events, buf.events[1:])
		buf.events[len(buf.events)-1] = evt
	} else {
		buf.events = append(buf.events, evt)
	}
	for ch := range buf.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	buf.mu.Unlock()
}

func (h *statusHub) subscribe(sid string) (chan api.StatusEvent, []api.StatusEvent) {
	buf := h.bufferFor(sid)
	ch := make(chan api.StatusEvent, 16)
	buf.mu.Lock()
	buf.subs[ch] = struct{}{}
	snapshot := make([]api.StatusEvent, len(buf.events))
	copy(snapshot, buf.events)
	buf.mu.Unlock()
	return ch, snapshot
}

// unsubscribe is idempotent: the write loop and the disconnect watcher may
// both try to release the same subscription.
func (h *statusHub) unsubscribe(sid string, ch chan api.StatusEvent) {
	buf := h.bufferFor(sid)
	buf.mu.Lock()
	if _, ok := buf.subs[ch]; ok {
		delete(buf.subs, ch)
		close(ch)
	}
	buf.mu.Unlock()
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func writeEventJSON(conn *websocket.Conn, evt api.StatusEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func nowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
