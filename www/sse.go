package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"ubcore/engine"
)

// streamEvent is one engine event prepared for the wire. Entities lists the
// identifiers the event touches so subscribers can follow a single entity.
type streamEvent struct {
	Type     string
	Data     []byte
	Entities []string
}

type streamClient struct {
	ch     chan streamEvent
	types  map[string]struct{}
	entity string
}

func (c *streamClient) wants(evt streamEvent) bool {
	if evt.Type == "keepalive" {
		return true
	}
	if len(c.types) > 0 {
		if _, ok := c.types[evt.Type]; !ok {
			return false
		}
	}
	if c.entity == "" {
		return true
	}
	for _, id := range evt.Entities {
		if id == c.entity {
			return true
		}
	}
	return false
}

// EventHub fans engine events out to connected SSE clients. Slow clients
// drop events rather than block the hub.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*streamClient]struct{}
	broadcast chan streamEvent
	stopOnce  sync.Once
	stopChan  chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*streamClient]struct{}),
		broadcast: make(chan streamEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

func (h *EventHub) Start() { go h.run() }

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.fanOut(evt)
		case <-keepalive.C:
			h.fanOut(streamEvent{Type: "keepalive", Data: []byte(`"ping"`)})
		}
	}
}

func (h *EventHub) fanOut(evt streamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

func (h *EventHub) publish(evt streamEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

func (h *EventHub) subscribe(types []string, entity string) *streamClient {
	c := &streamClient{ch: make(chan streamEvent, 64), entity: entity}
	if len(types) > 0 {
		c.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.types[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *EventHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners forwards every engine event, named after its type
// with the JSON payload as data.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			log.Printf("sse: encode %s: %v", evt.Type, err)
			return
		}
		h.publish(streamEvent{Type: string(evt.Type), Data: data, Entities: touched(evt.Payload)})
	})
}

func touched(payload any) []string {
	switch ev := payload.(type) {
	case engine.EntityCreatedEvent:
		return []string{ev.ID}
	case engine.EntityTransitionedEvent:
		return []string{ev.ID}
	case engine.EntityDeletedEvent:
		return []string{ev.ID}
	case engine.JobProgressEvent:
		return []string{ev.ID}
	case engine.CascadeAppliedEvent:
		ids := []string{ev.TriggerID}
		for _, eff := range ev.Effects {
			ids = append(ids, eff.ID)
		}
		return ids
	}
	return nil
}

// SSEHandler streams events. ?types=a,b limits event types and ?id= limits
// the stream to events touching one entity.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var types []string
	if v := r.URL.Query().Get("types"); v != "" {
		types = strings.Split(v, ",")
	}
	c := h.subscribe(types, r.URL.Query().Get("id"))
	defer h.unsubscribe(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-c.ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
