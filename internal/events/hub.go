package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

// Hub fans studio events out to the SSE subscribers of each workspace.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan model.StudioEvent
	seq  map[string]int64
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan model.StudioEvent{},
		seq:  map[string]int64{},
	}
}

func (h *Hub) Subscribe(workspaceID string, buf int) (string, <-chan model.StudioEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[workspaceID]; !ok {
		h.subs[workspaceID] = map[string]chan model.StudioEvent{}
	}
	ch := make(chan model.StudioEvent, buf)
	h.subs[workspaceID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		wsSubs, ok := h.subs[workspaceID]
		if !ok {
			return
		}
		c, ok := wsSubs[subID]
		if !ok {
			return
		}
		delete(wsSubs, subID)
		close(c)
		if len(wsSubs) == 0 {
			delete(h.subs, workspaceID)
		}
	}
	return subID, ch, unsubscribe
}

// Publish stamps the event with the workspace's next sequence number and
// delivers it without blocking.
func (h *Hub) Publish(workspaceID string, eventType model.StudioEventType, payload map[string]any) model.StudioEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq[workspaceID]++
	evt := model.StudioEvent{
		EventID:     uuid.NewString(),
		Seq:         h.seq[workspaceID],
		WorkspaceID: workspaceID,
		Type:        eventType,
		TS:          time.Now().UTC(),
		Payload:     payload,
	}
	for _, ch := range h.subs[workspaceID] {
		select {
		case ch <- evt:
		default:
			// Drop stale subscribers to keep producer non-blocking.
		}
	}
	return evt
}

// Emitter publishes events for a single workspace.
type Emitter interface {
	Emit(eventType model.StudioEventType, payload map[string]any)
}

type workspaceEmitter struct {
	hub *Hub
	id  string
}

func (e workspaceEmitter) Emit(eventType model.StudioEventType, payload map[string]any) {
	e.hub.Publish(e.id, eventType, payload)
}

func (h *Hub) Emitter(workspaceID string) Emitter {
	return workspaceEmitter{hub: h, id: workspaceID}
}

// Discard drops events and notices.
type Discard struct{}

func (Discard) Emit(model.StudioEventType, map[string]any) {}

func (Discard) Notify(Notice) {}
