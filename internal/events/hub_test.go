package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

func TestHubPublishSequencesPerWorkspace(t *testing.T) {
	hub := NewHub()
	_, ch, unsubscribe := hub.Subscribe("ws-1", 4)
	defer unsubscribe()

	first := hub.Publish("ws-1", model.EventStateChanged, map[string]any{"phase": "idle"})
	other := hub.Publish("ws-2", model.EventStateChanged, nil)
	second := hub.Publish("ws-1", model.EventHistoryChanged, nil)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(1), other.Seq)
	assert.Equal(t, int64(2), second.Seq)

	got := <-ch
	assert.Equal(t, first.EventID, got.EventID)
	got = <-ch
	assert.Equal(t, model.EventHistoryChanged, got.Type)
	assert.Len(t, ch, 0)
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	_, ch, unsubscribe := hub.Subscribe("ws", 1)

	hub.Publish("ws", model.EventNotice, nil)
	hub.Publish("ws", model.EventNotice, nil)
	assert.Len(t, ch, 1)

	unsubscribe()
	_, ok := <-ch
	require.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
	unsubscribe()
}

func TestHubNotifierEmitsNoticeEvents(t *testing.T) {
	hub := NewHub()
	_, ch, unsubscribe := hub.Subscribe("ws", 2)
	defer unsubscribe()

	HubNotifier{Emitter: hub.Emitter("ws")}.Notify(Notice{Level: LevelError, Title: "Generation failed", Message: "boom"})

	evt := <-ch
	assert.Equal(t, model.EventNotice, evt.Type)
	assert.Equal(t, "Generation failed", evt.Payload["title"])
	assert.Equal(t, "boom", evt.Payload["message"])
}
