package events

import (
	"sync"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-facing message (the UI renders it as a toast).
type Notice struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Notifier interface {
	Notify(n Notice)
}

// HubNotifier sends notices down the workspace event stream.
type HubNotifier struct {
	Emitter Emitter
}

func (n HubNotifier) Notify(notice Notice) {
	n.Emitter.Emit(model.EventNotice, map[string]any{
		"level":   notice.Level,
		"title":   notice.Title,
		"message": notice.Message,
	})
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Find returns the last notice with the given title.
func (r *Recorder) Find(title string) (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notices) - 1; i >= 0; i-- {
		if r.notices[i].Title == title {
			return r.notices[i], true
		}
	}
	return Notice{}, false
}
