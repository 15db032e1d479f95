package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

// Workspace is one user's studio: settings, references, the generation
// session and the history view, wired to each other.
type Workspace struct {
	ID         string
	Settings   *settings.Registry
	References *reference.Manager
	Session    *session.Controller
	History    *history.Manager
	CreatedAt  time.Time

	unsubscribe func()
}

func (w *Workspace) close() {
	w.unsubscribe()
	w.Session.Close()
}

type Deps struct {
	API             mediaapi.API
	Hub             *events.Hub
	Logger          *slog.Logger
	Session         session.Config
	Upload          reference.Options
	HistoryPageSize int
	// Sessions take extra options, for example a test sleep function.
	SessionOptions []session.Option
}

type MemoryStore struct {
	deps Deps

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewMemoryStore(deps Deps) *MemoryStore {
	if deps.Hub == nil {
		deps.Hub = events.NewHub()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &MemoryStore{deps: deps, workspaces: map[string]*Workspace{}}
}

func (s *MemoryStore) Hub() *events.Hub {
	return s.deps.Hub
}

// Workspace returns the workspace for id, creating it on first use.
func (s *MemoryStore) Workspace(id string) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[id]; ok {
		return ws
	}
	ws := s.newWorkspace(id)
	s.workspaces[id] = ws
	s.deps.Logger.Info("workspace_created", "workspace_id", id)
	return ws
}

// Close stops every workspace's poll loops.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	all := make([]*Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		all = append(all, ws)
	}
	s.workspaces = map[string]*Workspace{}
	s.mu.Unlock()
	for _, ws := range all {
		ws.close()
	}
}

func (s *MemoryStore) newWorkspace(id string) *Workspace {
	logger := s.deps.Logger.With("workspace_id", id)
	emitter := s.deps.Hub.Emitter(id)
	notifier := events.HubNotifier{Emitter: emitter}

	reg := settings.NewRegistry()
	refs := reference.NewManager(s.deps.API, logger, s.deps.Upload)

	opts := append([]session.Option{
		session.WithNotifier(notifier),
		session.WithEmitter(emitter),
	}, s.deps.SessionOptions...)
	ctrl := session.NewController(s.deps.API, refs, reg, logger, s.deps.Session, opts...)
	hist := history.NewManager(s.deps.API, ctrl, reg, notifier, emitter, logger, s.deps.HistoryPageSize)
	ctrl.SetCompletionNotifier(hist)

	// The image model follows whether references are saved.
	unsubscribe := refs.Subscribe(func(saved []model.Reference) {
		if reg.ApplyReferencePresence(len(saved) > 0) {
			logger.Info("image_model_switched", "model", reg.Image().Model)
		}
		emitter.Emit(model.EventReferencesChanged, map[string]any{
			"count": len(saved),
		})
	})

	return &Workspace{
		ID:          id,
		Settings:    reg,
		References:  refs,
		Session:     ctrl,
		History:     hist,
		CreatedAt:   time.Now().UTC(),
		unsubscribe: unsubscribe,
	}
}
