// Package history keeps the paginated, filterable list of past generations
// and replays an item back into the studio session.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

const DefaultItemsPerPage = 12

var ErrMediaNotFound = errors.New("media item not found")

type Source interface {
	History(ctx context.Context, params model.HistoryParams) (*model.HistoryPage, error)
	GetMedia(ctx context.Context, id string) (*model.MediaResponse, error)
}

// Workspace is the part of the session controller replay writes to.
type Workspace interface {
	SetPrompt(prompt string)
	SetSelectedMediaType(mt model.MediaType, opts ...session.SelectOption) error
	SetMediaResponse(resp *model.MediaResponse)
}

type SettingsWriter interface {
	Update(mt model.MediaType, patch settings.Patch) error
}

type Filters struct {
	MediaType model.MediaType `json:"mediaType,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Search    string          `json:"search,omitempty"`
}

func (f Filters) Active() bool {
	return f.MediaType != "" || f.ProjectID != "" || f.Search != ""
}

type State struct {
	Items        []model.MediaResponse `json:"items"`
	CurrentPage  int                   `json:"currentPage"`
	TotalPages   int                   `json:"totalPages"`
	TotalItems   int                   `json:"totalItems"`
	ItemsPerPage int                   `json:"itemsPerPage"`
	Filters      Filters               `json:"filters"`
	Loading      bool                  `json:"loading"`
	LastFetched  time.Time             `json:"lastFetched,omitempty"`
	Selected     *model.MediaResponse  `json:"selected,omitempty"`
}

type Manager struct {
	src      Source
	ws       Workspace
	settings SettingsWriter
	notifier events.Notifier
	emitter  events.Emitter
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	fetchSeq uint64
}

func NewManager(src Source, ws Workspace, reg SettingsWriter, notifier events.Notifier, emitter events.Emitter, logger *slog.Logger, itemsPerPage int) *Manager {
	if itemsPerPage < 1 {
		itemsPerPage = DefaultItemsPerPage
	}
	if notifier == nil {
		notifier = events.Discard{}
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		src:      src,
		ws:       ws,
		settings: reg,
		notifier: notifier,
		emitter:  emitter,
		log:      logger,
		state: State{
			Items:        []model.MediaResponse{},
			CurrentPage:  1,
			ItemsPerPage: itemsPerPage,
		},
	}
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Items = append([]model.MediaResponse(nil), m.state.Items...)
	if s.Selected != nil {
		sel := *s.Selected
		s.Selected = &sel
	}
	return s
}

// Fetch loads one page. Zero fields of override fall back to the stored
// pagination and filters. On failure the stored page is left as it was.
func (m *Manager) Fetch(ctx context.Context, override model.HistoryParams) error {
	m.mu.Lock()
	filters := m.state.Filters
	params := model.HistoryParams{
		Page:      firstInt(override.Page, m.state.CurrentPage),
		Limit:     firstInt(override.Limit, m.state.ItemsPerPage),
		MediaType: model.MediaType(firstString(string(override.MediaType), string(filters.MediaType))),
		ProjectID: firstString(override.ProjectID, filters.ProjectID),
		Search:    firstString(override.Search, filters.Search),
		Status:    override.Status,
	}
	m.mu.Unlock()
	return m.load(ctx, params, filters)
}

// load runs one history request. Items, pagination and filters are stored
// together, and only when the request succeeds and is still the latest.
func (m *Manager) load(ctx context.Context, params model.HistoryParams, filters Filters) error {
	m.mu.Lock()
	m.fetchSeq++
	seq := m.fetchSeq
	m.state.Loading = true
	m.mu.Unlock()

	page, err := m.src.History(ctx, params)

	m.mu.Lock()
	if seq != m.fetchSeq {
		// A newer fetch owns the state now.
		m.mu.Unlock()
		return err
	}
	m.state.Loading = false
	if err != nil {
		m.mu.Unlock()
		m.log.Error("history_fetch_failed", "page", params.Page, "error", err)
		m.notify(events.LevelError, "Error fetching history", mediaapi.Message(err, "Failed to fetch media history"))
		return fmt.Errorf("fetch history: %w", err)
	}
	items := page.Data
	if items == nil {
		items = []model.MediaResponse{}
	}
	m.state.Items = items
	m.state.Filters = filters
	m.state.CurrentPage = firstInt(page.Meta.CurrentPage, params.Page)
	m.state.TotalPages = page.Meta.TotalPages
	m.state.TotalItems = page.Meta.TotalItems
	m.state.ItemsPerPage = firstInt(page.Meta.ItemsPerPage, params.Limit)
	m.state.LastFetched = time.Now().UTC()
	m.mu.Unlock()

	m.emitChanged()
	return nil
}

func (m *Manager) SetPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	return m.Fetch(ctx, model.HistoryParams{Page: page})
}

func (m *Manager) SetItemsPerPage(ctx context.Context, limit int) error {
	if limit < 1 {
		limit = DefaultItemsPerPage
	}
	return m.Fetch(ctx, model.HistoryParams{Page: 1, Limit: limit})
}

func (m *Manager) SetMediaTypeFilter(ctx context.Context, mt model.MediaType) error {
	if mt != "" && !mt.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, mt)
	}
	return m.setFilters(ctx, func(f *Filters) { f.MediaType = mt })
}

func (m *Manager) SetProjectFilter(ctx context.Context, projectID string) error {
	return m.setFilters(ctx, func(f *Filters) { f.ProjectID = projectID })
}

func (m *Manager) SetSearchFilter(ctx context.Context, search string) error {
	return m.setFilters(ctx, func(f *Filters) { f.Search = search })
}

func (m *Manager) SetFilters(ctx context.Context, filters Filters) error {
	if filters.MediaType != "" && !filters.MediaType.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, filters.MediaType)
	}
	return m.setFilters(ctx, func(f *Filters) { *f = filters })
}

func (m *Manager) ClearFilters(ctx context.Context) error {
	return m.setFilters(ctx, func(f *Filters) { *f = Filters{} })
}

// Any filter change goes back to page 1.
func (m *Manager) setFilters(ctx context.Context, fn func(*Filters)) error {
	m.mu.Lock()
	filters := m.state.Filters
	fn(&filters)
	params := model.HistoryParams{
		Page:      1,
		Limit:     m.state.ItemsPerPage,
		MediaType: filters.MediaType,
		ProjectID: filters.ProjectID,
		Search:    filters.Search,
	}
	m.mu.Unlock()
	return m.load(ctx, params, filters)
}

// NotifyCompletion shows a finished generation right away when the user is
// on the unfiltered first page, then refreshes from the server.
func (m *Manager) NotifyCompletion(ctx context.Context, item *model.MediaResponse) {
	if item != nil {
		m.mu.Lock()
		inserted := false
		if m.state.CurrentPage == 1 && !m.state.Filters.Active() {
			items := make([]model.MediaResponse, 0, len(m.state.Items)+1)
			items = append(items, *item)
			for _, existing := range m.state.Items {
				if existing.ID != item.ID {
					items = append(items, existing)
				}
			}
			if len(items) > m.state.ItemsPerPage {
				items = items[:m.state.ItemsPerPage]
			}
			m.state.Items = items
			m.state.TotalItems++
			inserted = true
		}
		m.mu.Unlock()
		if inserted {
			m.emitChanged()
		}
	}
	if err := m.Fetch(ctx, model.HistoryParams{}); err != nil {
		m.log.Warn("history_refresh_failed", "error", err)
	}
}

// ReplayID replays an item from the current page, or fetches it by id.
func (m *Manager) ReplayID(ctx context.Context, id string) error {
	m.mu.Lock()
	var found *model.MediaResponse
	for i := range m.state.Items {
		if m.state.Items[i].ID == id {
			item := m.state.Items[i]
			found = &item
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		item, err := m.src.GetMedia(ctx, id)
		if err != nil {
			m.log.Warn("replay_lookup_failed", "media_id", id, "error", err)
			m.notify(events.LevelError, "Error loading media", "Could not find the requested media item.")
			return fmt.Errorf("%w: %s: %w", ErrMediaNotFound, id, err)
		}
		found = item
	}
	return m.Replay(ctx, *found)
}

// Replay restores prompt, media type, result and settings from item.
func (m *Manager) Replay(_ context.Context, item model.MediaResponse) error {
	if !item.MediaType.Valid() {
		m.notify(events.LevelError, "Unsupported media type", fmt.Sprintf("Cannot load media of type %q.", item.MediaType))
		return fmt.Errorf("%w: %q", model.ErrUnsupportedMediaType, item.MediaType)
	}
	patch := PatchFromParameters(item.MediaType, item.Parameters)

	m.mu.Lock()
	selected := item
	m.state.Selected = &selected
	m.mu.Unlock()

	m.ws.SetPrompt(item.Prompt)
	if err := m.ws.SetSelectedMediaType(item.MediaType, session.KeepMediaResponse()); err != nil {
		return err
	}
	m.ws.SetMediaResponse(&item)
	if err := m.settings.Update(item.MediaType, patch); err != nil {
		return fmt.Errorf("replay settings: %w", err)
	}

	m.log.Info("history_replayed", "media_id", item.ID, "media_type", item.MediaType)
	m.notify(events.LevelSuccess, "Media loaded",
		fmt.Sprintf("Loaded %s generation: %s", item.MediaType.Lower(), truncate(item.Prompt, 30)))
	m.emitChanged()
	return nil
}

func (m *Manager) Selected() *model.MediaResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Selected == nil {
		return nil
	}
	sel := *m.state.Selected
	return &sel
}

func (m *Manager) ClearSelected() {
	m.mu.Lock()
	m.state.Selected = nil
	m.mu.Unlock()
	m.emitChanged()
}

// PatchFromParameters maps stored generation parameters back onto settings,
// filling gaps with the defaults the UI would show.
func PatchFromParameters(mt model.MediaType, params map[string]any) settings.Patch {
	switch mt {
	case model.MediaImage:
		return settings.ImagePatch{
			AspectRatio:         settings.Ptr(paramString(params, "aspectRatio", settings.DefaultImageAspect)),
			SampleCount:         settings.Ptr(paramInt(params, "sampleCount", settings.DefaultSampleCount)),
			Model:               settings.Ptr(paramString(params, "model", settings.DefaultImageModel)),
			AllowPeopleAndFaces: settings.Ptr(paramBool(params, "allowPeopleAndFaces", true)),
			NegativePrompt:      settings.Ptr(paramString(params, "negativePrompt", "")),
		}
	case model.MediaVideo:
		return settings.VideoPatch{
			AspectRatio:      settings.Ptr(paramString(params, "aspectRatio", settings.DefaultVideoAspect)),
			SampleCount:      settings.Ptr(paramInt(params, "sampleCount", settings.DefaultSampleCount)),
			DurationSeconds:  settings.Ptr(paramString(params, "durationSeconds", settings.DefaultVideoDuration)),
			EnhancePrompt:    settings.Ptr(paramBool(params, "enhancePrompt", true)),
			Model:            settings.Ptr(paramString(params, "model", settings.DefaultVideoModel)),
			Seed:             settings.Ptr(paramInt(params, "seed", settings.DefaultSeed)),
			PersonGeneration: settings.Ptr(paramString(params, "personGeneration", settings.DefaultPersonGenerate)),
			NegativePrompt:   settings.Ptr(paramString(params, "negativePrompt", "")),
		}
	case model.MediaMusic:
		return settings.MusicPatch{
			Model:          settings.Ptr(paramString(params, "model", settings.DefaultMusicModel)),
			Seed:           settings.Ptr(paramInt(params, "seed", settings.DefaultSeed)),
			NegativePrompt: settings.Ptr(paramString(params, "negativePrompt", "")),
		}
	case model.MediaAudio:
		return settings.AudioPatch{
			Model:           settings.Ptr(paramString(params, "model", settings.DefaultAudioModel)),
			Voice:           settings.Ptr(paramString(params, "voice", settings.DefaultAudioVoice)),
			Speed:           settings.Ptr(paramFloat(params, "speed", 1)),
			VolumeGain:      settings.Ptr(paramFloat(params, "volumeGain", 0)),
			AudioEncoding:   settings.Ptr(paramString(params, "audioEncoding", settings.DefaultAudioEncoding)),
			AudioSampleRate: settings.Ptr(paramString(params, "audioSampleRate", settings.DefaultAudioSampleHz)),
			Language:        settings.Ptr(paramString(params, "language", settings.DefaultAudioLanguage)),
			Seed:            settings.Ptr(paramInt(params, "seed", 0)),
			NegativePrompt:  settings.Ptr(paramString(params, "negativePrompt", "")),
		}
	}
	return nil
}

func (m *Manager) notify(level events.Level, title, message string) {
	m.notifier.Notify(events.Notice{Level: level, Title: title, Message: message})
}

func (m *Manager) emitChanged() {
	m.mu.Lock()
	payload := map[string]any{
		"currentPage": m.state.CurrentPage,
		"totalPages":  m.state.TotalPages,
		"totalItems":  m.state.TotalItems,
		"items":       len(m.state.Items),
	}
	m.mu.Unlock()
	m.emitter.Emit(model.EventHistoryChanged, payload)
}

func paramString(params map[string]any, key, fallback string) string {
	switch v := params[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		if v != 0 {
			return int(v)
		}
	case int:
		if v != 0 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n != 0 {
			return n
		}
	}
	return fallback
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func paramBool(params map[string]any, key string, fallback bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func firstInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
