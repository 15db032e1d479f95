package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	TraceID string          `json:"trace_id"`
}

type testServer struct {
	router http.Handler
	mock   *mediaapi.MockAPI
	token  string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := mediaapi.NewMockAPI()
	st := store.NewMemoryStore(store.Deps{
		API:     mock,
		Hub:     events.NewHub(),
		Logger:  logger,
		Session: session.Config{PollInterval: time.Millisecond, MaxPollAttempts: 5},
	})
	t.Cleanup(st.Close)

	authSvc := auth.NewService("test-secret")
	token, err := authSvc.IssueAccess("user-1", "user@example.com", time.Hour)
	require.NoError(t, err)

	srv := NewServer(authSvc, st, logger)
	return &testServer{router: srv.Router(), mock: mock, token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func TestHealthAndAuth(t *testing.T) {
	ts := setupTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, env.TraceID)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	anon := &testServer{router: ts.router}
	rec, env = anon.do(t, http.MethodGet, "/api/v1/studio/state", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	forged := &testServer{router: ts.router, token: "not-a-jwt"}
	rec, _ = forged.do(t, http.MethodGet, "/api/v1/studio/state", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, env)
	assert.Equal(t, "user-1", me["user_id"])
}

func TestQueryTokenOnlyOpensEventStream(t *testing.T) {
	ts := setupTestServer(t)
	anon := &testServer{router: ts.router}

	rec, env := anon.do(t, http.MethodGet, "/api/v1/studio/state?access_token="+ts.token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/studio/events?access_token="+ts.token, nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: snapshot")
}

func TestGenerateImageAndListHistory(t *testing.T) {
	ts := setupTestServer(t)

	rec, _ := ts.do(t, http.MethodPut, "/api/v1/studio/prompt", map[string]any{"prompt": "a red fox in snow"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{"project_id": "p1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[session.State](t, env)
	assert.Equal(t, session.PhaseComplete, state.Phase)
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, model.StatusSucceeded, state.MediaResponse.Status)
	assert.Equal(t, "a red fox in snow", state.MediaResponse.Prompt)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[history.State](t, env)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, state.MediaResponse.ID, hist.Items[0].ID)
	assert.Equal(t, 1, hist.TotalItems)
}

func TestGenerateValidationAndUpstreamErrors(t *testing.T) {
	ts := setupTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{"project_id": "p1", "prompt": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{"prompt": "a valid prompt"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{"project_id": "p1", "prompt": "this should fail"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Prompt was rejected by the safety filter", env.Error.Message)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Session session.State `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Session.IsGenerating)
	assert.Equal(t, session.PhaseFailed, st.Session.Phase)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{"project_id": "p1", "prompt": "a valid prompt", "media_type": "gif"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", env.Error.Code)
}

func TestGenerateVideoWaitsForPolling(t *testing.T) {
	ts := setupTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/studio/generate", map[string]any{
		"project_id": "p1",
		"prompt":     "waves crashing on a rocky shore",
		"media_type": "video",
		"wait":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[session.State](t, env)
	assert.Equal(t, model.MediaVideo, state.SelectedMediaType)
	assert.Equal(t, session.PhaseComplete, state.Phase)
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, model.StatusSucceeded, state.MediaResponse.Status)
	assert.Equal(t, 2, state.PollAttempts)
}

func TestSettingsRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rec, env := ts.do(t, http.MethodPatch, "/api/v1/studio/settings/video", map[string]any{"aspectRatio": "9:16", "durationSeconds": "8"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	video := decode[settings.VideoSettings](t, env)
	assert.Equal(t, "9:16", video.AspectRatio)
	assert.Equal(t, "8", video.DurationSeconds)
	assert.Equal(t, settings.DefaultVideoModel, video.Model)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/settings/VIDEO", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9:16", decode[settings.VideoSettings](t, env).AspectRatio)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/settings/hologram", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", env.Error.Code)
}

func TestReferenceRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/studio/references/draft", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[struct {
		Reference model.Reference `json:"reference"`
	}](t, env)
	refID := opened.Reference.ID
	require.NotEmpty(t, refID)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/references/draft/"+refID+"/images", map[string]any{
		"image_url":   "data:image/png;base64,iVBORw0KGgo=",
		"description": "the hero",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	img := decode[model.ReferenceImage](t, env)
	assert.Equal(t, model.SubjectTypeDefault, img.SecondaryReferenceType)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/studio/references/draft/missing/images", map[string]any{"image_url": "https://x/y.png"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/studio/references/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/settings/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.ImageCapabilityModel, decode[settings.ImageSettings](t, env).Model)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/references/upload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	uploaded := decode[struct {
		Saved []model.Reference `json:"saved"`
	}](t, env)
	require.Len(t, uploaded.Saved, 1)
	assert.NotEmpty(t, uploaded.Saved[0].Images[0].GCSURI)
	assert.Equal(t, 1, ts.mock.Uploads())

	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/studio/references/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/studio/references/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/settings/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.DefaultImageModel, decode[settings.ImageSettings](t, env).Model)
}

func TestHistoryFiltersAndReplay(t *testing.T) {
	ts := setupTestServer(t)
	now := time.Now().UTC()
	ts.mock.Seed(
		model.MediaResponse{ID: "m-audio", Prompt: "calm narration", MediaType: model.MediaAudio, Status: model.StatusSucceeded, ProjectID: "p1", CreatedAt: now},
		model.MediaResponse{
			ID: "m-video", Prompt: "city timelapse at night", MediaType: model.MediaVideo, Status: model.StatusSucceeded, ProjectID: "p1",
			Parameters: map[string]any{"aspectRatio": "9:16"}, CreatedAt: now.Add(-time.Minute),
		},
	)

	rec, env := ts.do(t, http.MethodPut, "/api/v1/studio/history/filters", map[string]any{"media_type": "video"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hist := decode[history.State](t, env)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, "m-video", hist.Items[0].ID)
	assert.Equal(t, model.MediaVideo, hist.Filters.MediaType)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/history/m-video/replay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replayed struct {
		Session  session.State   `json:"session"`
		Settings json.RawMessage `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &replayed))
	assert.Equal(t, model.MediaVideo, replayed.Session.SelectedMediaType)
	assert.Equal(t, "city timelapse at night", replayed.Session.Prompt)
	require.NotNil(t, replayed.Session.MediaResponse)
	assert.Equal(t, "m-video", replayed.Session.MediaResponse.ID)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/studio/settings/video", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9:16", decode[settings.VideoSettings](t, env).AspectRatio)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/studio/history/ghost/replay", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MEDIA_NOT_FOUND", env.Error.Code)

	rec, env = ts.do(t, http.MethodPut, "/api/v1/studio/history/page", map[string]any{"limit": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	hist = decode[history.State](t, env)
	assert.Equal(t, 1, hist.ItemsPerPage)
	assert.Equal(t, 1, hist.CurrentPage)
}
