package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

type fakeAPI struct {
	mu          sync.Mutex
	imageReqs   []model.ImageGenerationRequest
	videoReqs   []model.VideoGenerationRequest
	upscaleReqs []model.ImageUpscaleRequest
	syncErr     error
	imageID     string
	statusCalls int
	statusFn    func(call int) (*model.MediaResponse, error)
}

func (f *fakeAPI) GenerateImage(_ context.Context, req model.ImageGenerationRequest) (*model.MediaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageReqs = append(f.imageReqs, req)
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	id := f.imageID
	if id == "" {
		id = "image-1"
	}
	return &model.MediaResponse{ID: id, Prompt: req.Prompt, MediaType: model.MediaImage, Status: model.StatusSucceeded}, nil
}

func (f *fakeAPI) GenerateAudio(_ context.Context, req model.AudioGenerationRequest) (*model.MediaResponse, error) {
	return &model.MediaResponse{ID: "audio-1", Prompt: req.Prompt, MediaType: model.MediaAudio, Status: model.StatusSucceeded}, nil
}

func (f *fakeAPI) GenerateMusic(_ context.Context, req model.MusicGenerationRequest) (*model.MediaResponse, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &model.MediaResponse{ID: "music-1", Prompt: req.Prompt, MediaType: model.MediaMusic, Status: model.StatusSucceeded}, nil
}

func (f *fakeAPI) GenerateVideo(_ context.Context, req model.VideoGenerationRequest) (*model.OperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoReqs = append(f.videoReqs, req)
	return &model.OperationResponse{OperationID: "operations/video-1"}, nil
}

func (f *fakeAPI) OperationStatus(_ context.Context, _ string) (*model.MediaResponse, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return &model.MediaResponse{Status: model.StatusProcessing}, nil
	}
	return fn(call)
}

func (f *fakeAPI) UpscaleImage(_ context.Context, req model.ImageUpscaleRequest) (*model.MediaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upscaleReqs = append(f.upscaleReqs, req)
	return &model.MediaResponse{ID: "upscaled-1", MediaType: model.MediaImage, Status: model.StatusSucceeded}, nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type fakeRefs struct {
	refs []model.Reference
	err  error
}

func (f *fakeRefs) HasSaved() bool { return len(f.refs) > 0 }

func (f *fakeRefs) UploadSaved(context.Context) ([]model.Reference, error) {
	return model.CloneReferences(f.refs), f.err
}

type completions struct {
	mu  sync.Mutex
	ids []string
}

func (c *completions) NotifyCompletion(_ context.Context, item *model.MediaResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, item.ID)
}

func (c *completions) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	ctrl    *Controller
	api     *fakeAPI
	refs    *fakeRefs
	notices *events.Recorder
	done    *completions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:     &fakeAPI{},
		refs:    &fakeRefs{},
		notices: &events.Recorder{},
		done:    &completions{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.ctrl = NewController(h.api, h.refs, settings.NewRegistry(), logger,
		Config{PollInterval: time.Millisecond, MaxPollAttempts: 20},
		WithNotifier(h.notices),
		WithCompletionNotifier(h.done),
		WithSleep(noSleep),
	)
	t.Cleanup(h.ctrl.Close)
	return h
}

func waitSettled(t *testing.T, c *Controller) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestSubmitImageCompletes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "  a red fox  "}))

	state := h.ctrl.Snapshot()
	assert.Equal(t, PhaseComplete, state.Phase)
	assert.False(t, state.IsGenerating)
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, "image-1", state.MediaResponse.ID)
	assert.Equal(t, "a red fox", state.Prompt)
	assert.Equal(t, []string{"image-1"}, h.done.list())

	require.Len(t, h.api.imageReqs, 1)
	req := h.api.imageReqs[0]
	assert.Equal(t, "p1", req.ProjectID)
	assert.Equal(t, settings.DefaultImageModel, req.Model)
	assert.Empty(t, req.ReferenceData)

	_, ok := h.notices.Find("Generation complete")
	assert.True(t, ok)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.Submit(context.Background(), SubmitInput{Prompt: "a red fox"})
	assert.ErrorIs(t, err, ErrNoProject)
	_, ok := h.notices.Find("No project selected")
	assert.True(t, ok)

	err = h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: " ab "})
	assert.ErrorIs(t, err, ErrPromptTooShort)

	assert.Empty(t, h.api.imageReqs)
	assert.Equal(t, PhaseIdle, h.ctrl.Snapshot().Phase)
	assert.Equal(t, uint64(0), h.ctrl.Snapshot().Generation)
}

func TestSyncFailureResetsGenerating(t *testing.T) {
	h := newHarness(t)
	h.api.syncErr = &mediaapi.Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "prompt rejected"}
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaMusic))

	err := h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "calm piano"})
	require.Error(t, err)

	state := h.ctrl.Snapshot()
	assert.False(t, state.IsGenerating)
	assert.Nil(t, state.MediaResponse)
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, "prompt rejected", state.LastError)

	n, ok := h.notices.Find("Generation failed")
	require.True(t, ok)
	assert.Equal(t, "prompt rejected", n.Message)
	assert.Empty(t, h.done.list())
}

func TestVideoPollStopsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "ocean waves"}))
	state := waitSettled(t, h.ctrl)

	assert.Equal(t, 20, h.api.calls())
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.False(t, state.IsGenerating)
	assert.Nil(t, state.MediaResponse)
	assert.Equal(t, 20, state.PollAttempts)
	require.NotNil(t, state.OperationResponse)
	assert.Equal(t, "operations/video-1", state.OperationResponse.OperationID)

	_, ok := h.notices.Find("Generation timed out")
	assert.True(t, ok)
}

func TestVideoPollToleratesErrorsThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.api.statusFn = func(call int) (*model.MediaResponse, error) {
		switch call {
		case 1:
			return nil, errors.New("connection reset")
		case 2:
			return &model.MediaResponse{Status: model.StatusProcessing}, nil
		default:
			return &model.MediaResponse{ID: "video-1", MediaType: model.MediaVideo, Status: model.StatusSucceeded}, nil
		}
	}
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "ocean waves"}))
	state := waitSettled(t, h.ctrl)

	assert.Equal(t, 3, h.api.calls())
	assert.Equal(t, PhaseComplete, state.Phase)
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, "video-1", state.MediaResponse.ID)
	assert.Equal(t, []string{"video-1"}, h.done.list())
}

func TestVideoPollTreatsEmptyStatusAsTransient(t *testing.T) {
	h := newHarness(t)
	h.api.statusFn = func(call int) (*model.MediaResponse, error) {
		if call == 1 {
			return nil, nil
		}
		return &model.MediaResponse{ID: "video-1", MediaType: model.MediaVideo, Status: model.StatusSucceeded}, nil
	}
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "ocean waves"}))
	state := waitSettled(t, h.ctrl)

	assert.Equal(t, 2, h.api.calls())
	assert.Equal(t, PhaseComplete, state.Phase)
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, "video-1", state.MediaResponse.ID)
}

func TestVideoPollStopsOnFailedStatus(t *testing.T) {
	h := newHarness(t)
	h.api.statusFn = func(int) (*model.MediaResponse, error) {
		return &model.MediaResponse{Status: model.StatusFailed, Error: "quota exceeded"}, nil
	}
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "ocean waves"}))
	state := waitSettled(t, h.ctrl)

	assert.Equal(t, 1, h.api.calls())
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Contains(t, state.LastError, "quota exceeded")
}

func TestStaleVideoResultIsDropped(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.api.statusFn = func(call int) (*model.MediaResponse, error) {
		if call == 1 {
			close(entered)
		}
		<-release
		return &model.MediaResponse{ID: "video-A", MediaType: model.MediaVideo, Status: model.StatusSucceeded}, nil
	}
	h.api.imageID = "image-B"

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))
	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "generation A"}))
	<-entered

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaImage))
	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "generation B"}))

	close(release)
	h.ctrl.Close()

	state := h.ctrl.Snapshot()
	require.NotNil(t, state.MediaResponse)
	assert.Equal(t, "image-B", state.MediaResponse.ID)
	assert.Equal(t, PhaseComplete, state.Phase)
	assert.Equal(t, []string{"image-B"}, h.done.list())
}

func TestSwitchingMediaTypeCancelsPolling(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.api.statusFn = func(call int) (*model.MediaResponse, error) {
		if call == 1 {
			close(entered)
		}
		<-release
		return &model.MediaResponse{ID: "video-late", MediaType: model.MediaVideo, Status: model.StatusSucceeded}, nil
	}

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))
	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "ocean waves"}))
	<-entered

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaAudio))
	state := h.ctrl.Snapshot()
	assert.False(t, state.IsGenerating)
	assert.Equal(t, PhaseIdle, state.Phase)

	close(release)
	h.ctrl.Close()

	state = h.ctrl.Snapshot()
	assert.Equal(t, model.MediaAudio, state.SelectedMediaType)
	assert.Nil(t, state.MediaResponse)
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Equal(t, 1, h.api.calls())
	assert.Empty(t, h.done.list())
	_, ok := h.notices.Find("Generation complete")
	assert.False(t, ok)
}

func TestReferenceUploadFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.refs.refs = []model.Reference{{
		ID: "r1", ReferenceID: 1, ReferenceType: model.ReferencePerson,
		Images: []model.ReferenceImage{
			{ID: "ok", GCSURI: "gs://b/ok.png"},
			{ID: "bad", ImageURL: "data:image/png;base64,AAAA"},
		},
	}}
	h.refs.err = errors.New("storage unavailable")

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "portrait"}))

	require.Len(t, h.api.imageReqs, 1)
	refData := h.api.imageReqs[0].ReferenceData
	require.Len(t, refData, 1)
	assert.Equal(t, "gs://b/ok.png", refData[0].ReferenceImage.GCSURI)

	_, ok := h.notices.Find("Warning")
	assert.True(t, ok)
	state := h.ctrl.Snapshot()
	assert.Equal(t, PhaseComplete, state.Phase)
	assert.Len(t, state.Warnings, 1)
}

func TestVideoWithManyReferencesWarns(t *testing.T) {
	h := newHarness(t)
	h.api.statusFn = func(int) (*model.MediaResponse, error) {
		return &model.MediaResponse{ID: "v", Status: model.StatusSucceeded}, nil
	}
	h.refs.refs = []model.Reference{
		{ID: "r1", ReferenceID: 1, Images: []model.ReferenceImage{{ID: "a", GCSURI: "gs://b/a"}, {ID: "b", GCSURI: "gs://b/b"}}},
		{ID: "r2", ReferenceID: 2, Images: []model.ReferenceImage{{ID: "c", GCSURI: "gs://b/c"}}},
	}
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "dancing"}))
	waitSettled(t, h.ctrl)

	require.Len(t, h.api.videoReqs, 1)
	require.NotNil(t, h.api.videoReqs[0].ReferenceImage)
	assert.Equal(t, "gs://b/a", h.api.videoReqs[0].ReferenceImage.GCSURI)
	_, ok := h.notices.Find("Video Mode Constraints")
	assert.True(t, ok)
}

func TestAudioIgnoresReferences(t *testing.T) {
	h := newHarness(t)
	h.refs.refs = []model.Reference{{ID: "r1", ReferenceID: 1, Images: []model.ReferenceImage{{ID: "a", GCSURI: "gs://b/a"}}}}
	h.refs.err = errors.New("must not be called")
	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaAudio))

	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "hello there"}))
	_, warned := h.notices.Find("Warning")
	assert.False(t, warned)
	assert.Equal(t, "audio-1", h.ctrl.Snapshot().MediaResponse.ID)
}

func TestSetSelectedMediaTypeResetsUnlessKept(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Submit(context.Background(), SubmitInput{ProjectID: "p1", Prompt: "a red fox"}))
	require.NotNil(t, h.ctrl.Snapshot().MediaResponse)

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaVideo, KeepMediaResponse()))
	state := h.ctrl.Snapshot()
	assert.Equal(t, model.MediaVideo, state.SelectedMediaType)
	require.NotNil(t, state.MediaResponse)

	require.NoError(t, h.ctrl.SetSelectedMediaType(model.MediaImage))
	state = h.ctrl.Snapshot()
	assert.Nil(t, state.MediaResponse)
	assert.Nil(t, state.OperationResponse)
	assert.Equal(t, PhaseIdle, state.Phase)

	assert.ErrorIs(t, h.ctrl.SetSelectedMediaType("TEXT"), model.ErrUnsupportedMediaType)
}

func TestUpscale(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Upscale(context.Background(), UpscaleInput{ProjectID: "p1", GCSURI: "gs://b/x.png", UpscaleFactor: "x3"})
	assert.ErrorIs(t, err, ErrInvalidUpscaleFactor)
	_, err = h.ctrl.Upscale(context.Background(), UpscaleInput{ProjectID: "p1", UpscaleFactor: "x2"})
	assert.ErrorIs(t, err, ErrMissingUpscaleSource)

	resp, err := h.ctrl.Upscale(context.Background(), UpscaleInput{ProjectID: "p1", Prompt: "fox", GCSURI: "gs://b/x.png", UpscaleFactor: "x4"})
	require.NoError(t, err)
	assert.Equal(t, "upscaled-1", resp.ID)
	require.Len(t, h.api.upscaleReqs, 1)
	assert.Equal(t, model.MediaImage, h.api.upscaleReqs[0].MediaType)
	assert.Equal(t, "x4", h.api.upscaleReqs[0].UpscaleFactor)
	assert.Equal(t, PhaseIdle, h.ctrl.Snapshot().Phase)
	assert.Equal(t, []string{"upscaled-1"}, h.done.list())
}
