package mediaapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

// MockAPI is an in-process generation API. Sync generations succeed after
// Latency; video operations report SUCCEEDED on the PollsUntilDone-th status
// call. Prompts containing "fail" produce a 400 error.
type MockAPI struct {
	PollsUntilDone int
	Latency        time.Duration
	BaseURL        string

	mu      sync.Mutex
	items   []model.MediaResponse
	ops     map[string]*mockOperation
	uploads int
	now     func() time.Time
}

type mockOperation struct {
	media model.MediaResponse
	polls int
}

func NewMockAPI() *MockAPI {
	return &MockAPI{
		PollsUntilDone: 2,
		BaseURL:        "https://storage.mock.local",
		ops:            map[string]*mockOperation{},
		now:            time.Now,
	}
}

var _ API = (*MockAPI)(nil)

func (m *MockAPI) GenerateImage(ctx context.Context, req model.ImageGenerationRequest) (*model.MediaResponse, error) {
	count := req.SampleCount
	if count < 1 {
		count = 1
	}
	return m.generate(ctx, req.MediaBase, count, "png", map[string]any{
		"aspectRatio":   req.AspectRatio,
		"sampleCount":   req.SampleCount,
		"model":         req.Model,
		"referenceData": len(req.ReferenceData),
	})
}

func (m *MockAPI) GenerateAudio(ctx context.Context, req model.AudioGenerationRequest) (*model.MediaResponse, error) {
	return m.generate(ctx, req.MediaBase, 1, "mp3", map[string]any{
		"durationSeconds": req.DurationSeconds,
		"audioStyle":      req.AudioStyle,
		"seed":            req.Seed,
	})
}

func (m *MockAPI) GenerateMusic(ctx context.Context, req model.MusicGenerationRequest) (*model.MediaResponse, error) {
	return m.generate(ctx, req.MediaBase, 1, "wav", map[string]any{
		"durationSeconds": req.DurationSeconds,
		"genre":           req.Genre,
		"instrument":      req.Instrument,
		"tempo":           req.Tempo,
		"seed":            req.Seed,
	})
}

func (m *MockAPI) GenerateVideo(ctx context.Context, req model.VideoGenerationRequest) (*model.OperationResponse, error) {
	if err := waitCancelable(ctx, m.Latency); err != nil {
		return nil, transportError(err)
	}
	if err := rejectPrompt(req.Prompt); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	media := model.MediaResponse{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		MediaType: model.MediaVideo,
		Status:    model.StatusProcessing,
		ProjectID: req.ProjectID,
		Parameters: map[string]any{
			"durationSeconds": req.DurationSeconds,
			"aspectRatio":     req.AspectRatio,
			"enhancePrompt":   req.EnhancePrompt,
			"sampleCount":     req.SampleCount,
			"model":           req.Model,
			"seed":            req.Seed,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	opID := "operations/" + uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[opID] = &mockOperation{media: media}
	return &model.OperationResponse{OperationID: opID}, nil
}

func (m *MockAPI) OperationStatus(ctx context.Context, operationID string) (*model.MediaResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[operationID]
	if !ok {
		return nil, &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Operation not found"}
	}
	op.polls++
	if op.polls < m.PollsUntilDone || op.media.Status == model.StatusSucceeded {
		out := op.media
		return &out, nil
	}

	now := m.now().UTC()
	op.media.Status = model.StatusSucceeded
	op.media.UpdatedAt = now
	op.media.Results = m.results(op.media, 1, "mp4", now)
	m.items = append([]model.MediaResponse{op.media}, m.items...)
	out := op.media
	return &out, nil
}

func (m *MockAPI) UpscaleImage(ctx context.Context, req model.ImageUpscaleRequest) (*model.MediaResponse, error) {
	if req.GCSURI == "" {
		return nil, &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "gcsUri is required"}
	}
	return m.generate(ctx, req.MediaBase, 1, "png", map[string]any{
		"upscaleFactor": req.UpscaleFactor,
		"source":        req.GCSURI,
	})
}

func (m *MockAPI) History(ctx context.Context, params model.HistoryParams) (*model.HistoryPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(err)
	}
	page, limit := params.Page, params.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 12
	}

	m.mu.Lock()
	filtered := make([]model.MediaResponse, 0, len(m.items))
	search := strings.ToLower(params.Search)
	for _, item := range m.items {
		if params.MediaType != "" && item.MediaType != params.MediaType {
			continue
		}
		if params.ProjectID != "" && item.ProjectID != params.ProjectID {
			continue
		}
		if params.Status != "" && string(item.Status) != params.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Prompt), search) {
			continue
		}
		filtered = append(filtered, item)
	}
	m.mu.Unlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	total := len(filtered)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	totalPages := (total + limit - 1) / limit
	data := append([]model.MediaResponse(nil), filtered[start:end]...)
	return &model.HistoryPage{
		Data: data,
		Meta: model.PageMeta{
			CurrentPage:  page,
			ItemCount:    len(data),
			ItemsPerPage: limit,
			TotalPages:   totalPages,
			TotalItems:   total,
		},
	}, nil
}

func (m *MockAPI) GetMedia(ctx context.Context, id string) (*model.MediaResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			out := item
			return &out, nil
		}
	}
	return nil, &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Media not found"}
}

func (m *MockAPI) UploadFile(ctx context.Context, f File) (*model.UploadResult, error) {
	if err := waitCancelable(ctx, m.Latency); err != nil {
		return nil, transportError(err)
	}
	if len(f.Data) == 0 {
		return nil, &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "File is empty"}
	}
	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), f.Name)
	return &model.UploadResult{
		GCSURI:    "gs://mock-bucket/" + key,
		SignedURL: m.BaseURL + "/" + key,
	}, nil
}

func (m *MockAPI) UploadFiles(ctx context.Context, files []File) (*model.MultiUploadResult, error) {
	if len(files) > MaxUploadFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), MaxUploadFiles)
	}
	out := &model.MultiUploadResult{Files: make([]model.UploadResult, 0, len(files))}
	for _, f := range files {
		res, err := m.UploadFile(ctx, f)
		if err != nil {
			return nil, err
		}
		out.Files = append(out.Files, *res)
	}
	return out, nil
}

// Uploads reports how many files were accepted.
func (m *MockAPI) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Seed adds finished items to the history, newest first.
func (m *MockAPI) Seed(items ...model.MediaResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(append([]model.MediaResponse(nil), items...), m.items...)
}

func (m *MockAPI) generate(ctx context.Context, base model.MediaBase, count int, ext string, params map[string]any) (*model.MediaResponse, error) {
	if err := waitCancelable(ctx, m.Latency); err != nil {
		return nil, transportError(err)
	}
	if err := rejectPrompt(base.Prompt); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	params["negativePrompt"] = base.NegativePrompt
	media := model.MediaResponse{
		ID:         uuid.NewString(),
		Prompt:     base.Prompt,
		MediaType:  base.MediaType,
		Status:     model.StatusSucceeded,
		Parameters: params,
		ProjectID:  base.ProjectID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	media.Results = m.results(media, count, ext, now)

	m.mu.Lock()
	m.items = append([]model.MediaResponse{media}, m.items...)
	m.mu.Unlock()
	return &media, nil
}

func (m *MockAPI) results(media model.MediaResponse, count int, ext string, now time.Time) []model.MediaResult {
	out := make([]model.MediaResult, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		key := fmt.Sprintf("projects/%s/%s/%s.%s", media.ProjectID, media.MediaType.Lower(), id, ext)
		out = append(out, model.MediaResult{
			ID:        id,
			MediaType: media.MediaType,
			ResultURL: m.BaseURL + "/" + key,
			GCSURI:    "gs://mock-bucket/" + key,
			CreatedAt: now,
		})
	}
	return out
}

func rejectPrompt(prompt string) error {
	if strings.Contains(strings.ToLower(prompt), "fail") {
		return &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Prompt was rejected by the safety filter"}
	}
	return nil
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
