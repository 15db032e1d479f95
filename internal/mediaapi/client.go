// Package mediaapi is the client side of the remote generation API.
package mediaapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/metrics"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

// MaxUploadFiles is the server's limit for /files/upload-multiple.
const MaxUploadFiles = 10

type API interface {
	GenerateImage(ctx context.Context, req model.ImageGenerationRequest) (*model.MediaResponse, error)
	GenerateAudio(ctx context.Context, req model.AudioGenerationRequest) (*model.MediaResponse, error)
	GenerateMusic(ctx context.Context, req model.MusicGenerationRequest) (*model.MediaResponse, error)
	GenerateVideo(ctx context.Context, req model.VideoGenerationRequest) (*model.OperationResponse, error)
	OperationStatus(ctx context.Context, operationID string) (*model.MediaResponse, error)
	UpscaleImage(ctx context.Context, req model.ImageUpscaleRequest) (*model.MediaResponse, error)
	History(ctx context.Context, params model.HistoryParams) (*model.HistoryPage, error)
	GetMedia(ctx context.Context, id string) (*model.MediaResponse, error)
	UploadFile(ctx context.Context, f File) (*model.UploadResult, error)
	UploadFiles(ctx context.Context, files []File) (*model.MultiUploadResult, error)
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Tokens    auth.TokenSource
}

type Client struct {
	http    *resty.Client
	tokens  auth.TokenSource
	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 1
	}
	return &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetHeader("Accept", "application/json").
			SetTimeout(opts.Timeout),
		tokens:  opts.Tokens,
		limiter: rate.NewLimiter(limit, opts.RateBurst),
	}
}

var _ API = (*Client)(nil)

func (c *Client) GenerateImage(ctx context.Context, req model.ImageGenerationRequest) (*model.MediaResponse, error) {
	var out model.MediaResponse
	if err := c.do(ctx, "generate_image", http.MethodPost, "/media/image", jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateAudio(ctx context.Context, req model.AudioGenerationRequest) (*model.MediaResponse, error) {
	var out model.MediaResponse
	if err := c.do(ctx, "generate_audio", http.MethodPost, "/media/audio", jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateMusic(ctx context.Context, req model.MusicGenerationRequest) (*model.MediaResponse, error) {
	var out model.MediaResponse
	if err := c.do(ctx, "generate_music", http.MethodPost, "/media/music", jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateVideo(ctx context.Context, req model.VideoGenerationRequest) (*model.OperationResponse, error) {
	var out model.OperationResponse
	if err := c.do(ctx, "generate_video", http.MethodPost, "/media/video/async", jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OperationStatus(ctx context.Context, operationID string) (*model.MediaResponse, error) {
	var out model.MediaResponse
	err := c.do(ctx, "video_status", http.MethodGet, "/media/video/status", func(r *resty.Request) {
		r.SetQueryParam("operationId", operationID)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpscaleImage(ctx context.Context, req model.ImageUpscaleRequest) (*model.MediaResponse, error) {
	var out model.MediaResponse
	if err := c.do(ctx, "upscale_image", http.MethodPost, "/media/image/upscale", jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, params model.HistoryParams) (*model.HistoryPage, error) {
	var out model.HistoryPage
	err := c.do(ctx, "history", http.MethodGet, "/media/history", func(r *resty.Request) {
		r.SetQueryParams(historyQuery(params))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMedia(ctx context.Context, id string) (*model.MediaResponse, error) {
	var out model.MediaResponse
	err := c.do(ctx, "get_media", http.MethodGet, "/media/{id}", func(r *resty.Request) {
		r.SetPathParam("id", id)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UploadFile(ctx context.Context, f File) (*model.UploadResult, error) {
	var out model.UploadResult
	err := c.do(ctx, "upload_file", http.MethodPost, "/files/upload", func(r *resty.Request) {
		r.SetMultipartField("file", f.Name, f.ContentType, bytes.NewReader(f.Data))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UploadFiles(ctx context.Context, files []File) (*model.MultiUploadResult, error) {
	if len(files) > MaxUploadFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), MaxUploadFiles)
	}
	var out model.MultiUploadResult
	err := c.do(ctx, "upload_files", http.MethodPost, "/files/upload-multiple", func(r *resty.Request) {
		for _, f := range files {
			r.SetMultipartField("files", f.Name, f.ContentType, bytes.NewReader(f.Data))
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, configure func(*resty.Request), result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(err)
	}

	req := c.http.R().SetContext(ctx)
	if token := c.bearer(ctx); token != "" {
		req.SetAuthToken(token)
	}
	if configure != nil {
		configure(req)
	}
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		metrics.RecordAPICall(op, 0, time.Since(start))
		return transportError(err)
	}
	metrics.RecordAPICall(op, resp.StatusCode(), time.Since(start))
	if resp.IsError() {
		return responseError(resp.StatusCode(), resp.Body())
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) string {
	if token := auth.TokenFromContext(ctx); token != "" {
		return token
	}
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return ""
	}
	return token
}

func jsonBody(body any) func(*resty.Request) {
	return func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
}

func historyQuery(p model.HistoryParams) map[string]string {
	q := map[string]string{}
	if p.Page > 0 {
		q["page"] = strconv.Itoa(p.Page)
	}
	if p.Limit > 0 {
		q["limit"] = strconv.Itoa(p.Limit)
	}
	if p.MediaType != "" {
		q["mediaType"] = string(p.MediaType)
	}
	if p.ProjectID != "" {
		q["projectId"] = p.ProjectID
	}
	if p.Search != "" {
		q["search"] = p.Search
	}
	if p.Status != "" {
		q["status"] = p.Status
	}
	return q
}
