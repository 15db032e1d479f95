package mediaapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

type recorded struct {
	mu      sync.Mutex
	auth    []string
	queries []map[string]string
	paths   []string
	files   []string
	body    map[string]any
}

func (r *recorded) lastAuth() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.auth) == 0 {
		return ""
	}
	return r.auth[len(r.auth)-1]
}

func newFakeServer(t *testing.T) (*httptest.Server, *recorded) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &recorded{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		rec.mu.Lock()
		rec.auth = append(rec.auth, c.GetHeader("Authorization"))
		rec.mu.Unlock()
		c.Next()
	})
	r.POST("/media/image", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		rec.mu.Lock()
		rec.body = body
		rec.mu.Unlock()
		if body["prompt"] == "forbidden" {
			c.JSON(http.StatusBadRequest, gin.H{"message": []string{"prompt is not allowed", "try again"}, "error": "Bad Request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":        "media-1",
			"prompt":    body["prompt"],
			"mediaType": "IMAGE",
			"status":    "SUCCEEDED",
			"results":   []gin.H{{"id": "r1", "resultUrl": "https://cdn/x.png"}},
			"createdAt": time.Now().UTC().Format(time.RFC3339),
			"updatedAt": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.POST("/media/video/async", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"operationId": "operations/abc"})
	})
	r.GET("/media/video/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Query("operationId"), "status": "PROCESSING", "mediaType": "VIDEO"})
	})
	r.GET("/media/history", func(c *gin.Context) {
		rec.mu.Lock()
		rec.paths = append(rec.paths, c.Request.URL.Path)
		rec.queries = append(rec.queries, map[string]string{
			"page":      c.Query("page"),
			"limit":     c.Query("limit"),
			"mediaType": c.Query("mediaType"),
			"search":    c.Query("search"),
		})
		rec.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"data": []gin.H{},
			"meta": gin.H{"currentPage": 2, "itemCount": 0, "itemsPerPage": 12, "totalPages": 3, "totalItems": 30},
		})
	})
	r.GET("/media/:id", func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.JSON(http.StatusNotFound, gin.H{"message": "Media not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "SUCCEEDED", "mediaType": "AUDIO"})
	})
	r.POST("/files/upload", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "file is required"})
			return
		}
		f, _ := fh.Open()
		defer f.Close()
		data, _ := io.ReadAll(f)
		rec.mu.Lock()
		rec.files = append(rec.files, fh.Filename+":"+string(data))
		rec.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"gcsUri": "gs://bucket/" + fh.Filename, "signedUrl": "https://signed/" + fh.Filename})
	})
	r.GET("/unauthorized", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestClientGenerateImageSendsBearerAndBody(t *testing.T) {
	srv, rec := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL, Tokens: auth.StaticTokenSource("static-token")})

	resp, err := client.GenerateImage(context.Background(), model.ImageGenerationRequest{
		MediaBase:   model.MediaBase{ProjectID: "p1", Prompt: "a lighthouse", MediaType: model.MediaImage},
		AspectRatio: "1:1",
		SampleCount: 1,
		Model:       "imagen-3.0-generate-002",
	})
	require.NoError(t, err)
	assert.Equal(t, "media-1", resp.ID)
	assert.Equal(t, model.StatusSucceeded, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Bearer static-token", rec.lastAuth())
	assert.Equal(t, "p1", rec.body["projectId"])
	assert.Equal(t, "IMAGE", rec.body["mediaType"])

	// A token carried on the context wins over the token source.
	ctx := auth.ContextWithToken(context.Background(), "user-token")
	_, err = client.GenerateImage(ctx, model.ImageGenerationRequest{MediaBase: model.MediaBase{Prompt: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer user-token", rec.lastAuth())
}

func TestClientErrorMessageFromServer(t *testing.T) {
	srv, _ := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL})

	_, err := client.GenerateImage(context.Background(), model.ImageGenerationRequest{MediaBase: model.MediaBase{Prompt: "forbidden"}})
	require.Error(t, err)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "prompt is not allowed; try again", apiErr.Message)
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, "prompt is not allowed; try again", Message(err, "fallback"))
}

func TestClientUnauthorizedAndNotFound(t *testing.T) {
	srv, _ := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL})

	err := client.do(context.Background(), "test", http.MethodGet, "/unauthorized", nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.GetMedia(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	item, err := client.GetMedia(context.Background(), "m-7")
	require.NoError(t, err)
	assert.Equal(t, model.MediaAudio, item.MediaType)
}

func TestClientVideoOperationAndStatus(t *testing.T) {
	srv, _ := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL})

	op, err := client.GenerateVideo(context.Background(), model.VideoGenerationRequest{MediaBase: model.MediaBase{Prompt: "waves"}})
	require.NoError(t, err)
	assert.Equal(t, "operations/abc", op.OperationID)

	status, err := client.OperationStatus(context.Background(), op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, "operations/abc", status.ID)
	assert.Equal(t, model.StatusProcessing, status.Status)
}

func TestClientHistoryQuery(t *testing.T) {
	srv, rec := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL})

	page, err := client.History(context.Background(), model.HistoryParams{Page: 2, Limit: 12, MediaType: model.MediaVideo, Search: "cat"})
	require.NoError(t, err)
	assert.Equal(t, 30, page.Meta.TotalItems)
	assert.Equal(t, 3, page.Meta.TotalPages)

	require.Len(t, rec.queries, 1)
	assert.Equal(t, []string{"/media/history"}, rec.paths)
	assert.Equal(t, map[string]string{"page": "2", "limit": "12", "mediaType": "VIDEO", "search": "cat"}, rec.queries[0])
}

func TestClientUploadFile(t *testing.T) {
	srv, rec := newFakeServer(t)
	client := NewClient(Options{BaseURL: srv.URL})

	res, err := client.UploadFile(context.Background(), File{Name: "reference-1.png", ContentType: "image/png", Data: []byte("png-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/reference-1.png", res.GCSURI)
	assert.Equal(t, []string{"reference-1.png:png-bytes"}, rec.files)
}

func TestClientUploadFilesLimit(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	files := make([]File, MaxUploadFiles+1)
	_, err := client.UploadFiles(context.Background(), files)
	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestClientNoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Options{BaseURL: url, Timeout: time.Second})
	_, err := client.GetMedia(context.Background(), "x")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.Status)
	assert.Equal(t, "No response from server", apiErr.Message)
	assert.True(t, apiErr.Retryable)
}
