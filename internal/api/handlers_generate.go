package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
)

const sseHeartbeat = 15 * time.Second

type generateRequest struct {
	ProjectID string `json:"project_id"`
	Prompt    string `json:"prompt"`
	MediaType string `json:"media_type"`
	// Wait holds the response until an async generation settles.
	Wait bool `json:"wait"`
}

func (s *Server) generate(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	ws := s.workspace(c)
	if req.MediaType != "" {
		mt, err := model.ParseMediaType(req.MediaType)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		if mt != ws.Session.Snapshot().SelectedMediaType {
			if err := ws.Session.SetSelectedMediaType(mt); err != nil {
				writeServiceError(c, err)
				return
			}
		}
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = ws.Session.Snapshot().Prompt
	}

	ctx := c.Request.Context()
	if err := ws.Session.Submit(ctx, session.SubmitInput{ProjectID: req.ProjectID, Prompt: prompt}); err != nil {
		writeServiceError(c, err)
		return
	}
	state := ws.Session.Snapshot()
	if state.IsGenerating && req.Wait {
		waited, err := ws.Session.Wait(ctx)
		if err != nil {
			writeError(c, http.StatusGatewayTimeout, "WAIT_CANCELED", "Stopped waiting for the generation", true, nil)
			return
		}
		state = waited
	}
	status := http.StatusOK
	if state.IsGenerating {
		status = http.StatusAccepted
	}
	writeData(c, status, state)
}

type upscaleRequest struct {
	ProjectID     string `json:"project_id"`
	Prompt        string `json:"prompt"`
	GCSURI        string `json:"gcs_uri"`
	UpscaleFactor string `json:"upscale_factor"`
	Model         string `json:"model"`
}

func (s *Server) upscale(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req upscaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	resp, err := s.workspace(c).Session.Upscale(c.Request.Context(), session.UpscaleInput{
		ProjectID:     req.ProjectID,
		Prompt:        req.Prompt,
		GCSURI:        req.GCSURI,
		UpscaleFactor: req.UpscaleFactor,
		Model:         req.Model,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, resp)
}

// streamStudioEvents sends the current studio state, then every workspace
// event as it happens.
func (s *Server) streamStudioEvents(c *gin.Context) {
	ws := s.workspace(c)
	_, sub, unsubscribe := s.hub.Subscribe(ws.ID, 128)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}

	snapshot, _ := json.Marshal(buildStudioState(ws))
	fmt.Fprintf(c.Writer, "retry: 2000\n")
	fmt.Fprintf(c.Writer, "event: snapshot\n")
	fmt.Fprintf(c.Writer, "data: %s\n\n", snapshot)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(c, evt)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, evt model.StudioEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}
