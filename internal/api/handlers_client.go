package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
)

func (s *Server) clientBootstrap(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{
		"media_types": []model.MediaType{model.MediaImage, model.MediaVideo, model.MediaAudio, model.MediaMusic},
		"limits": gin.H{
			"min_prompt_length":    session.MinPromptLength,
			"max_upload_files":     mediaapi.MaxUploadFiles,
			"upscale_factors":      []string{"x2", "x4"},
			"reference_media_type": []model.MediaType{model.MediaImage, model.MediaVideo},
		},
		"reference_types": []model.ReferenceType{
			model.ReferenceDefault,
			model.ReferencePerson,
			model.ReferenceAnimal,
			model.ReferenceProduct,
			model.ReferenceStyle,
			model.ReferenceRaw,
			model.ReferenceControl,
			model.ReferenceMask,
		},
		"sse": gin.H{
			"heartbeat_sec": int(sseHeartbeat.Seconds()),
			"retry_ms":      2000,
		},
	})
}

func (s *Server) me(c *gin.Context) {
	email, _ := c.Get(ctxEmail)
	writeData(c, http.StatusOK, gin.H{
		"user_id": userIDFromContext(c),
		"email":   email,
	})
}
