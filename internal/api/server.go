package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
)

type Server struct {
	auth  *auth.Service
	store *store.MemoryStore
	hub   *events.Hub
	log   *slog.Logger
}

func NewServer(authSvc *auth.Service, st *store.MemoryStore, logger *slog.Logger) *Server {
	return &Server{
		auth:  authSvc,
		store: st,
		hub:   st.Hub(),
		log:   logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", func(c *gin.Context) {
		writeData(c, http.StatusOK, gin.H{"status": "ok"})
	})
	v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := v1.Group("")
	authed.Use(AuthMiddleware(s.auth))
	{
		authed.GET("/client/bootstrap", s.clientBootstrap)
		authed.GET("/me", s.me)

		studio := authed.Group("/studio")
		studio.GET("/state", s.getState)
		studio.PUT("/media-type", s.putMediaType)
		studio.PUT("/prompt", s.putPrompt)
		studio.GET("/settings/:media_type", s.getSettings)
		studio.PATCH("/settings/:media_type", s.patchSettings)

		studio.POST("/references/draft", s.openDraft)
		studio.PATCH("/references/draft/:ref_id", s.patchDraft)
		studio.DELETE("/references/draft/:ref_id", s.deleteDraft)
		studio.POST("/references/draft/:ref_id/images", s.addDraftImage)
		studio.PATCH("/references/draft/:ref_id/images/:image_id", s.patchDraftImage)
		studio.DELETE("/references/draft/:ref_id/images/:image_id", s.deleteDraftImage)
		studio.POST("/references/save", s.saveDraft)
		studio.GET("/references", s.listReferences)
		studio.DELETE("/references/:reference_id", s.deleteReference)
		studio.DELETE("/references", s.clearReferences)
		studio.POST("/references/upload", s.uploadReferences)

		studio.POST("/generate", s.generate)
		studio.POST("/upscale", s.upscale)
		studio.GET("/events", s.streamStudioEvents)

		studio.GET("/history", s.getHistory)
		studio.PUT("/history/filters", s.putHistoryFilters)
		studio.PUT("/history/page", s.putHistoryPage)
		studio.POST("/history/:media_id/replay", s.replayHistory)
	}

	return r
}

func (s *Server) workspace(c *gin.Context) *store.Workspace {
	return s.store.Workspace(userIDFromContext(c))
}
