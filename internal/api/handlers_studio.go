package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
)

type referencesView struct {
	Drafts []model.Reference     `json:"drafts"`
	Saved  []model.Reference     `json:"saved"`
	Upload reference.UploadState `json:"upload"`
}

type studioState struct {
	Session    session.State                `json:"session"`
	Settings   map[string]settings.Settings `json:"settings"`
	References referencesView               `json:"references"`
	History    history.State                `json:"history"`
}

func buildStudioState(ws *store.Workspace) studioState {
	return studioState{
		Session:    ws.Session.Snapshot(),
		Settings:   ws.Settings.All(),
		References: buildReferencesView(ws),
		History:    ws.History.Snapshot(),
	}
}

func buildReferencesView(ws *store.Workspace) referencesView {
	return referencesView{
		Drafts: ws.References.Drafts(),
		Saved:  ws.References.Saved(),
		Upload: ws.References.UploadState(),
	}
}

func (s *Server) getState(c *gin.Context) {
	writeData(c, http.StatusOK, buildStudioState(s.workspace(c)))
}

type mediaTypeRequest struct {
	MediaType string `json:"media_type" binding:"required"`
}

func (s *Server) putMediaType(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req mediaTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "media_type is required")
		return
	}
	mt, err := model.ParseMediaType(req.MediaType)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ws := s.workspace(c)
	if err := ws.Session.SetSelectedMediaType(mt); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, ws.Session.Snapshot())
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) putPrompt(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	ws := s.workspace(c)
	ws.Session.SetPrompt(req.Prompt)
	writeData(c, http.StatusOK, ws.Session.Snapshot())
}

func (s *Server) getSettings(c *gin.Context) {
	mt, err := model.ParseMediaType(c.Param("media_type"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	current, err := s.workspace(c).Settings.Get(mt)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, current)
}

func (s *Server) patchSettings(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	mt, err := model.ParseMediaType(c.Param("media_type"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	patch, err := settings.NewPatch(mt)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if err := c.ShouldBindJSON(patch); err != nil {
		writeBadRequest(c, "Invalid settings body")
		return
	}
	ws := s.workspace(c)
	if err := ws.Settings.Update(mt, patch); err != nil {
		writeServiceError(c, err)
		return
	}
	current, err := ws.Settings.Get(mt)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, current)
}
