package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
)

func (s *Server) getHistory(c *gin.Context) {
	hist := s.workspace(c).History
	ctx := c.Request.Context()
	var err error
	if raw := c.Query("page"); raw != "" {
		page, convErr := strconv.Atoi(raw)
		if convErr != nil || page < 1 {
			writeBadRequest(c, "page must be a positive integer")
			return
		}
		err = hist.SetPage(ctx, page)
	} else {
		err = hist.Fetch(ctx, model.HistoryParams{Status: c.Query("status")})
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, hist.Snapshot())
}

type historyFiltersRequest struct {
	MediaType string `json:"media_type"`
	ProjectID string `json:"project_id"`
	Search    string `json:"search"`
}

func (s *Server) putHistoryFilters(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req historyFiltersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	filters := history.Filters{ProjectID: req.ProjectID, Search: req.Search}
	if req.MediaType != "" {
		mt, err := model.ParseMediaType(req.MediaType)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		filters.MediaType = mt
	}
	hist := s.workspace(c).History
	if err := hist.SetFilters(c.Request.Context(), filters); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, hist.Snapshot())
}

type historyPageRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (s *Server) putHistoryPage(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req historyPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "Invalid request body")
		return
	}
	if req.Page < 0 || req.Limit < 0 {
		writeBadRequest(c, "page and limit must not be negative")
		return
	}
	hist := s.workspace(c).History
	ctx := c.Request.Context()
	if req.Limit > 0 && req.Limit != hist.Snapshot().ItemsPerPage {
		// A new page size starts from page 1.
		if err := hist.SetItemsPerPage(ctx, req.Limit); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	if req.Page > 0 {
		if err := hist.SetPage(ctx, req.Page); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	writeData(c, http.StatusOK, hist.Snapshot())
}

func (s *Server) replayHistory(c *gin.Context) {
	ws := s.workspace(c)
	if err := ws.History.ReplayID(c.Request.Context(), c.Param("media_id")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, buildStudioState(ws))
}
